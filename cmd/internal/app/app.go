// Package app wires the vecavg runtime: config, logging, the credential store, the TCP
// acceptor and the optional ops HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"vecavg/cmd/internal/credentials"
	"vecavg/cmd/internal/metrics"
	"vecavg/cmd/internal/server"
	"vecavg/cmd/internal/session"
	"vecavg/cmd/security/digest"
)

// App is the vecavg runtime. It owns the credential store and its connection pool.
type App struct {
	cfg Config
	log Logger

	store   credentials.Store
	backend credentials.Backend
	dbPool  *pgxpool.Pool

	alg      digest.Algorithm
	reg      *prometheus.Registry
	engine   *session.Engine
	gate     *server.Gate
	throttle *server.AuthThrottle
}

// New opens the credential store and wires the session engine. Every failure here is a
// startup failure.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	alg, err := digest.ParseAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	st, backend, pool, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	engine := session.NewEngine(
		log,
		session.NewAuthenticator(st, alg),
		metrics.New(reg),
		session.Config{IOTimeout: cfg.IOTimeout},
	)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		backend:  backend,
		dbPool:   pool,
		alg:      alg,
		reg:      reg,
		engine:   engine,
		gate:     server.NewGate(cfg.MaxSessions),
		throttle: server.NewAuthThrottle(cfg.AuthFailureLimit, cfg.AuthFailureWindow),
	}, nil
}

// Run binds the protocol listener (and the ops listener when configured) and serves until
// ctx is cancelled or a listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := server.Listen(ctx, a.cfg.ListenAddr())
	if err != nil {
		a.log.Error("server.listen.fail", "addr", a.cfg.ListenAddr(), "err", err)
		return err
	}

	var opsLn net.Listener
	if a.cfg.OpsAddr != "" {
		opsLn, err = server.Listen(ctx, a.cfg.OpsAddr)
		if err != nil {
			a.log.Error("ops.listen.fail", "addr", a.cfg.OpsAddr, "err", err)
			_ = ln.Close()
			return err
		}
	}

	return a.Serve(ctx, ln, opsLn)
}

// Serve runs on already bound listeners. opsLn may be nil. Both listeners are closed on return.
func (a *App) Serve(ctx context.Context, ln, opsLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"backend", string(a.backend),
		"credentials", a.credentialCount(ctx),
		"hash", a.alg.String(),
		"io_timeout", a.cfg.IOTimeout,
		"max_sessions", a.gate.Size(),
	)

	g.Go(func() error {
		return server.NewAcceptor(a.log, a.engine, a.gate, server.WithThrottle(a.throttle)).Serve(gctx, ln)
	})

	if opsLn != nil {
		srv := a.newOpsServer(gctx)
		a.log.Info("ops.start", "addr", opsLn.Addr().String(), "ws", a.cfg.WSEnabled)

		g.Go(func() error {
			if err := srv.Serve(opsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("ops.shutdown.fail", "err", err)
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}

	a.log.Info("server.stop", "reason", "context_done")
	return nil
}

// Close releases the credential store and the database pool.
func (a *App) Close() error {
	err := a.store.Close()
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	return err
}

func (a *App) newOpsServer(ctx context.Context) *http.Server {
	var ws http.Handler
	if a.cfg.WSEnabled {
		ws = server.NewWSTransport(ctx, a.log, a.engine, a.gate, a.cfg.WSOriginPatterns, server.WithThrottle(a.throttle))
	}

	mux := http.NewServeMux()
	registerOps(mux, a.log, a.store, a.reg, ws)

	return &http.Server{
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func (a *App) credentialCount(ctx context.Context) int {
	c, ok := a.store.(credentials.Counter)
	if !ok {
		return -1
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := c.Count(ctx)
	if err != nil {
		a.log.Info("credentials.count.fail", "err", err)
		return -1
	}
	return n
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// openStore picks the credential backend from cfg. The file backend is loaded eagerly so
// a malformed file is a startup failure.
func openStore(ctx context.Context, cfg Config, log Logger) (credentials.Store, credentials.Backend, *pgxpool.Pool, error) {
	if cfg.CredentialsPath != "" {
		st, err := credentials.LoadFile(cfg.CredentialsPath)
		if err != nil {
			return nil, "", nil, fmt.Errorf("load credentials: %w", err)
		}
		for _, login := range st.Duplicates() {
			log.Info("credentials.duplicate", "login", login, "path", cfg.CredentialsPath)
		}
		log.Info("credentials.loaded", "backend", string(credentials.BackendFile), "path", cfg.CredentialsPath, "count", st.Len())
		return st, credentials.BackendFile, nil, nil
	}

	backend, err := credentials.BackendForDSN(cfg.CredentialsDSN)
	if err != nil {
		return nil, "", nil, err
	}

	switch backend {
	case credentials.BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, "", nil, err
		}
		st, err := credentials.NewPostgresStore(pool, credentials.WithSchema(cfg.PGSchema))
		if err != nil {
			pool.Close()
			return nil, "", nil, err
		}
		log.Info("credentials.backend", "backend", string(backend), "schema", cfg.PGSchema)
		return st, backend, pool, nil

	case credentials.BackendRedis:
		st, err := credentials.OpenRedis(ctx, cfg.CredentialsDSN, cfg.RedisKey)
		if err != nil {
			return nil, "", nil, err
		}
		log.Info("credentials.backend", "backend", string(backend))
		return st, backend, nil, nil
	}

	return nil, "", nil, fmt.Errorf("%w: %s", credentials.ErrUnsupportedDSN, backend)
}
