package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"vecavg/cmd/internal/session"
)

// ConnHandler runs one protocol session and closes conn before returning.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn) error
}

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = 1 * time.Second
)

// Option configures an Acceptor or a WSTransport.
type Option func(*options)

type options struct {
	throttle *AuthThrottle
}

// WithThrottle refuses hosts that exceed the throttle's failed-handshake budget.
func WithThrottle(t *AuthThrottle) Option {
	return func(o *options) { o.throttle = t }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Acceptor hands TCP connections to a ConnHandler. It takes a gate slot before each
// session, so with a gate of size 1 the next session starts only after the previous one
// closed.
type Acceptor struct {
	log     *slog.Logger
	handler ConnHandler
	gate    *Gate
	opts    options

	wg sync.WaitGroup
}

// NewAcceptor constructs an Acceptor. A nil gate gets a private one of size 1.
func NewAcceptor(log *slog.Logger, handler ConnHandler, gate *Gate, opts ...Option) *Acceptor {
	if log == nil {
		log = slog.Default()
	}
	if gate == nil {
		gate = NewGate(1)
	}
	return &Acceptor{log: log, handler: handler, gate: gate, opts: buildOptions(opts)}
}

// Listen binds a TCP listener on addr.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts on ln until ctx is done, then closes ln, waits for running sessions and
// returns nil. A connection is only accepted once the gate has room for it, so with a
// gate of one the next client stays in the listen backlog until the current session has
// closed. Accept failures are logged and retried with a short backoff.
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer a.wg.Wait()

	var backoff time.Duration
	for {
		if err := a.gate.Enter(ctx); err != nil {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			a.gate.Leave()
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			backoff = nextBackoff(backoff)
			a.log.Info("accept.fail", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		remote := conn.RemoteAddr().String()
		if !a.opts.throttle.Allow(hostOf(remote), time.Now()) {
			a.gate.Leave()
			a.log.Info("accept.throttled", "remote", remote, "transport", "tcp")
			_ = conn.Close()
			continue
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.gate.Leave()
			a.log.Debug("accept.conn", "remote", remote, "transport", "tcp")
			runSession(ctx, a.handler, a.opts.throttle, conn, remote)
		}()
	}
}

// runSession serves conn and charges rejected handshakes to the remote host. Credential
// backend outages are not the client's fault and are not charged.
func runSession(ctx context.Context, h ConnHandler, throttle *AuthThrottle, conn net.Conn, remote string) {
	err := h.ServeConn(ctx, conn)
	if session.Rejected(err) && !errors.Is(err, session.ErrCredentialBackend) {
		throttle.Fail(hostOf(remote), time.Now())
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return acceptBackoffMin
	}
	d *= 2
	if d > acceptBackoffMax {
		d = acceptBackoffMax
	}
	return d
}
