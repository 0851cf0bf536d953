package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"vecavg/cmd/internal/ids"
	"vecavg/cmd/internal/vector"
)

// Batch limits.
const (
	MaxVectors    = 100
	MaxVectorSize = 100000
)

// Config tunes per-connection behavior.
type Config struct {
	// IOTimeout bounds every single read or write. Zero blocks indefinitely.
	IOTimeout time.Duration
}

// Engine creates and runs sessions. It holds only read-only collaborators and may be
// shared by several transports.
type Engine struct {
	log  *slog.Logger
	auth *Authenticator
	obs  Observer
	cfg  Config
}

// NewEngine wires an Engine. A nil observer discards events.
func NewEngine(log *slog.Logger, auth *Authenticator, obs Observer, cfg Config) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Engine{log: log, auth: auth, obs: obs, cfg: cfg}
}

// ServeConn runs one session on conn to completion. conn is always closed on return.
func (e *Engine) ServeConn(ctx context.Context, conn net.Conn) error {
	return e.NewSession(conn).Run(ctx)
}

// NewSession wraps conn in a Session in the Connected state.
func (e *Engine) NewSession(conn net.Conn) *Session {
	now := time.Now().UTC()
	id := ids.MustSessionID(now)
	return &Session{
		ID:      id,
		engine:  e,
		conn:    conn,
		wire:    newFramer(conn, e.cfg.IOTimeout),
		state:   StateConnected,
		started: now,
		log: e.log.With(
			"session_id", id,
			"remote", remoteAddr(conn),
		),
	}
}

// Session is the state of one connection. Only Run mutates it.
type Session struct {
	ID string

	engine *Engine
	conn   net.Conn
	wire   *framer
	log    *slog.Logger

	state         State
	authenticated bool
	login         string
	vectors       int
	started       time.Time

	closeOnce sync.Once
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Login returns the authenticated login, or "" before authentication.
func (s *Session) Login() string { return s.login }

// Authenticated reports whether the handshake succeeded.
func (s *Session) Authenticated() bool { return s.authenticated }

// Run drives the session from Connected to Closed. Cancelling ctx closes the connection,
// which unblocks any pending read or write.
func (s *Session) Run(ctx context.Context) (err error) {
	stop := context.AfterFunc(ctx, s.closeConn)

	defer func() {
		stop()
		if cerr := s.transition(StateClosed); cerr != nil && err == nil {
			err = cerr
		}
		s.finish(err)
	}()

	s.log.Info("session.open")

	if err := s.transition(StateAuthenticating); err != nil {
		return err
	}
	if err := s.authenticate(ctx); err != nil {
		return err
	}
	if err := s.transition(StateProcessingVectors); err != nil {
		return err
	}
	return s.processBatch()
}

func (s *Session) transition(to State) error {
	if s.state == StateClosed && to == StateClosed {
		return nil
	}
	if !CanTransition(s.state, to) {
		return protoErr("transition", ErrInvalidTransition, fmt.Errorf("%s -> %s", s.state, to))
	}
	s.log.Debug("session.state", "from", s.state.String(), "to", to.String())
	s.state = to
	if to == StateClosed {
		s.closeConn()
	}
	return nil
}

// closeConn releases the connection exactly once.
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("session.close.fail", "err", err)
		}
	})
}

func (s *Session) finish(err error) {
	d := time.Since(s.started)
	outcome := Outcome(err)
	s.engine.obs.SessionDone(outcome, d)

	attrs := []any{
		"outcome", outcome,
		"vectors", s.vectors,
		"duration_ms", d.Milliseconds(),
	}
	if s.login != "" {
		attrs = append(attrs, "login", s.login)
	}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	s.log.Info("session.close", attrs...)
}

// authenticate reads the handshake in one read. Anything the client sent after it in the
// same segment is part of the message.
func (s *Session) authenticate(ctx context.Context) error {
	buf := make([]byte, MaxHandshakeBytes)
	n, err := s.wire.readMessage(buf)
	if err != nil {
		s.engine.obs.HandshakeDone("transport")
		s.log.Info("session.auth.transport", "err", err)
		return protoErr("handshake.read", ErrTransport, err)
	}

	req, err := ParseHandshake(buf[:n])
	if err == nil {
		err = s.engine.auth.Verify(ctx, req)
	}
	if err != nil {
		return s.reject(req.Login, err)
	}

	if werr := s.wire.write([]byte(ResponseOK)); werr != nil {
		s.engine.obs.HandshakeDone("transport")
		s.log.Info("session.auth.transport", "login", req.Login, "err", werr)
		return protoErr("handshake.write", ErrTransport, werr)
	}

	s.login = req.Login
	s.authenticated = true
	s.engine.obs.HandshakeDone("ok")
	s.log.Info("session.auth.ok", "login", req.Login)
	return s.transition(StateAuthenticated)
}

func (s *Session) reject(login string, cause error) error {
	result := Outcome(cause)
	s.engine.obs.HandshakeDone(result)

	level := slog.LevelInfo
	if errors.Is(cause, ErrCredentialBackend) {
		level = slog.LevelWarn
	}
	s.log.Log(context.Background(), level, "session.auth.reject", "login", login, "reason", result, "err", cause)

	if werr := s.wire.write([]byte(ResponseERR)); werr != nil {
		s.log.Info("session.auth.reject_write", "err", werr)
	}
	return fmt.Errorf("handshake: %w", cause)
}

func (s *Session) processBatch() error {
	count, err := s.wire.readUint32()
	if err != nil {
		s.log.Info("batch.transport", "step", "count", "err", err)
		return protoErr("batch.count", ErrTransport, err)
	}
	if count == 0 || count > MaxVectors {
		s.log.Warn("batch.bounds", "count", count, "max", MaxVectors)
		return protoErr("batch.count", ErrBatchBounds, fmt.Errorf("count %d outside 1..%d", count, MaxVectors))
	}
	if err := s.wire.writeUint32(count); err != nil {
		s.log.Info("batch.transport", "step", "ack", "err", err)
		return protoErr("batch.ack", ErrTransport, err)
	}

	var acc vector.Accumulator
	for i := uint32(0); i < count; i++ {
		size, err := s.wire.readUint32()
		if err != nil {
			s.log.Info("batch.transport", "step", "size", "vector", i, "err", err)
			return protoErr("batch.size", ErrTransport, err)
		}
		if size > MaxVectorSize {
			s.log.Warn("batch.bounds", "vector", i, "size", size, "max", MaxVectorSize)
			return protoErr("batch.size", ErrBatchBounds, fmt.Errorf("size %d exceeds %d", size, MaxVectorSize))
		}

		acc.Reset()
		if err := s.wire.readInt64s(size, acc.Add); err != nil {
			s.log.Info("batch.transport", "step", "data", "vector", i, "err", err)
			return protoErr("batch.data", ErrTransport, err)
		}

		avg := acc.Average()
		if err := s.wire.writeInt64(avg); err != nil {
			s.log.Info("batch.transport", "step", "result", "vector", i, "err", err)
			return protoErr("batch.result", ErrTransport, err)
		}

		s.vectors++
		s.engine.obs.VectorDone(size, acc.Overflowed())
		if acc.Overflowed() {
			s.log.Info("batch.overflow", "vector", i, "size", size)
		}
	}

	s.log.Info("batch.done", "count", count)
	return nil
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
