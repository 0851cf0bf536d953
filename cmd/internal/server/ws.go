package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"vecavg/cmd/internal/session"
)

const (
	// Subprotocol must be offered by WebSocket clients.
	Subprotocol = "vecavg.v1"

	// wsReadLimit is the largest legal session stream: a full handshake followed by a
	// maximal batch of maximal vectors.
	wsReadLimit = session.MaxHandshakeBytes + 4 + session.MaxVectors*(4+8*session.MaxVectorSize)
)

// WSTransport carries the same byte stream as the TCP acceptor inside binary WebSocket
// messages. Message boundaries carry no meaning, except that the handshake must arrive
// before the batch and a single message may not exceed wsReadLimit bytes.
type WSTransport struct {
	base    context.Context
	log     *slog.Logger
	handler ConnHandler
	gate    *Gate
	opts    options

	originPatterns []string
}

// NewWSTransport builds the handler. Cancelling base ends every running WebSocket session.
func NewWSTransport(base context.Context, log *slog.Logger, handler ConnHandler, gate *Gate, originPatterns []string, opts ...Option) *WSTransport {
	if log == nil {
		log = slog.Default()
	}
	if gate == nil {
		gate = NewGate(1)
	}
	return &WSTransport{
		base:           base,
		log:            log,
		handler:        handler,
		gate:           gate,
		opts:           buildOptions(opts),
		originPatterns: originPatterns,
	}
}

// ServeHTTP upgrades the request and runs one session over it.
func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.opts.throttle.Allow(hostOf(r.RemoteAddr), time.Now()) {
		t.log.Info("accept.throttled", "remote", r.RemoteAddr, "transport", "ws")
		http.Error(w, "too many failed handshakes", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: t.originPatterns,
	})
	if err != nil {
		t.log.Info("ws.accept.fail", "err", err, "remote", r.RemoteAddr)
		return
	}

	if sp := conn.Subprotocol(); sp != Subprotocol {
		t.log.Info("ws.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(t.base, cancel)
	defer stop()

	if err := t.gate.Enter(ctx); err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer t.gate.Leave()

	t.log.Debug("accept.conn", "remote", r.RemoteAddr, "transport", "ws")
	runSession(ctx, t.handler, t.opts.throttle, websocket.NetConn(ctx, conn, websocket.MessageBinary), r.RemoteAddr)
}
