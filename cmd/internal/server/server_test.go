package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vecavg/cmd/internal/client"
	"vecavg/cmd/internal/credentials"
	"vecavg/cmd/internal/session"
	"vecavg/cmd/security/digest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine() *session.Engine {
	store := credentials.NewMemoryStore([]credentials.Credential{
		{Login: "alice", Secret: "wonderland"},
		{Login: "bob", Secret: "P@ssw0rd"},
	})
	auth := session.NewAuthenticator(store, digest.SHA256)
	return session.NewEngine(testLogger(), auth, nil, session.Config{})
}

// startAcceptor serves on a loopback port and stops when the test ends.
func startAcceptor(t *testing.T, gate *Gate) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- NewAcceptor(testLogger(), testEngine(), gate).Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v want nil", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Serve did not stop after cancel")
		}
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, addr, digest.SHA256)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAcceptor_Scenario(t *testing.T) {
	t.Parallel()

	addr := startAcceptor(t, NewGate(1))
	c := dial(t, addr)

	if err := c.Authenticate("bob", "P@ssw0rd"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	got, err := c.Averages([][]int64{{10, 20, 30}, {}})
	if err != nil {
		t.Fatalf("Averages: %v", err)
	}
	if diff := cmp.Diff([]int64{20, 0}, got); diff != "" {
		t.Fatalf("averages mismatch (-want +got):\n%s", diff)
	}
}

func TestAcceptor_RejectsBadSecret(t *testing.T) {
	t.Parallel()

	addr := startAcceptor(t, NewGate(1))
	c := dial(t, addr)

	if err := c.Authenticate("bob", "nope"); !errors.Is(err, client.ErrRejected) {
		t.Fatalf("Authenticate err=%v want ErrRejected", err)
	}
}

func TestAcceptor_ServesOneSessionAtATime(t *testing.T) {
	t.Parallel()

	addr := startAcceptor(t, NewGate(1))

	first := dial(t, addr)
	if err := first.Authenticate("alice", "wonderland"); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}

	// The second connection completes in the listen backlog but is not accepted yet.
	type result struct{ err error }
	second := dial(t, addr)
	secondDone := make(chan result, 1)
	go func() { secondDone <- result{err: second.Authenticate("bob", "P@ssw0rd")} }()

	select {
	case r := <-secondDone:
		t.Fatalf("second session answered while first was open: %v", r.err)
	case <-time.After(200 * time.Millisecond):
	}

	if _, err := first.Averages([][]int64{{1}}); err != nil {
		t.Fatalf("first Averages: %v", err)
	}

	select {
	case r := <-secondDone:
		if r.err != nil {
			t.Fatalf("second Authenticate: %v", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second session never served")
	}
}

// countingListener records how many connections Serve has taken from the listener.
type countingListener struct {
	net.Listener
	accepts atomic.Int32
}

func (l *countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.accepts.Add(1)
	}
	return c, err
}

func TestAcceptor_DoesNotAcceptWhileGateIsFull(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ln := &countingListener{Listener: inner}

	gate := NewGate(1)
	if !gate.TryEnter() {
		t.Fatalf("TryEnter failed")
	}

	done := make(chan error, 1)
	go func() { done <- NewAcceptor(testLogger(), testEngine(), gate).Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", inner.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(200 * time.Millisecond)
	if n := ln.accepts.Load(); n != 0 {
		t.Fatalf("accepted %d connections while the gate was full, want 0", n)
	}

	gate.Leave()
	deadline := time.Now().Add(5 * time.Second)
	for ln.accepts.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("connection never accepted after the gate opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = conn.Close()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not stop after cancel")
	}
}

func TestAcceptor_ContinuesAfterFailedSession(t *testing.T) {
	t.Parallel()

	addr := startAcceptor(t, NewGate(1))

	bad := dial(t, addr)
	if err := bad.SendCount(1); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = bad.Close()

	good := dial(t, addr)
	if err := good.Authenticate("alice", "wonderland"); err != nil {
		t.Fatalf("Authenticate after failed session: %v", err)
	}
}

func TestAcceptor_ServeReturnsErrorWhenListenerClosedExternally(t *testing.T) {
	t.Parallel()

	ln, err := Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	_ = ln.Close()

	err = NewAcceptor(testLogger(), testEngine(), nil).Serve(context.Background(), ln)
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Serve err=%v want net.ErrClosed", err)
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	var d time.Duration
	var got []time.Duration
	for range 10 {
		d = nextBackoff(d)
		got = append(got, d)
	}
	if got[0] != acceptBackoffMin {
		t.Fatalf("first backoff=%v want=%v", got[0], acceptBackoffMin)
	}
	if last := got[len(got)-1]; last != acceptBackoffMax {
		t.Fatalf("last backoff=%v want=%v", last, acceptBackoffMax)
	}
}

func TestGate(t *testing.T) {
	t.Parallel()

	g := NewGate(1)
	if !g.TryEnter() {
		t.Fatalf("TryEnter on open gate failed")
	}
	if g.TryEnter() {
		t.Fatalf("TryEnter on held gate succeeded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Enter(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Enter on held gate err=%v want DeadlineExceeded", err)
	}

	g.Leave()
	if err := g.Enter(context.Background()); err != nil {
		t.Fatalf("Enter after Leave: %v", err)
	}
	g.Leave()
}

func TestAcceptor_WiderGateRunsSessionsConcurrently(t *testing.T) {
	t.Parallel()

	addr := startAcceptor(t, NewGate(2))

	first := dial(t, addr)
	if err := first.Authenticate("alice", "wonderland"); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}

	// With two slots the second handshake is answered while the first session is open.
	second := dial(t, addr)
	done := make(chan error, 1)
	go func() { done <- second.Authenticate("bob", "P@ssw0rd") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second Authenticate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second session blocked behind the first")
	}

	for i, c := range []*client.Client{first, second} {
		got, err := c.Averages([][]int64{{int64(i), int64(i) + 2}})
		if err != nil {
			t.Fatalf("client %d Averages: %v", i, err)
		}
		if got[0] != int64(i)+1 {
			t.Fatalf("client %d average=%d want=%d", i, got[0], i+1)
		}
	}
}

func TestAcceptor_ThrottlesHostAfterRejectedHandshakes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln, err := Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	acc := NewAcceptor(testLogger(), testEngine(), nil, WithThrottle(NewAuthThrottle(1, time.Minute)))
	done := make(chan error, 1)
	go func() { done <- acc.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	bad := dial(t, ln.Addr().String())
	if err := bad.Authenticate("alice", "wrong"); !errors.Is(err, client.ErrRejected) {
		t.Fatalf("Authenticate err=%v want ErrRejected", err)
	}
	if err := bad.ExpectClosed(); err != nil {
		t.Fatalf("rejected session not closed: %v", err)
	}

	// The failure is recorded once the session has closed on the server side.
	waitThrottled := time.Now().Add(5 * time.Second)
	for {
		next := dial(t, ln.Addr().String())
		err := next.Authenticate("alice", "wonderland")
		if err != nil {
			if errors.Is(err, client.ErrRejected) {
				t.Fatalf("throttled connection got a protocol answer")
			}
			return
		}
		_ = next.Close()
		if time.Now().After(waitThrottled) {
			t.Fatalf("host was never throttled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuthThrottle(t *testing.T) {
	t.Parallel()

	if th := NewAuthThrottle(0, time.Minute); th != nil {
		t.Fatalf("NewAuthThrottle(0) should be disabled")
	}
	var disabled *AuthThrottle
	disabled.Fail("10.0.0.1", time.Now())
	if !disabled.Allow("10.0.0.1", time.Now()) {
		t.Fatalf("nil throttle refused a host")
	}

	th := NewAuthThrottle(2, time.Minute)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	th.Fail("10.0.0.1", t0)
	if !th.Allow("10.0.0.1", t0.Add(time.Second)) {
		t.Fatalf("one failure should not throttle with limit 2")
	}
	th.Fail("10.0.0.1", t0.Add(2*time.Second))
	if th.Allow("10.0.0.1", t0.Add(3*time.Second)) {
		t.Fatalf("two failures should throttle with limit 2")
	}
	if !th.Allow("10.0.0.2", t0.Add(3*time.Second)) {
		t.Fatalf("other hosts must not be throttled")
	}
	if !th.Allow("10.0.0.1", t0.Add(2*time.Minute)) {
		t.Fatalf("failures outside the window must expire")
	}
	if n := len(th.failures); n != 0 {
		t.Fatalf("expired hosts still tracked: %d", n)
	}
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"127.0.0.1:5555": "127.0.0.1",
		"[::1]:5555":     "::1",
		"no-port":        "no-port",
	}
	for in, want := range cases {
		if got := hostOf(in); got != want {
			t.Fatalf("hostOf(%q)=%q want=%q", in, got, want)
		}
	}
}
