package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"vecavg/cmd/internal/client"
	"vecavg/cmd/internal/server"
	"vecavg/cmd/security/digest"
)

const testCredentials = `# test clients
alice wonderland
bob   P@ssw0rd
alice looking-glass
`

func writeCredentials(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clients.txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	return path
}

func listen(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

type runningApp struct {
	addr    string
	opsAddr string
	logs    *syncBuffer
}

// startApp serves cfg on loopback listeners until the test ends.
func startApp(t *testing.T, cfg Config) runningApp {
	t.Helper()

	logs := &syncBuffer{}
	log := slog.New(newLineHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, log)
	if err != nil {
		cancel()
		t.Fatalf("New: %v", err)
	}

	ln := listen(t)
	var opsLn net.Listener
	if cfg.OpsAddr != "" {
		opsLn = listen(t)
	}

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln, opsLn) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v want nil", err)
			}
		case <-time.After(10 * time.Second):
			t.Errorf("Serve did not stop")
		}
		_ = a.Close()
	})

	r := runningApp{addr: ln.Addr().String(), logs: logs}
	if opsLn != nil {
		r.opsAddr = opsLn.Addr().String()
	}
	return r
}

func fileConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.CredentialsPath = writeCredentials(t, testCredentials)
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	t.Parallel()

	r := startApp(t, fileConfig(t))

	c, err := client.Dial(context.Background(), r.addr, digest.SHA256)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	// Duplicate login: the later line wins.
	if err := c.Authenticate("alice", "looking-glass"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	got, err := c.Averages([][]int64{{10, 20, 30}, {}})
	if err != nil {
		t.Fatalf("Averages: %v", err)
	}
	if diff := cmp.Diff([]int64{20, 0}, got); diff != "" {
		t.Fatalf("averages mismatch (-want +got):\n%s", diff)
	}

	waitFor(t, func() bool { return strings.Contains(r.logs.String(), "session.close") })
	logs := r.logs.String()
	for _, want := range []string{
		"INFO: credentials.duplicate login=alice",
		"INFO: server.start",
		"credentials=2",
		"INFO: session.auth.ok",
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("logs missing %q:\n%s", want, logs)
		}
	}
}

func TestApp_OpsEndpointsAndWebSocket(t *testing.T) {
	t.Parallel()

	cfg := fileConfig(t)
	cfg.OpsAddr = "127.0.0.1:0"
	cfg.WSEnabled = true
	r := startApp(t, cfg)
	base := "http://" + r.opsAddr

	for path, want := range map[string]string{"/healthz": "ok\n", "/readyz": "ready\n"} {
		status, body := httpGet(t, base+path)
		if status != http.StatusOK || body != want {
			t.Fatalf("GET %s = %d %q want 200 %q", path, status, body, want)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wc, _, err := websocket.Dial(ctx, "ws://"+r.opsAddr+"/ws", &websocket.DialOptions{
		Subprotocols: []string{server.Subprotocol},
	})
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	c := client.New(websocket.NetConn(ctx, wc, websocket.MessageBinary), digest.SHA256)
	defer c.Close()

	if err := c.Authenticate("bob", "P@ssw0rd"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	got, err := c.Averages([][]int64{{1, 2, 4}})
	if err != nil {
		t.Fatalf("Averages: %v", err)
	}
	if diff := cmp.Diff([]int64{2}, got); diff != "" {
		t.Fatalf("averages mismatch (-want +got):\n%s", diff)
	}

	waitFor(t, func() bool {
		_, body := httpGet(t, base+"/metrics")
		return strings.Contains(body, "vecavg_vectors_total 1") &&
			strings.Contains(body, `vecavg_handshakes_total{result="ok"} 1`)
	})
}

func TestApp_RedisBackend(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	mr.HSet("vecavg:credentials", "carol", "s3cret")

	cfg := DefaultConfig()
	cfg.CredentialsDSN = "redis://" + mr.Addr() + "/0"
	cfg.HashAlgorithm = "blake3"
	r := startApp(t, cfg)

	c, err := client.Dial(context.Background(), r.addr, digest.BLAKE3)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Authenticate("carol", "s3cret"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}

func TestNew_StartupFailures(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	missing := DefaultConfig()
	missing.CredentialsPath = filepath.Join(t.TempDir(), "nope.txt")
	if _, err := New(context.Background(), missing, log); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("New(missing file) err=%v want ErrNotExist", err)
	}

	malformed := DefaultConfig()
	malformed.CredentialsPath = writeCredentials(t, "alice\n")
	if _, err := New(context.Background(), malformed, log); err == nil {
		t.Fatalf("New(malformed file) succeeded")
	}

	unreachable := DefaultConfig()
	unreachable.CredentialsDSN = "redis://127.0.0.1:1/0"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := New(ctx, unreachable, log); err == nil {
		t.Fatalf("New(unreachable redis) succeeded")
	}
}

func TestRun_ExitPaths(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	if err := run([]string{"--help"}, &stderr); !errors.Is(err, ErrHelp) {
		t.Fatalf("run(--help) err=%v want ErrHelp", err)
	}

	stderr.Reset()
	if err := run(nil, &stderr); !errors.Is(err, ErrUsage) {
		t.Fatalf("run() err=%v want ErrUsage", err)
	}
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url) // #nosec G107 -- loopback test server.
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
