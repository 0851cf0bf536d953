// Command vecavg-smoke is a CI-friendly smoke test for a running vecavg server.
//
// It validates, over TCP or WebSocket:
//   - a correct handshake is accepted and a wrong secret is rejected
//   - a batch returns truncated averages in order
//   - an overflowing vector yields the sentinel without ending the batch
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"

	"vecavg/cmd/internal/client"
	"vecavg/cmd/internal/server"
	"vecavg/cmd/internal/vector"
	"vecavg/cmd/security/digest"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("vecavg-smoke", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		addr    = fs.StringP("addr", "a", "127.0.0.1:33333", "TCP address of the server")
		wsURL   = fs.String("url", "", "WebSocket URL (ws://host:port/ws); overrides --addr")
		origin  = fs.String("origin", "", "Origin header for the WebSocket handshake")
		login   = fs.StringP("login", "u", "", "login to authenticate as")
		secret  = fs.StringP("secret", "s", "", "secret for --login")
		hash    = fs.StringP("hash", "H", "sha256", "handshake digest: sha256, sha3-256 or blake3")
		timeout = fs.Duration("timeout", 7*time.Second, "per-connection timeout")
		verbose = fs.BoolP("verbose", "v", false, "verbose output")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *login == "" || *secret == "" {
		return errors.New("--login and --secret are required")
	}
	alg, err := digest.ParseAlgorithm(*hash)
	if err != nil {
		return fmt.Errorf("invalid --hash: %w", err)
	}
	if *wsURL != "" {
		if err := validateWSURL(*wsURL); err != nil {
			return fmt.Errorf("invalid --url: %w", err)
		}
		if err := validateOrigin(*origin); err != nil {
			return fmt.Errorf("invalid --origin: %w", err)
		}
	}

	connect := func(ctx context.Context) (*client.Client, error) {
		if *wsURL != "" {
			return dialWS(ctx, *wsURL, *origin, alg)
		}
		return client.Dial(ctx, *addr, alg)
	}

	if err := checkWrongSecret(connect, *login, *secret, *timeout); err != nil {
		return err
	}
	if *verbose {
		fmt.Fprintln(stdout, "ok: wrong secret rejected")
	}

	if err := checkAverages(connect, *login, *secret, *timeout); err != nil {
		return err
	}
	if *verbose {
		fmt.Fprintln(stdout, "ok: batch averaged")
	}

	fmt.Fprintln(stdout, "PASS")
	return nil
}

func dialWS(ctx context.Context, rawURL, origin string, alg digest.Algorithm) (*client.Client, error) {
	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	c, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		Subprotocols: []string{server.Subprotocol},
		HTTPHeader:   h,
	})
	if err != nil {
		return nil, err
	}
	if c.Subprotocol() != server.Subprotocol {
		_ = c.Close(websocket.StatusProtocolError, "subprotocol")
		return nil, fmt.Errorf("server selected subprotocol %q", c.Subprotocol())
	}
	return client.New(websocket.NetConn(ctx, c, websocket.MessageBinary), alg), nil
}

func checkWrongSecret(connect func(context.Context) (*client.Client, error), login, secret string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if err := c.Authenticate(login, secret+"-wrong"); !errors.Is(err, client.ErrRejected) {
		return fmt.Errorf("wrong secret: got %v want rejection", err)
	}
	return nil
}

func checkAverages(connect func(context.Context) (*client.Client, error), login, secret string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if err := c.Authenticate(login, secret); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	batch := [][]int64{
		{10, 20, 30},
		{},
		{math.MaxInt64, 1},
		{-7, 2},
	}
	want := []int64{20, 0, vector.OverflowSentinel, -2}

	got, err := c.Averages(batch)
	if err != nil {
		return fmt.Errorf("averages: %w", err)
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("vector %d: got %d want %d", i, got[i], want[i])
		}
	}

	if err := c.ExpectClosed(); err != nil {
		return fmt.Errorf("after batch: %w", err)
	}
	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}
