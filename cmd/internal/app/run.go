package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/vecavg. args excludes the program name.
// It returns an error instead of calling os.Exit so defers run; ErrHelp and ErrUsage
// tell the caller which exit status to use.
func Run(args []string) error {
	return run(args, os.Stderr)
}

func run(args []string, stderr io.Writer) error {
	cfg, err := ParseArgs(args, stderr)
	if err != nil {
		return err
	}

	log, closer, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("startup.fail", "err", err)
		return fmt.Errorf("startup: %w", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Run(ctx); err != nil {
		return err
	}
	return nil
}
