package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/torosent/multimech/internal/config"
	"github.com/torosent/multimech/internal/logging"
	"github.com/torosent/multimech/internal/orchestrator"
	"github.com/torosent/multimech/internal/rpcserver"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Output: stderr})
	defer func() { _ = log.Sync() }()

	orch := orchestrator.New(*cfg, orchestrator.Options{Stdout: stdout, Logger: log})
	if err := orch.Init(); err != nil {
		return err
	}

	switch cfg.Mode() {
	case config.ModeResults:
		_, err := orch.Rerun(ctx, cfg.ResultsDir)
		return err
	case config.ModeServer:
		srv := rpcserver.New(rpcserver.Options{
			Project:    cfg.Project,
			ConfigPath: cfg.ConfigPath(),
			Run:        orch.Run,
			State:      orch.Session(),
			Logger:     log,
		})
		addr := net.JoinHostPort(cfg.BindAddr, strconv.Itoa(cfg.Port))
		fmt.Fprintf(stdout, "starting rpc listener on %s\n", addr)
		return srv.Serve(ctx, addr)
	default:
		_, err := orch.Run(ctx)
		return err
	}
}
