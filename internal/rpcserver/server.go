// Package rpcserver exposes remote control of a project over HTTP: start a
// run, inspect its state, read and replace the configuration and fetch the
// last results.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/multimech/internal/config"
	"github.com/torosent/multimech/internal/orchestrator"
	"github.com/torosent/multimech/internal/session"
	"github.com/torosent/multimech/internal/sink"
)

const shutdownTimeout = 10 * time.Second

// RunFunc starts a run and blocks until it has finished.
type RunFunc func(ctx context.Context) (*orchestrator.Outcome, error)

// Options configure a Server.
type Options struct {
	Project    string
	ConfigPath string
	Run        RunFunc
	State      session.Reader
	Logger     *zap.Logger
}

type Server struct {
	app  *fiber.App
	opts Options
	log  *zap.Logger

	launching atomic.Bool
	runs      sync.WaitGroup
	mu        sync.Mutex
	runCtx    context.Context
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		opts:   opts,
		log:    opts.Logger.Named("rpc"),
		runCtx: context.Background(),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "multimech",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(fiberrecover.New())

	registry := prometheus.NewRegistry()
	registry.MustRegister(&sessionCollector{state: opts.State})

	api := s.app.Group("/api")
	api.Get("/project", s.getProject)
	api.Get("/status", s.getStatus)
	api.Get("/config", s.getConfig)
	api.Put("/config", s.putConfig)
	api.Post("/run", s.postRun)
	api.Get("/results", s.getResults)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Serve listens on addr until ctx is done, then shuts down and waits for
// a run started through the API to finish. Runs observe ctx as an
// interruption.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr)
	}()
	s.log.Info("rpc server listening", zap.String("addr", addr), zap.String("project", s.opts.Project))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	err := s.app.ShutdownWithTimeout(shutdownTimeout)
	s.runs.Wait()
	return err
}

// Wait blocks until runs started through the API have finished.
func (s *Server) Wait() { s.runs.Wait() }

func (s *Server) getProject(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"project": s.opts.Project})
}

func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(s.opts.State.Snapshot())
}

func (s *Server) getConfig(c *fiber.Ctx) error {
	data, err := os.ReadFile(s.opts.ConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fiber.NewError(fiber.StatusNotFound, "configuration not found")
		}
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Send(data)
}

// putConfig replaces the configuration file after validating the new
// content. It is refused while a run is active.
func (s *Server) putConfig(c *fiber.Ctx) error {
	if s.busy() {
		return fiber.NewError(fiber.StatusConflict, orchestrator.ErrRunInProgress.Error())
	}
	body := append([]byte(nil), c.Body()...)
	format := filepath.Ext(s.opts.ConfigPath)
	rc, err := config.ParseRunConfig(body, format)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := rc.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := os.WriteFile(s.opts.ConfigPath, body, 0o644); err != nil {
		return err
	}
	s.log.Info("configuration updated", zap.String("path", s.opts.ConfigPath))
	return c.JSON(fiber.Map{"status": "updated"})
}

// postRun starts a run in the background.
func (s *Server) postRun(c *fiber.Ctx) error {
	if s.opts.State.Snapshot().Running || !s.launching.CompareAndSwap(false, true) {
		return fiber.NewError(fiber.StatusConflict, orchestrator.ErrRunInProgress.Error())
	}
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.launching.Store(false)
		outcome, err := s.opts.Run(ctx)
		switch {
		case err != nil && outcome == nil:
			s.log.Error("run failed", zap.Error(err))
		case err != nil:
			s.log.Warn("run finished", zap.String("run_id", outcome.RunID), zap.Error(err))
		default:
			s.log.Info("run finished", zap.String("run_id", outcome.RunID), zap.String("output_dir", outcome.OutputDir))
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started"})
}

func (s *Server) getResults(c *fiber.Ctx) error {
	dir := s.opts.State.Snapshot().LastOutputDir
	if dir == "" {
		return fiber.NewError(fiber.StatusNotFound, "no results yet")
	}
	data, err := os.ReadFile(filepath.Join(dir, sink.RawFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("no %s in %s", sink.RawFileName, dir))
		}
		return err
	}
	c.Set(fiber.HeaderContentType, "text/csv")
	return c.Send(data)
}

func (s *Server) busy() bool {
	return s.launching.Load() || s.opts.State.Snapshot().Running
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
