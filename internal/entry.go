// Package internal provides application initialization and the command
// entry points used by cmd/vaultsync.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/api"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/index"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/mcpserver"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/sse"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/storage"
	"github.com/synaptic-algos/ST-KnowledgeVault/internal/syncservice"
)

// ErrPropagationFailed is returned by RunPropagate when at least one
// document could not be updated.
var ErrPropagationFailed = errors.New("propagation failed")

func newApplication(opts []Option) (*application, error) {
	app := &application{
		out:     os.Stdout,
		logOut:  os.Stderr,
		now:     time.Now,
		version: "dev",
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger installs the structured JSON logger as the default.
func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// indexMode says how a command uses the document index.
type indexMode int

const (
	indexOff indexMode = iota
	// indexOptional opens the index when configured; a failure to open it
	// is logged and the command runs without it.
	indexOptional
	indexRequired
)

// components holds what every command needs. db is nil when the index is
// disabled or could not be opened.
type components struct {
	store storage.Provider
	db    *index.DB
	svc   *syncservice.Service
}

func (c *components) Close() {
	if c.db != nil {
		c.db.Close()
	}
}

// build opens the vault and, depending on mode, the index. hook may be nil.
func (a *application) build(logger *slog.Logger, mode indexMode, hook syncservice.ChangeHook) (*components, error) {
	cfg := a.config
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	c := &components{store: store}
	opts := []syncservice.Option{
		syncservice.WithClock(a.now),
		syncservice.WithLogger(logger),
	}
	if mode != indexOff && cfg.SQLite.Enabled() {
		db, err := index.Open(cfg.IndexPath())
		switch {
		case err == nil:
			c.db = db
			opts = append(opts, syncservice.WithIndex(db, cfg.SQLite.Record))
		case mode == indexRequired:
			return nil, fmt.Errorf("init index: %w", err)
		default:
			logger.Warn("document index unavailable, continuing without it",
				slog.String("sqlite_path", cfg.IndexPath()),
				slog.String("error", err.Error()))
		}
	}
	if hook != nil {
		opts = append(opts, syncservice.WithChangeHook(hook))
	}
	c.svc = syncservice.New(store, cfg.Vault.RoadmapOptions(), opts...)
	return c, nil
}

// RunPropagate applies the sprint summary at summaryPath and prints one
// line per document. It returns ErrPropagationFailed when any document
// failed; the others are still written.
func RunPropagate(ctx context.Context, summaryPath string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	c, err := app.build(logger, indexOptional, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	rep, err := c.svc.PropagateFile(ctx, summaryPath)
	if err != nil {
		return err
	}
	if _, err := rep.WriteTo(app.out); err != nil {
		return err
	}
	if failed := rep.Failed(); len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d documents: %w", ErrPropagationFailed, len(failed), len(rep.Results), rep.Err())
	}
	return nil
}

// RunRegenerate rewrites the roadmap summary region. With dryRun the new
// roadmap text is printed instead of written.
func RunRegenerate(ctx context.Context, dryRun bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	c, err := app.build(logger, indexOff, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	if dryRun {
		text, err := c.svc.Preview(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(app.out, text)
		return err
	}
	if _, err := c.svc.Regenerate(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintf(app.out, "Updated roadmap summary in %s\n", c.svc.RoadmapPath())
	return err
}

// RunIndex rebuilds the document index from the vault.
func RunIndex(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()
	if !app.config.SQLite.Enabled() {
		return fmt.Errorf("index: sqlite.path is empty")
	}

	c, err := app.build(logger, indexRequired, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.svc.Reindex(ctx); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	all, err := c.db.AllChecksums()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(app.out, "Indexed %d documents in %s\n", len(all), app.config.IndexPath())
	return err
}

// RunMCP serves the MCP tools over stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	c, err := app.build(logger, indexOptional, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.db != nil {
		if err := index.Sync(c.db, c.store, logger); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("MCP server starting", slog.String("vault_path", app.config.Vault.Path))
	return mcpserver.New(c.svc, app.version).ServeStdio()
}

// Run starts the HTTP server and, with WithWatch, the vault watcher. Epic
// document changes, from the watcher or from propagation, schedule a
// debounced roadmap regeneration.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.IndexPath()),
		slog.Bool("watch", app.watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(cfg.Watch.EventThrottle)
	defer broker.Close()

	epicChanged := make(chan struct{}, 1)
	var c *components
	onChange := func(kind, p string) {
		broker.PublishChange(kind, p)
		if kind != syncservice.EventRegenerated && c != nil && c.svc.IsEpicDocument(p) {
			select {
			case epicChanged <- struct{}{}:
			default:
			}
		}
	}

	c, err = app.build(logger, indexOptional, onChange)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.db != nil {
		if err := index.Sync(c.db, c.store, logger); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
	}

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := c.store.Exists(cfg.Vault.Roadmap); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"vault unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if app.watch {
		if c.db == nil {
			logger.Warn("watcher disabled: document index is not configured")
		} else {
			g.Go(func() error {
				return index.Watch(gCtx, c.db, c.store, logger, onChange)
			})
		}
	}

	g.Go(func() error {
		regenerateOnSignal(gCtx, epicChanged, cfg.Watch.RegenerateDelay, logger, func() error {
			_, err := c.svc.Regenerate(gCtx)
			return err
		})
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher and the
// regeneration loop stop with the HTTP server.
var errShutdown = errors.New("shutdown")

// regenerateOnSignal runs fn once delay has passed without a new signal on
// trigger. Failures are logged; the loop keeps running until ctx ends.
func regenerateOnSignal(ctx context.Context, trigger <-chan struct{}, delay time.Duration, logger *slog.Logger, fn func() error) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-trigger:
			if timer == nil {
				timer = time.NewTimer(delay)
				fire = timer.C
			} else {
				timer.Reset(delay)
			}
		case <-fire:
			if err := fn(); err != nil {
				logger.Warn("auto regenerate failed", slog.String("error", err.Error()))
			} else {
				logger.Info("auto regenerate finished")
			}
		}
	}
}
