package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexjbarnes/replica-sync/internal/auth"
	"github.com/alexjbarnes/replica-sync/internal/config"
	"github.com/alexjbarnes/replica-sync/internal/logging"
	"github.com/alexjbarnes/replica-sync/internal/mcpserver"
	"github.com/alexjbarnes/replica-sync/internal/models"
	"github.com/alexjbarnes/replica-sync/internal/remote"
	"github.com/alexjbarnes/replica-sync/internal/server"
	"github.com/alexjbarnes/replica-sync/internal/state"
	"github.com/alexjbarnes/replica-sync/internal/synchronizer"
	"github.com/alexjbarnes/replica-sync/internal/transfer"
	"github.com/alexjbarnes/replica-sync/internal/watcher"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Handle hash-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		hashKey()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashKey prints a fresh MCP API key and the hash to configure for it.
func hashKey() {
	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "API key (give this to the MCP client, it is not stored):")
	fmt.Println(key)
	fmt.Fprintln(os.Stderr, "Set this in the daemon's environment:")
	fmt.Printf("MCP_API_KEY_HASH=%s\n", hash)
}

// app holds the wired components of a running daemon.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	state        *state.State
	client       *remote.Client
	queue        *transfer.Queue
	reconciler   *synchronizer.Reconciler
	orchestrator *synchronizer.Orchestrator
	watcher      *watcher.Watcher
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("replica-sync starting",
		slog.String("version", Version),
		slog.String("server", cfg.ServerURL),
		slog.String("account", cfg.AccountName),
		slog.String("mode", cfg.SyncMode.String()),
		slog.Bool("events", cfg.EnableEvents),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer st.Close()

	a, err := wire(cfg, st, logger)
	if err != nil {
		return err
	}

	return a.run(ctx)
}

// wire builds every component around an open store.
func wire(cfg *config.Config, st *state.State, logger *slog.Logger) (*app, error) {
	storage, err := transfer.NewStorage(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening data dir: %w", err)
	}

	client := remote.NewClient(cfg.ServerURL, cfg.AccessToken, nil)

	queue := transfer.NewQueue(client, st, storage, transfer.Config{
		Workers:     cfg.TransferWorkers,
		MaxAttempts: cfg.TransferMaxAttempts,
	}, logger.With(slog.String("service", "transfer")))

	syncLogger := logger.With(slog.String("service", "sync"))
	reconciler := synchronizer.NewReconciler(client, st, queue, queue, syncLogger)
	refresher := remote.NewRefresher(client, st, syncLogger)
	orchestrator := synchronizer.NewOrchestrator(refresher, reconciler, syncLogger)

	orchestrator.OnOutcome(func(f models.File, o synchronizer.Outcome) {
		if c, ok := o.(synchronizer.ConflictDetected); ok {
			syncLogger.Warn("conflict needs a decision",
				slog.Int64("file_id", f.ID),
				slog.String("path", f.RemotePath),
				slog.String("server_etag", c.Etag),
			)
		}
	})

	w := watcher.New(cfg.DataDir, st, storage, logger.With(slog.String("service", "watcher")))
	w.OnChange(func(ctx context.Context, f models.File) {
		outcome, err := reconciler.ReconcileFile(ctx, f.ID)
		if err != nil {
			syncLogger.Warn("reconciling local change",
				slog.String("path", f.RemotePath),
				slog.String("error", err.Error()),
			)

			return
		}

		syncLogger.Debug("local change reconciled",
			slog.String("path", f.RemotePath),
			slog.String("outcome", outcome.String()),
		)
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		state:        st,
		client:       client,
		queue:        queue,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		watcher:      w,
	}, nil
}

func (a *app) run(ctx context.Context) error {
	if _, err := a.watcher.Scan(ctx); err != nil {
		return fmt.Errorf("scanning data dir: %w", err)
	}

	if conflicts, err := a.state.Conflicts(); err == nil && len(conflicts) > 0 {
		a.logger.Warn("files in conflict from a previous run", slog.Int("count", len(conflicts)))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.queue.Run(gctx)
	})

	g.Go(func() error {
		return a.watcher.Watch(gctx)
	})

	for _, root := range a.cfg.SyncRoots {
		g.Go(func() error {
			return a.syncLoop(gctx, root)
		})
	}

	if a.cfg.EnableEvents {
		listener := remote.NewEventListener(a.cfg.ServerURL, a.cfg.AccountName, a.cfg.AccessToken,
			a.onServerChange, a.logger.With(slog.String("service", "events")))

		g.Go(func() error {
			return listener.Listen(gctx)
		})
	}

	if a.cfg.EnableMCP {
		g.Go(func() error {
			return a.runMCP(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("replica-sync stopped")
		return nil
	}

	return err
}

// syncLoop synchronizes root immediately and then on every interval tick.
// A failed pass is logged and retried on the next tick.
func (a *app) syncLoop(ctx context.Context, root string) error {
	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		start := time.Now()

		err := a.orchestrator.SynchronizeFolder(ctx, root, a.cfg.AccountName, a.cfg.SpaceID, a.cfg.SyncMode)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			a.logger.Warn("sync pass failed",
				slog.String("root", root),
				slog.String("error", err.Error()),
			)
		} else {
			a.logger.Info("sync pass complete",
				slog.String("root", root),
				slog.Duration("took", time.Since(start)),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// onServerChange refreshes the folder holding a changed path when it
// falls under one of the configured roots.
func (a *app) onServerChange(ctx context.Context, ev remote.ChangeEvent) {
	if ev.Space != a.cfg.SpaceID {
		return
	}

	p := state.NormalizePath(ev.Path)
	if !underAnyRoot(p, a.cfg.SyncRoots) {
		a.logger.Debug("ignoring change outside sync roots", slog.String("path", p))
		return
	}

	folder := models.ParentPath(p)
	if !underAnyRoot(folder, a.cfg.SyncRoots) {
		folder = p
	}

	err := a.orchestrator.SynchronizeFolder(ctx, folder, a.cfg.AccountName, a.cfg.SpaceID, a.cfg.SyncMode)
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("syncing after server change",
			slog.String("folder", folder),
			slog.String("error", err.Error()),
		)
	}
}

// underAnyRoot reports whether p is one of roots or below one.
func underAnyRoot(p string, roots []string) bool {
	for _, root := range roots {
		if root == "/" || p == root || strings.HasPrefix(p, root+"/") {
			return true
		}
	}

	return false
}

// runMCP starts the MCP HTTP server.
func (a *app) runMCP(ctx context.Context) error {
	mcpLogger := a.logger.With(slog.String("service", "mcp"))

	verifier, err := auth.NewKeyVerifier(a.cfg.MCPAPIKeyHash)
	if err != nil {
		return fmt.Errorf("MCP_API_KEY_HASH: %w", err)
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "replica-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, &mcpserver.Deps{
		Store:      a.state,
		Syncer:     a.orchestrator,
		Reconciler: a.reconciler,
		Downloads:  a.queue,
		Uploads:    a.queue,
		Jobs:       a.queue,
		Remote:     a.client,
		Account:    a.cfg.AccountName,
		SpaceID:    a.cfg.SpaceID,
		Logger:     mcpLogger,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := &http.Server{
		Addr: a.cfg.MCPListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			Verifier:   verifier,
			MCPHandler: mcpHandler,
			Logger:     mcpLogger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server", slog.String("listen", a.cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
