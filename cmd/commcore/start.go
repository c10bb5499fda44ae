package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/commcore/internal/api"
	"github.com/mattjoyce/commcore/internal/auth"
	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/config"
	"github.com/mattjoyce/commcore/internal/events"
	"github.com/mattjoyce/commcore/internal/executors"
	"github.com/mattjoyce/commcore/internal/journal"
	"github.com/mattjoyce/commcore/internal/lock"
	"github.com/mattjoyce/commcore/internal/log"
	"github.com/mattjoyce/commcore/internal/observe"
	"github.com/mattjoyce/commcore/internal/storage"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := config.Discover(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Configure(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stdout)
	logger := log.WithComponent("main")
	logger.Info("commcore starting", "version", version, "config", path, "service", cfg.Service.Name)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer n.close()

	logger.Info("commcore running (press Ctrl+C to stop)")
	if err := n.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("commcore stopped")
	return 0
}

// getPIDLockPath places the PID file next to the journal database.
func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.Journal.Path
	base := filepath.Base(dbPath)
	return filepath.Join(filepath.Dir(dbPath), strings.TrimSuffix(base, filepath.Ext(base))+".pid")
}

// node is one running dispatcher with its journal and API.
type node struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	journal  *journal.Journal
	writer   *journal.Writer
	hub      *events.Hub
	sink     *observe.Sink
	manager  *comm.Manager
	bindings []executors.Binding
	api      *api.Server
}

// newNode opens storage, builds the dispatcher and binds every configured
// command. ctx bounds the executors' deferred notifications.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	logger.Info("journal opened", "path", cfg.Journal.Path)

	n := &node{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		journal: journal.New(db),
		hub:     events.NewHub(256),
	}
	n.writer = journal.NewWriter(n.journal, cfg.Comm.Capacity*4)
	n.sink = observe.New(n.hub, n.writer)
	n.manager = comm.New(comm.Config{
		Capacity:          cfg.Comm.Capacity,
		PollInterval:      cfg.Comm.PollInterval,
		SubmitLockTimeout: cfg.Comm.SubmitLockTimeout,
		Tick:              cfg.Comm.Tick,
	}, n.sink.Callbacks())

	n.bindings, err = executors.Bind(ctx, n.manager, cfg.Commands)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	n.sink.SetBindings(n.bindings)
	for _, b := range n.bindings {
		logger.Info("command bound", "command", b.Name, "executor", b.Executor, "slot", b.Slot, "object", b.Object, "action", b.Action, "sync", b.Sync)
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		n.api = api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, n.manager, n.journal, n.sink, n.hub, log.WithComponent("api"))
	}
	return n, nil
}

// run blocks until ctx ends or a component fails.
func (n *node) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.writer.Run(gctx) })
	g.Go(func() error {
		return journal.RunPruner(gctx, n.journal, n.cfg.Journal.Retention, n.cfg.Journal.PruneInterval)
	})
	g.Go(func() error {
		if err := n.manager.Start(gctx); err != nil {
			return fmt.Errorf("comm: %w", err)
		}
		return nil
	})
	if n.api != nil {
		g.Go(func() error {
			if err := n.api.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		n.logger.Info("API server enabled", "listen", n.cfg.API.Listen)
	}
	err := g.Wait()
	if dropped := n.writer.Dropped(); dropped > 0 {
		n.logger.Warn("journal entries dropped", "count", dropped)
	}
	return err
}

func (n *node) close() {
	if err := n.db.Close(); err != nil {
		n.logger.Error("failed to close journal", "error", err)
	}
}
