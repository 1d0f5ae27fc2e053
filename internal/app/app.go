package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/five82/tether/internal/config"
	"github.com/five82/tether/internal/prefs"
	"github.com/five82/tether/internal/ui"
)

// Options configure the tether daemon.
type Options struct {
	ConfigPath string
	PrefsPath  string        // empty uses default ~/.config/tether/prefs.toml
	PollEvery  time.Duration // zero uses the configured interval
	Listen     string        // empty uses the configured address
	Headless   bool          // run without the terminal UI
	Verbose    bool          // log at debug level
}

// Run boots the daemon and, unless headless, the TUI. It returns when the
// context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.PollEvery > 0 {
		cfg.PollInterval = opts.PollEvery
	}
	if l := strings.TrimSpace(opts.Listen); l != "" {
		cfg.Listen = l
	}

	logger, closeLog, err := openLogger(cfg.LogPath(), opts)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	daemon, err := NewDaemon(ctx, cfg, logger, DaemonOptions{})
	if err != nil {
		logger.Error("daemon init failed", "error", err)
		return err
	}
	defer daemon.Close()

	srv, err := Listen(cfg.Listen, daemon.Proxy, logger.With("component", "server"))
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	poller := daemon.Poller(cfg.PollInterval)
	poller.Tick(ctx)
	poller.Start(ctx)
	// Runs before daemon.Close: a tick in flight must finish with the queue
	// still open.
	defer func() {
		cancel()
		poller.Wait()
	}()

	logger.Info("tether started", "origin", cfg.Origin, "backend", cfg.BackendURL, "listen", srv.Addr())

	if opts.Headless {
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			return err
		}
		return <-serveErr
	}

	userPrefs, _ := prefs.Load(opts.PrefsPath)
	uiErr := ui.Run(ui.Options{
		Context:   ctx,
		Store:     daemon.Store,
		Router:    daemon.Router,
		Queue:     daemon.Queue,
		Saver:     daemon.Saver,
		Hub:       daemon.Hub,
		Config:    &cfg,
		ProxyAddr: srv.Addr(),
		PollTick:  time.Second,
		Prefs:     userPrefs,
		PrefsPath: opts.PrefsPath,
	})
	cancel()
	return errors.Join(uiErr, <-serveErr)
}

// openLogger writes slog text records to the daemon log. Headless runs
// also log to stderr since no UI owns the terminal.
func openLogger(path string, opts Options) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	var w io.Writer = file
	if opts.Headless {
		w = io.MultiWriter(file, os.Stderr)
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = file.Close() }, nil
}
