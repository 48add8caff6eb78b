// Command domquery is the composed-DOM query daemon.
//
// Usage:
//
//	domquery -config domquery.yaml                  # serve HTTP + mirror pages from config
//	domquery -file page.html -selector "//div[@id]" # one-shot resolve against a local file
//	domquery -url https://example.com -selector "//h1" -wait visible
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domquery/audit"
	"github.com/hazyhaar/domquery/browser"
	"github.com/hazyhaar/domquery/config"
	"github.com/hazyhaar/domquery/mirror"
	"github.com/hazyhaar/domquery/query"
	"github.com/hazyhaar/domquery/server"
)

func main() {
	configPath := flag.String("config", "", "path to domquery.yaml config file")
	filePath := flag.String("file", "", "one-shot: resolve against a local HTML file")
	pageURL := flag.String("url", "", "one-shot: capture a live page and resolve against it")
	selector := flag.String("selector", "", "one-shot: selector to resolve")
	waitState := flag.String("wait", "", "one-shot: wait for this state first (attached, detached, visible, hidden)")
	waitTimeout := flag.Duration("timeout", 30*time.Second, "one-shot: wait timeout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shot := oneShot{
		File:     *filePath,
		URL:      *pageURL,
		Selector: *selector,
		Wait:     *waitState,
		Timeout:  *waitTimeout,
	}
	if err := run(ctx, logger, *configPath, shot); err != nil {
		logger.Error("domquery: fatal", "error", err)
		os.Exit(1)
	}
}

type oneShot struct {
	File     string
	URL      string
	Selector string
	Wait     string
	Timeout  time.Duration
}

func run(ctx context.Context, logger *slog.Logger, configPath string, shot oneShot) error {
	if shot.File != "" || shot.URL != "" {
		return runOneShot(ctx, logger, shot)
	}
	if configPath != "" {
		return runServe(ctx, logger, configPath)
	}

	fmt.Fprintln(os.Stderr, "usage: domquery -config <file> | -file <html> -selector <expr> | -url <page> -selector <expr>")
	os.Exit(1)
	return nil
}

func runOneShot(ctx context.Context, logger *slog.Logger, shot oneShot) error {
	if shot.Selector == "" {
		return errors.New("one-shot mode requires -selector")
	}

	m := mirror.New(mirror.Options{Logger: logger})
	var p *mirror.Page
	if shot.File != "" {
		html, err := os.ReadFile(shot.File)
		if err != nil {
			return err
		}
		p, err = m.Register("local", "file://"+shot.File, html)
		if err != nil {
			return err
		}
	} else {
		capture := browser.NewManager(browser.Config{Stealth: true, Logger: logger})
		if err := capture.Start(ctx); err != nil {
			return err
		}
		defer capture.Close()

		snap, err := capture.Capture(ctx, shot.URL, "local")
		if err != nil {
			return err
		}
		if err := m.LoadSnapshot(snap); err != nil {
			return err
		}
		p, err = m.Get(snap.PageID)
		if err != nil {
			return err
		}
	}

	if shot.Wait != "" {
		state := query.State(shot.Wait)
		if !query.ValidState(state) {
			return fmt.Errorf("unknown wait state %q", shot.Wait)
		}
		opts := query.WaitOptions{State: state, Timeout: shot.Timeout, Pierce: true}
		if err := p.Engine().WaitForSelector(ctx, shot.Selector, opts); err != nil {
			return err
		}
	}

	nodes := p.Engine().ResolveAll(shot.Selector, query.DefaultResolveOptions())
	type match struct {
		Tag   string            `json:"tag"`
		Attrs map[string]string `json:"attrs,omitempty"`
	}
	out := struct {
		Selector string  `json:"selector"`
		Count    int     `json:"count"`
		Matches  []match `json:"matches"`
	}{Selector: shot.Selector, Count: len(nodes)}
	for _, n := range nodes {
		mm := match{Tag: n.Data}
		if len(n.Attr) > 0 {
			mm.Attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				mm.Attrs[a.Key] = a.Val
			}
		}
		out.Matches = append(out.Matches, mm)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runServe(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Audit log.
	var auditor *audit.SQLiteLogger
	if cfg.Audit.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
			return fmt.Errorf("audit dir: %w", err)
		}
		db, err := sql.Open("sqlite", cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		defer db.Close()
		db.Exec("PRAGMA journal_mode=WAL")

		auditor = audit.NewSQLiteLogger(db)
		if err := auditor.Init(); err != nil {
			return err
		}
		defer auditor.Close()

		go auditCleanupLoop(ctx, db, cfg.Audit.Retention, logger)
	}

	// Browser capture, only when pages need it.
	var capture *browser.Manager
	if len(cfg.Pages) > 0 || cfg.Browser.Remote != "" {
		capture = browser.NewManager(browser.Config{
			RemoteURL:       cfg.Browser.Remote,
			Stealth:         cfg.Browser.Stealth != "off",
			NavigateTimeout: cfg.Browser.NavigateTimeout,
			Logger:          logger,
		})
		if err := capture.Start(ctx); err != nil {
			logger.Warn("domquery: browser unavailable, url registration disabled", "error", err)
			capture = nil
		} else {
			defer capture.Close()
		}
	}

	m := mirror.New(mirror.Options{Logger: logger})
	svc := server.New(server.Options{
		Mirror:      m,
		Audit:       auditor,
		Capture:     capture,
		Logger:      logger,
		WaitDefault: cfg.Wait.DefaultTimeout,
		WaitMax:     cfg.Wait.MaxTimeout,
	})

	// Seed configured pages.
	for _, pc := range cfg.Pages {
		if capture == nil {
			logger.Warn("domquery: skipping configured page, no browser", "page_id", pc.ID, "url", pc.URL)
			continue
		}
		snap, err := capture.Capture(ctx, pc.URL, pc.ID)
		if err != nil {
			logger.Error("domquery: initial capture failed", "page_id", pc.ID, "url", pc.URL, "error", err)
			continue
		}
		if err := m.LoadSnapshot(snap); err != nil {
			logger.Error("domquery: seed failed", "page_id", pc.ID, "error", err)
		}
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: svc.Routes(cfg.Server.RequestTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("domquery: listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func auditCleanupLoop(ctx context.Context, db *sql.DB, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := audit.Cleanup(ctx, db, retention); err != nil {
				logger.Warn("domquery: audit cleanup failed", "error", err)
			}
		}
	}
}
