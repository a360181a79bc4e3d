// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package demo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/gogama/httpx/asyncerr"
	"github.com/gogama/httpx/payload"
	"github.com/gogama/httpx/payload/filestore"
	"github.com/gogama/httpx/payload/rediskv"
	"github.com/gogama/httpx/payload/sqlstore"
	"github.com/gogama/httpx/processor"
	"github.com/gogama/httpx/request"
	"github.com/gogama/httpx/task"
	"github.com/gogama/httpx/timeout"
)

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("component", "asyncxdemo")
}

// buildStore constructs the payload.Store backend named by cfg.Backend,
// if any, returning a no-op close function when there is nothing to
// close.
func buildStore(ctx context.Context, cfg StoreConfig) (payload.Store, func(), error) {
	switch cfg.Backend {
	case "", "none":
		return nil, func() {}, nil
	case "file":
		dir := cfg.File.Dir
		if dir == "" {
			dir = filepathJoinTemp("asyncxdemo-payloads")
		}
		s, err := filestore.New(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "redis":
		s, err := rediskv.New(ctx, rediskv.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("asyncxdemo: opening postgres: %w", err)
		}
		s := sqlstore.New(sqlx.NewDb(db, "postgres"), sqlstore.Config{Table: cfg.Postgres.Table})
		return s, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("asyncxdemo: unknown store backend %q", cfg.Backend)
	}
}

func filepathJoinTemp(name string) string {
	return os.TempDir() + string(os.PathSeparator) + name
}

// demoHandler implements task.Handler, printing each task's outcome to
// stdout and signaling a shared sync.WaitGroup when done.
type demoHandler struct {
	wg     *sync.WaitGroup
	logger *slog.Logger
}

func (h *demoHandler) OnComplete(resp *asyncerr.Response, callback string, _ interface{}) {
	defer h.wg.Done()
	fmt.Printf("OK    %-6s %s -> %d (%d bytes)\n", resp.Method, resp.URL, resp.Status, len(resp.Body))
}

func (h *demoHandler) OnError(err error, callback string, _ interface{}) {
	defer h.wg.Done()
	fmt.Printf("ERROR %s: %v\n", callback, err)
}

func (h *demoHandler) Retry(t task.Task) {
	defer h.wg.Done()
	h.logger.Warn("task survived shutdown without completing", slog.String("url", t.Plan.URL.String()))
}

// Run loads the configuration at cfgPath, runs every configured request
// through a Processor, and prints each outcome to stdout.
func Run(cfgPath string) error {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	store, closeStore, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("asyncxdemo: %w", err)
	}
	defer closeStore()

	timeoutSeconds := cfg.Processor.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	drainTimeoutSeconds := cfg.Processor.DrainTimeoutSeconds
	if drainTimeoutSeconds <= 0 {
		drainTimeoutSeconds = 10
	}

	p := processor.New(processor.Config{
		MaxConcurrentRequests:    cfg.Processor.MaxConcurrentRequests,
		MaxQueueSize:             cfg.Processor.MaxQueueSize,
		DefaultMaxRedirects:      cfg.Processor.DefaultMaxRedirects,
		MaxResponseSize:          cfg.Processor.MaxResponseSize,
		TimeoutPolicy:            timeout.Fixed(time.Duration(timeoutSeconds) * time.Second),
		ExternalPayloadThreshold: cfg.Store.Threshold,
		PayloadStore:             store,
		Logger:                   logger,
	})

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("asyncxdemo: starting processor: %w", err)
	}

	var wg sync.WaitGroup
	handler := &demoHandler{wg: &wg, logger: logger}

	for _, r := range cfg.Requests {
		plan, err := request.NewPlan(r.Method, r.URL, nil)
		if err != nil {
			fmt.Printf("ERROR building plan for %s: %v\n", r.URL, err)
			continue
		}
		wg.Add(1)
		if _, err := p.Enqueue(task.Task{
			Plan:                plan,
			Handler:             handler,
			RaiseErrorResponses: r.RaiseErrorResponses,
		}); err != nil {
			wg.Done()
			fmt.Printf("ERROR enqueueing %s: %v\n", r.URL, err)
		}
	}

	wg.Wait()

	return p.Stop(time.Duration(drainTimeoutSeconds) * time.Second)
}
