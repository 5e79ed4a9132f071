package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/suraboy/weather-insight/internal/telegram"
	"github.com/suraboy/weather-insight/internal/web"
)

const shutdownGrace = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP, WebSocket and Telegram surfaces",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "weatheragent.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		a.close(shutdownCtx)
	}()

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	slog.Info("weatheragent started",
		"version", version,
		"data_dir", cfg.DataDir,
		"llm_provider", cfg.LLM.Provider,
		"max_tool_rounds", a.runtime.MaxRounds(),
		"tool_concurrency", cfg.ToolConcurrency,
		"max_concurrent_turns", cfg.MaxConcurrentTurns,
		"audit", cfg.Audit.Enabled,
		"pid_file", pidFile,
	)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, a.sessions, cfg.HTTP.AppURL, cfg.Telegram.AllowedUsers, cfg.Telegram.IdleTimeout)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	srv := web.New(a.sessions, a.registry, web.Options{
		AppURL:         cfg.HTTP.AppURL,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Version:        version,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-serveErr:
			return fmt.Errorf("http server: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				if err := reexec(cfg.DataDir, pidFile); err != nil {
					slog.Error("failed to re-exec", "error", err)
				}
				continue
			}

			slog.Info("shutting down", "signal", sig)
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown", "error", err)
			}
			done()
			if !a.sessions.WaitIdle(shutdownGrace) {
				slog.Warn("turns still running at shutdown", "active", a.sessions.Active())
			}
			return nil
		}
	}
}

// reexec replaces the process with a fresh copy of itself. On success it
// does not return.
func reexec(dataDir, pidFile string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("executable path: %w", err)
	}
	os.Remove(pidFile)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		if _, writeErr := writePIDFile(dataDir); writeErr != nil {
			slog.Error("failed to re-write PID file", "error", writeErr)
		}
		return err
	}
	return nil
}
