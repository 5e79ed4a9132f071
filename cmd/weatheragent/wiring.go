package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/suraboy/weather-insight/internal/audit"
	"github.com/suraboy/weather-insight/internal/config"
	"github.com/suraboy/weather-insight/internal/runtime"
	"github.com/suraboy/weather-insight/internal/sessions"
	"github.com/suraboy/weather-insight/internal/telemetry"
	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/pkg/llm"
	"github.com/suraboy/weather-insight/pkg/llm/gemini"
	"github.com/suraboy/weather-insight/pkg/llm/openai"
)

// app is everything a surface needs, built from config.
type app struct {
	cfg      *config.Config
	registry *tools.Registry
	journal  *audit.Journal
	runtime  *runtime.Runtime
	sessions *sessions.Manager

	shutdownTelemetry func(context.Context) error
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, shutdownTelemetry: shutdown}

	a.registry, err = tools.NewRegistry(tools.Builtin()...)
	if err != nil {
		return nil, err
	}

	instruction, err := loadInstruction(cfg, a.registry)
	if err != nil {
		return nil, err
	}

	opts := runtime.Options{
		MaxRounds:          cfg.MaxToolRounds,
		ToolConcurrency:    cfg.ToolConcurrency,
		MaxConcurrentTurns: cfg.MaxConcurrentTurns,
		Greeting:           cfg.Greeting,
		Instruction:        instruction,
	}
	if cfg.Audit.Enabled {
		a.journal, err = audit.Open(cfg.AuditPath())
		if err != nil {
			return nil, err
		}
		opts.Journal = a.journal
	}

	a.runtime = runtime.New(newGateway(ctx, cfg), a.registry, opts)
	a.sessions = sessions.New(a.runtime)
	a.sessions.Start(ctx)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.sessions.Stop()
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			slog.Warn("close journal", "error", err)
		}
	}
	if err := a.shutdownTelemetry(ctx); err != nil {
		slog.Warn("telemetry shutdown", "error", err)
	}
}

func loadInstruction(cfg *config.Config, registry *tools.Registry) (string, error) {
	var tmpl string
	if cfg.PromptFile != "" {
		data, err := os.ReadFile(cfg.PromptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		tmpl = string(data)
	}
	return runtime.BuildInstruction(tmpl, registry)
}

// newGateway picks the model backend. A backend that cannot be built still
// yields a gateway, so sessions open inert instead of the process exiting.
func newGateway(ctx context.Context, cfg *config.Config) llm.Gateway {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "gemini":
		gw, err := gemini.NewGateway(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			BaseURL:     cfg.Gemini.BaseURL,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			slog.Error("gemini gateway unavailable", "error", err)
			return unavailableGateway{err: err}
		}
		return gw
	default:
		if cfg.LLM.APIKey == "" && strings.Contains(cfg.LLM.BaseURL, "api.openai.com") {
			err := fmt.Errorf("llm.api_key is not set")
			slog.Error("openai gateway unavailable", "error", err)
			return unavailableGateway{err: err}
		}
		provider := openai.New(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		var budget *llm.Budget
		if cfg.LLM.MaxContextTokens > 0 {
			b, err := llm.NewBudget(cfg.LLM.Model, cfg.LLM.MaxContextTokens)
			if err != nil {
				slog.Warn("context budget disabled", "model", cfg.LLM.Model, "error", err)
			} else {
				budget = b
			}
		}
		return llm.NewChatGateway(provider, budget)
	}
}

type unavailableGateway struct {
	err error
}

func (g unavailableGateway) Open(ctx context.Context, tools []llm.Tool, instruction string) (llm.Session, error) {
	return nil, g.err
}
