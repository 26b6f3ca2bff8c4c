// Command reviewpilotd runs the review workflow daemon: webhook ingress,
// the durable workflow engine, and the dashboard query API in one binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/reviewpilot/reviewpilot/config"
	"github.com/reviewpilot/reviewpilot/httpapi"
	"github.com/reviewpilot/reviewpilot/llm"
	"github.com/reviewpilot/reviewpilot/llm/anthropic"
	"github.com/reviewpilot/reviewpilot/llm/google"
	"github.com/reviewpilot/reviewpilot/llm/openai"
	"github.com/reviewpilot/reviewpilot/review"
	"github.com/reviewpilot/reviewpilot/workflow"
	"github.com/reviewpilot/reviewpilot/workflow/emit"
	"github.com/reviewpilot/reviewpilot/workflow/store"
)

func main() {
	configPath := flag.String("config", "reviewpilot.toml", "path to TOML config file")
	listen := flag.String("listen", "", "HTTP bind address (overrides config)")
	textLogs := flag.Bool("text-logs", false, "emit human-readable logs instead of JSONL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	if err := run(cfg, !*textLogs); err != nil {
		log.Fatalf("reviewpilotd: %v", err)
	}
}

func run(cfg *config.Config, jsonLogs bool) error {
	ctx := context.Background()

	emitter := emit.NewLogEmitter(os.Stdout, jsonLogs)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workflow.NewMetrics(registry)

	runs, closeRuns, err := openRunStore(cfg)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer closeRuns()

	reviews, closeReviews, err := openReviewStore(cfg)
	if err != nil {
		return fmt.Errorf("open review store: %w", err)
	}
	defer closeReviews()

	generator, closeGenerator, err := openGenerator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configure llm provider: %w", err)
	}
	defer closeGenerator()

	service := &review.Service{
		GitHub:    review.NewRESTClient(""),
		Tokens:    &review.StaticTokens{Token: os.Getenv("GITHUB_TOKEN")},
		Index:     review.NewMemIndex(),
		Generator: generator,
		Reviews:   reviews,
	}

	reviewDef := service.GenerateReview()
	reviewDef.Concurrency = cfg.Review.Concurrency
	reviewDef.AdmissionTimeout = cfg.Review.AdmissionTimeout.Duration()
	reviewDef.Retry = workflow.RetryPolicy{
		MaxAttempts: cfg.Review.MaxAttempts,
		BaseDelay:   cfg.Review.BaseDelay.Duration(),
		MaxDelay:    cfg.Review.MaxDelay.Duration(),
	}

	workflows := workflow.NewRegistry()
	if err := workflows.Register(reviewDef); err != nil {
		return err
	}
	if err := workflows.Register(service.IndexRepo()); err != nil {
		return err
	}

	runner := workflow.NewRunner(runs, emitter, metrics)
	bus := workflow.NewBus(workflows, runner, emitter)

	// Resume runs interrupted by the previous shutdown or crash before
	// accepting new traffic.
	recovered, err := runner.Recover(ctx, workflows)
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	emitter.Emit(emit.Event{
		Msg:  "daemon_started",
		Meta: map[string]interface{}{"listen": cfg.Listen, "recovered_runs": recovered},
	})

	server := &httpapi.Server{
		Bus:           bus,
		Runs:          runs,
		Reviews:       reviews,
		WebhookSecret: cfg.Webhook.Secret,
		Gatherer:      registry,
	}
	e := server.Router()

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Listen); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		emitter.Emit(emit.Event{
			Msg:  "daemon_stopping",
			Meta: map[string]interface{}{"signal": sig.String()},
		})
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop intake first, then drain in-flight runs. Runs that do not
	// finish in time resume on the next boot via Recover.
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := bus.Close(shutdownCtx); err != nil {
		emitter.Emit(emit.Event{
			Msg:  "shutdown_incomplete",
			Meta: map[string]interface{}{"error": err.Error()},
		})
	}
	return nil
}

func openRunStore(cfg *config.Config) (store.RunStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemStore(), func() {}, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "mysql":
		s, err := store.NewMySQLStore(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openReviewStore(cfg *config.Config) (review.ReviewStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return review.NewMemReviews(), func() {}, nil
	case "sqlite":
		s, err := review.NewSQLiteReviews(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "mysql":
		s, err := review.NewMySQLReviews(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, func(), error) {
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		return nil, nil, fmt.Errorf("environment variable %s is not set", cfg.LLM.APIKeyEnv)
	}

	switch cfg.LLM.Provider {
	case llm.ProviderAnthropic:
		g, err := anthropic.New(apiKey, cfg.LLM.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {}, nil
	case llm.ProviderOpenAI:
		g, err := openai.New(apiKey, cfg.LLM.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {}, nil
	case llm.ProviderGoogle:
		g, err := google.New(ctx, apiKey, cfg.LLM.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { g.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
