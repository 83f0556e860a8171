package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ostrella/voxcart/internal/config"
	"github.com/ostrella/voxcart/internal/history"
	"github.com/ostrella/voxcart/internal/httpapi"
	"github.com/ostrella/voxcart/internal/observability"
	"github.com/ostrella/voxcart/internal/relay"
	"github.com/ostrella/voxcart/internal/session"
	"github.com/ostrella/voxcart/internal/synth"
	"github.com/ostrella/voxcart/internal/tools"
	"github.com/ostrella/voxcart/internal/understand"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	historyStore, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer historyStore.Close()

	var understanding understand.Backend
	if strings.TrimSpace(cfg.UnderstandURL) != "" {
		understanding = understand.NewClient(cfg.UnderstandURL, cfg.UnderstandToken,
			understand.WithPolling(cfg.PollInterval, cfg.MaxPollAttempts))
		log.Printf("understanding backend: %s", cfg.UnderstandURL)
	} else {
		understanding = understand.NewMockBackend()
		log.Printf("understanding backend: mock (UNDERSTAND_URL not set)")
	}

	var synthesis synth.Backend
	if strings.TrimSpace(cfg.SynthesisURL) != "" {
		synthesis = synth.NewClient(cfg.SynthesisURL, cfg.SynthesisAPIKey)
		log.Printf("synthesis backend: %s", cfg.SynthesisURL)
	} else {
		synthesis = synth.NewMockBackend()
		log.Printf("synthesis backend: mock (SYNTHESIS_URL not set)")
	}

	var toolExec tools.Executor
	if strings.TrimSpace(cfg.ToolProxyURL) != "" {
		toolExec = tools.NewHTTPExecutor(cfg.ToolProxyURL)
		log.Printf("tool executor: %s", cfg.ToolProxyURL)
	} else {
		toolExec = tools.NewMockExecutor()
		log.Printf("tool executor: mock (TOOL_PROXY_URL not set)")
	}

	registry := session.NewRegistry(cfg.SessionIdleTimeout)
	registry.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(registry.ActiveCount()))
	})

	orchestrator := relay.NewOrchestrator(
		registry,
		understanding,
		synthesis,
		toolExec,
		historyStore,
		metrics,
		relay.Config{
			FlushFragmentCount: cfg.FlushFragmentCount,
			FlushByteCeiling:   cfg.FlushByteCeiling,
			TurnTimeout:        cfg.TurnTimeout,
			ToolTimeout:        cfg.ToolTimeout,
		},
		synth.VoiceConfig{
			VoiceID: cfg.SynthesisVoiceID,
			ModelID: cfg.SynthesisModelID,
		},
	)

	api := httpapi.New(cfg, registry, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("relay listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
