// Command voxmeet-server runs the real-time interpretation gateway.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/voxmeet/voxmeet/internal/dotenv"
	"github.com/voxmeet/voxmeet/pkg/core/speaker"
	"github.com/voxmeet/voxmeet/pkg/core/stt"
	"github.com/voxmeet/voxmeet/pkg/core/synthcache"
	"github.com/voxmeet/voxmeet/pkg/core/translate"
	"github.com/voxmeet/voxmeet/pkg/core/tts"
	"github.com/voxmeet/voxmeet/pkg/gateway/config"
	"github.com/voxmeet/voxmeet/pkg/gateway/fanout"
	"github.com/voxmeet/voxmeet/pkg/gateway/lifecycle"
	"github.com/voxmeet/voxmeet/pkg/gateway/live"
	"github.com/voxmeet/voxmeet/pkg/gateway/metrics"
	"github.com/voxmeet/voxmeet/pkg/gateway/ratelimit"
	"github.com/voxmeet/voxmeet/pkg/gateway/room"
	gatewayserver "github.com/voxmeet/voxmeet/pkg/gateway/server"
	"github.com/voxmeet/voxmeet/pkg/store"
	"github.com/voxmeet/voxmeet/pkg/store/postgres"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildTranslator(ctx context.Context, cfg config.Config) (translate.Translator, error) {
	switch cfg.TranslateProvider {
	case "http":
		return translate.NewHTTP(cfg.TranslateBaseURL, cfg.TranslateAPIKey), nil
	default:
		return translate.NewGemini(ctx, cfg.TranslateAPIKey, cfg.TranslateModel)
	}
}

func run(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil || deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	mets := metrics.New(registry)
	lc := &lifecycle.Lifecycle{}

	// Stores. Without a database URL everything runs in memory.
	mem := store.NewMemory()
	var translations store.TranslationStore = mem
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open translation store: %w", err)
		}
		defer pg.Close()
		translations = pg
		logger.Info("translation store: postgres")
	} else {
		logger.Warn("translation store: in-memory (set VOXMEET_DATABASE_URL for persistence)")
	}

	translator, err := buildTranslator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build translator: %w", err)
	}

	sttClient := stt.NewWSClient(cfg.STTBaseURL, cfg.STTAPIKey, stt.WithModel(cfg.STTModel))
	synthesizer := tts.NewHTTP(cfg.TTSBaseURL, cfg.TTSAPIKey)
	cache := synthcache.New(cfg.CacheMaxEntries)

	hub := room.NewHub(logger)
	manager := speaker.NewManager(sttClient, speaker.Options{Logger: logger}, speaker.ManagerOptions{
		ReapInterval: cfg.ReapInterval,
		IdleTimeout:  cfg.SpeakerIdleTimeout,
		Logger:       logger,
	})
	defer manager.Destroy()

	svc := &fanout.Service{
		Translator:       translator,
		Synthesizer:      synthesizer,
		Cache:            cache,
		Participants:     mem,
		Translations:     translations,
		Rooms:            hub,
		Metrics:          mets,
		Logger:           logger,
		TranslateTimeout: cfg.TranslateTimeout,
	}

	liveHandler := &live.Handler{
		Config:       cfg,
		Logger:       logger,
		Hub:          hub,
		Manager:      manager,
		Fanout:       svc,
		Sessions:     mem,
		Participants: mem,
		Metrics:      mets,
		Lifecycle:    lc,
		Limiter:      ratelimit.NewAudioLimiter(cfg.AudioMaxFPS, cfg.AudioBurstSeconds, nil),
	}

	janitor := &gatewayserver.Janitor{
		Hub:      hub,
		Manager:  manager,
		Sessions: mem,
		Logger:   logger,
	}
	janitor.Start()
	defer janitor.Stop()

	srv := gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Live:      liveHandler,
		Registry:  registry,
		Lifecycle: lc,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting voxmeet server", "addr", cfg.Addr,
		"translate_provider", cfg.TranslateProvider)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("signal received, draining", "signal", sig.String())
	}

	lc.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout(cfg.ShutdownGracePeriod))
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
	for _, sessionID := range hub.Sessions() {
		hub.EndSession(sessionID)
	}
	return nil
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	logger := newLogger(os.Getenv("VOXMEET_LOG_LEVEL"))
	if err := run(context.Background(), logger, defaultServerDeps()); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// drainTimeout keeps a floor under misconfigured grace periods.
func drainTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
