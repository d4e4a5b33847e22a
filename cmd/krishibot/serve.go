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

	"github.com/spf13/cobra"

	"krishibot/internal/channel"
	"krishibot/internal/compose"
	"krishibot/internal/config"
	"krishibot/internal/media"
	"krishibot/internal/metrics"
	"krishibot/internal/pipeline"
	"krishibot/internal/provider"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and channel pollers",
		Long:  "Starts the HTTP server (Twilio webhook, media serving, metrics) and the Telegram poller when enabled. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Missing credentials are fatal here, never a per-request error.
	if err := config.ValidateCredentials(cfg); err != nil {
		return err
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for all capability adapters.
	adapterTimeout := time.Duration(cfg.Pipeline.AdapterTimeoutSeconds) * time.Second
	httpClient := provider.SharedHTTPClient(adapterTimeout * 2)

	groq := provider.NewGroq(provider.GroqConfig{
		APIBase:     cfg.LLM.APIBase,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
		Client:      httpClient,
		Logger:      logger,
	})
	whisper := provider.NewWhisper(provider.WhisperConfig{
		APIBase: cfg.Speech.STT.APIBase,
		APIKey:  cfg.Speech.STT.APIKey,
		Model:   cfg.Speech.STT.Model,
		Client:  httpClient,
		Logger:  logger,
	})

	templates, err := compose.LoadTemplates(cfg.General.TemplatesPath)
	if err != nil {
		return fmt.Errorf("load prompt templates: %w", err)
	}
	composer := compose.NewComposer(compose.ComposerConfig{
		Templates:   templates,
		Responder:   groq,
		LanguageTag: cfg.General.Language,
		Logger:      logger,
	})

	mediaStore, err := media.NewStore(media.StoreConfig{
		Dir:       cfg.Media.Dir,
		DBPath:    cfg.Media.DBPath,
		BaseURL:   mediaBaseURL(cfg),
		Retention: time.Duration(cfg.Media.RetentionMinutes) * time.Minute,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("media store: %w", err)
	}
	defer mediaStore.Close()
	go mediaStore.RunJanitor(ctx, 5*time.Minute)

	fetcher := media.NewHTTPFetcher(media.FetcherConfig{
		Client:   httpClient,
		AuthHost: "api.twilio.com",
		Username: cfg.Channels.Twilio.AccountSID,
		Password: cfg.Channels.Twilio.AuthToken,
		Logger:   logger,
	})

	var voiceGen *pipeline.VoiceGenerator
	if cfg.General.VoiceReplyEnabled {
		tts := provider.NewTTS(provider.TTSConfig{
			Provider: cfg.Speech.TTS.Provider,
			APIBase:  cfg.Speech.TTS.APIBase,
			APIKey:   cfg.Speech.TTS.APIKey,
			Model:    cfg.Speech.TTS.Model,
			Voice:    cfg.Speech.TTS.Voice,
			Client:   httpClient,
			Logger:   logger,
		})
		voiceGen = pipeline.NewVoiceGenerator(pipeline.VoiceConfig{
			Synthesizer: tts,
			Store:       mediaStore,
			LanguageTag: cfg.General.Language,
			Timeout:     time.Duration(cfg.Pipeline.VoiceTimeoutSeconds) * time.Second,
			QueueSize:   cfg.Pipeline.VoiceQueueSize,
			Workers:     cfg.Pipeline.VoiceWorkers,
			Logger:      logger,
		})
		voiceGen.Start(ctx)
		logger.Info("voice replies enabled", "tts_provider", cfg.Speech.TTS.Provider)
	}

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Transcriber:      whisper,
		Vision:           groq,
		Composer:         composer,
		Fetcher:          fetcher,
		Voice:            voiceGen,
		FallbackReply:    cfg.General.FallbackReply,
		UnsupportedReply: cfg.General.UnsupportedReply,
		LanguageTag:      cfg.General.Language,
		AdapterTimeout:   adapterTimeout,
		Concurrency:      cfg.Pipeline.Concurrency,
		Logger:           logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}
	mux.Handle("/media/", mediaStore.Handler())

	if cfg.Channels.Twilio.Enabled {
		twilio := channel.NewTwilio(channel.TwilioChannelConfig{
			Config:   cfg.Channels.Twilio,
			Pipeline: orch,
			Logger:   logger,
		})
		webhookPath := cfg.Channels.Twilio.WebhookPath
		if webhookPath == "" {
			webhookPath = "/webhook/whatsapp"
		}
		mux.Handle(webhookPath, twilio.Handler())
		if voiceGen != nil {
			voiceGen.RegisterSender(twilio.Name(), twilio)
		}
		logger.Info("twilio channel enabled", "webhook", webhookPath)
	}

	if cfg.Channels.Telegram.Enabled {
		telegram := channel.NewTelegram(channel.TelegramChannelConfig{
			Token:    cfg.Channels.Telegram.Token,
			Pipeline: orch,
			Logger:   logger,
		})
		if err := telegram.Connect(); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		if voiceGen != nil {
			voiceGen.RegisterSender(telegram.Name(), telegram)
		}
		go func() {
			if err := telegram.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}
	if voiceGen != nil {
		voiceGen.Wait()
	}
	logger.Info("shutdown complete")
	return nil
}

// mediaBaseURL resolves the public prefix clips are served under. Falls
// back to the Twilio public URL plus /media when media.baseUrl is unset.
func mediaBaseURL(cfg *config.Config) string {
	if cfg.Media.BaseURL != "" {
		return cfg.Media.BaseURL
	}
	if cfg.Channels.Twilio.PublicURL != "" {
		return strings.TrimRight(cfg.Channels.Twilio.PublicURL, "/") + "/media"
	}
	return fmt.Sprintf("http://%s:%d/media", cfg.Server.Host, cfg.Server.Port)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
