// Package pipeline drives one inbound message from classification through
// capability calls to a finalized reply, with a guaranteed fallback on any
// failure, and hands finished runs to the voice side channel.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"krishibot/internal/compose"
	"krishibot/internal/domain"
	"krishibot/internal/metrics"
)

// Orchestrator is the per-message state machine. One Handle call per inbound
// message; calls are safe to run concurrently because all shared collaborators
// are stateless, connection-pooled clients.
type Orchestrator struct {
	transcriber domain.Transcriber
	vision      domain.VisionAnalyzer
	composer    *compose.Composer
	fetcher     domain.MediaFetcher
	voice       *VoiceGenerator // nil when voice replies are disabled

	fallbackReply    string
	unsupportedReply string
	languageTag      string
	adapterTimeout   time.Duration

	sem    chan struct{}
	logger *slog.Logger
}

type OrchestratorConfig struct {
	Transcriber domain.Transcriber
	Vision      domain.VisionAnalyzer
	Composer    *compose.Composer
	Fetcher     domain.MediaFetcher
	Voice       *VoiceGenerator

	FallbackReply    string
	UnsupportedReply string
	LanguageTag      string
	AdapterTimeout   time.Duration
	Concurrency      int
	Logger           *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 30 * time.Second
	}
	return &Orchestrator{
		transcriber:      cfg.Transcriber,
		vision:           cfg.Vision,
		composer:         cfg.Composer,
		fetcher:          cfg.Fetcher,
		voice:            cfg.Voice,
		fallbackReply:    cfg.FallbackReply,
		unsupportedReply: cfg.UnsupportedReply,
		languageTag:      cfg.LanguageTag,
		adapterTimeout:   cfg.AdapterTimeout,
		sem:              make(chan struct{}, cfg.Concurrency),
		logger:           cfg.Logger,
	}
}

// Handle runs the full pipeline for one message and always returns a run
// with a non-empty reply. Capability failures never escape: they degrade
// to the fallback reply and are kept on the run for diagnostics.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) *Run {
	run := newRun(msg)

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		run.Modality = domain.Classify(msg)
		return o.fallback(run, domain.NewCapabilityError("pipeline", domain.KindTimeout,
			"request cancelled before processing", ctx.Err()))
	}

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	run.Modality = domain.Classify(msg)
	metrics.Messages(string(run.Modality)).Inc()

	o.logger.Info("message received",
		"run_id", run.ID,
		"channel", run.Channel,
		"modality", run.Modality,
	)

	switch run.Modality {
	case domain.ModalityText:
		run.Input = strings.TrimSpace(msg.Body)

	case domain.ModalityVoice:
		transcript, err := o.transcribe(ctx, msg)
		if err != nil {
			return o.fallback(run, err)
		}
		run.Input = transcript

	case domain.ModalityImage:
		findings, err := o.analyze(ctx, msg)
		if err != nil {
			return o.fallback(run, err)
		}
		run.Input = findings

	default:
		run.Kind = ReplyUnsupported
		run.Reply = o.unsupportedReply
		metrics.Fallbacks("unsupported_modality").Inc()
		o.logger.Info("unsupported message", "run_id", run.ID,
			"content_type", mediaContentType(msg))
		return run
	}

	reply, err := o.composeReply(ctx, run)
	if err != nil {
		return o.fallback(run, err)
	}

	run.Kind = ReplyNormal
	run.Reply = reply
	metrics.RepliesTotal.Inc()
	o.logger.Info("reply composed",
		"run_id", run.ID,
		"modality", run.Modality,
		"reply_len", len(reply),
		"elapsed", time.Since(run.StartedAt).Round(time.Millisecond),
	)
	return run
}

// NotifyDelivered tells the orchestrator the text reply reached the
// conversation. Only now is the voice side channel allowed to start, so a
// voice failure can never precede or replace the primary reply.
func (o *Orchestrator) NotifyDelivered(run *Run) {
	if run.Kind != ReplyNormal || o.voice == nil {
		return
	}
	o.voice.Enqueue(VoiceJob{
		RunID:   run.ID,
		Channel: run.Channel,
		ChatID:  run.ChatID,
		Text:    run.Reply,
	})
}

func (o *Orchestrator) transcribe(ctx context.Context, msg domain.InboundMessage) (string, error) {
	audio, err := o.fetchMedia(ctx, msg)
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	defer cancel()

	start := time.Now()
	transcript, err := o.transcriber.Transcribe(cctx, audio, filenameFor(msg), o.languageTag)
	metrics.CapabilityLatency("transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return transcript, nil
}

func (o *Orchestrator) analyze(ctx context.Context, msg domain.InboundMessage) (string, error) {
	image, err := o.fetchMedia(ctx, msg)
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	defer cancel()

	start := time.Now()
	findings, err := o.vision.Analyze(cctx, image, msg.Media.ContentType)
	metrics.CapabilityLatency("vision").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return findings, nil
}

func (o *Orchestrator) fetchMedia(ctx context.Context, msg domain.InboundMessage) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	defer cancel()

	start := time.Now()
	data, err := o.fetcher.Fetch(cctx, msg.Media.URL)
	metrics.CapabilityLatency("fetch_media").Observe(time.Since(start).Seconds())
	return data, err
}

func (o *Orchestrator) composeReply(ctx context.Context, run *Run) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
	defer cancel()

	start := time.Now()
	reply, err := o.composer.Compose(cctx, run.Modality, run.Input)
	metrics.CapabilityLatency("respond").Observe(time.Since(start).Seconds())
	return reply, err
}

func (o *Orchestrator) fallback(run *Run, err error) *Run {
	run.recordError(err)
	run.Kind = ReplyFallback
	run.Reply = o.fallbackReply
	kind := run.LastErrorKind()
	metrics.Fallbacks(string(kind)).Inc()
	o.logger.Warn("fallback reply",
		"run_id", run.ID,
		"modality", run.Modality,
		"error_kind", kind,
		"error", err,
	)
	return run
}

func filenameFor(msg domain.InboundMessage) string {
	ct := strings.ToLower(msg.Media.ContentType)
	switch {
	case strings.Contains(ct, "ogg"):
		return "voice.ogg"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "voice.mp3"
	case strings.Contains(ct, "wav"):
		return "voice.wav"
	case strings.Contains(ct, "m4a"), strings.Contains(ct, "mp4"):
		return "voice.m4a"
	default:
		return "voice.ogg"
	}
}

func mediaContentType(msg domain.InboundMessage) string {
	if msg.Media == nil {
		return ""
	}
	return msg.Media.ContentType
}
