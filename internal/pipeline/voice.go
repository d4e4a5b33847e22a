package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"krishibot/internal/domain"
	"krishibot/internal/media"
	"krishibot/internal/metrics"
)

// VoiceJob asks the generator to speak one finalized reply back into a
// conversation.
type VoiceJob struct {
	RunID   string
	Channel string
	ChatID  string
	Text    string
}

// VoiceGenerator synthesizes voice clips for delivered replies and sends
// them as a detached side channel. Failures are counted and logged, never
// surfaced to the conversation.
type VoiceGenerator struct {
	synth   domain.SpeechSynthesizer
	store   *media.Store
	timeout time.Duration
	tag     string
	workers int

	mu      sync.RWMutex
	senders map[string]domain.VoiceSender

	queue  chan VoiceJob
	wg     sync.WaitGroup
	logger *slog.Logger
}

type VoiceConfig struct {
	Synthesizer domain.SpeechSynthesizer
	Store       *media.Store
	LanguageTag string
	Timeout     time.Duration
	QueueSize   int
	Workers     int
	Logger      *slog.Logger
}

func NewVoiceGenerator(cfg VoiceConfig) *VoiceGenerator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &VoiceGenerator{
		synth:   cfg.Synthesizer,
		store:   cfg.Store,
		timeout: cfg.Timeout,
		tag:     cfg.LanguageTag,
		workers: cfg.Workers,
		senders: make(map[string]domain.VoiceSender),
		queue:   make(chan VoiceJob, cfg.QueueSize),
		logger:  cfg.Logger,
	}
}

// RegisterSender wires the delivery half for one channel. Called during
// startup before Start; not safe to race with job processing otherwise.
func (g *VoiceGenerator) RegisterSender(channel string, s domain.VoiceSender) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.senders[channel] = s
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled, then finish the job in hand and exit.
func (g *VoiceGenerator) Start(ctx context.Context) {
	for i := 0; i < g.workers; i++ {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-g.queue:
					g.process(job)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (g *VoiceGenerator) Wait() {
	g.wg.Wait()
}

// Enqueue hands a job to the worker pool without blocking the caller. A
// full queue drops the job; the text reply has already been delivered, so
// dropping costs only the optional clip.
func (g *VoiceGenerator) Enqueue(job VoiceJob) bool {
	select {
	case g.queue <- job:
		return true
	default:
		metrics.VoiceFailures.Inc()
		g.logger.Warn("voice queue full, dropping job", "run_id", job.RunID)
		return false
	}
}

func (g *VoiceGenerator) process(job VoiceJob) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	g.mu.RLock()
	sender, ok := g.senders[job.Channel]
	g.mu.RUnlock()
	if !ok {
		metrics.VoiceFailures.Inc()
		g.logger.Warn("no voice sender for channel", "run_id", job.RunID, "channel", job.Channel)
		return
	}

	audio, err := g.synth.Synthesize(ctx, job.Text, g.tag)
	if err != nil {
		metrics.VoiceFailures.Inc()
		g.logger.Warn("voice synthesis failed", "run_id", job.RunID, "error", err)
		return
	}

	asset, err := g.store.Put(ctx, job.RunID, job.ChatID, audio)
	if err != nil {
		metrics.VoiceFailures.Inc()
		g.logger.Warn("cannot store voice clip", "run_id", job.RunID, "error", err)
		return
	}

	if err := sender.SendVoice(ctx, job.ChatID, asset.PublicURL); err != nil {
		metrics.VoiceFailures.Inc()
		g.logger.Warn("voice delivery failed", "run_id", job.RunID, "error", err)
		return
	}

	if err := g.store.MarkDelivered(ctx, asset.ID); err != nil {
		g.logger.Warn("cannot mark voice clip delivered", "asset_id", asset.ID, "error", err)
	}

	metrics.VoiceReplies.Inc()
	g.logger.Info("voice reply delivered", "run_id", job.RunID, "bytes", len(audio))
}
