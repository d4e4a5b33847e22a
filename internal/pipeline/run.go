package pipeline

import (
	"time"

	"github.com/google/uuid"

	"krishibot/internal/domain"
)

// ReplyKind says how the run terminated.
type ReplyKind string

const (
	// ReplyNormal is a composed answer from the model.
	ReplyNormal ReplyKind = "normal"
	// ReplyFallback is the canned reply substituted after a capability failure.
	ReplyFallback ReplyKind = "fallback"
	// ReplyUnsupported is the canned reply for attachments the bot cannot handle.
	ReplyUnsupported ReplyKind = "unsupported"
)

// Run is the request-scoped context for one inbound message. It is owned by
// a single Handle invocation and never shared across runs; every ephemeral
// artifact of the run is namespaced by its ID.
type Run struct {
	ID       string
	Channel  string
	ChatID   string
	SenderID string

	Modality domain.Modality

	// Input is the farmer's text after any capability step: the raw body
	// for text, the transcript for voice, the findings for images.
	Input string

	Reply     string
	Kind      ReplyKind
	StartedAt time.Time

	// Errors collects recoverable capability failures in the order they
	// occurred. Populated only on fallback runs.
	Errors []*domain.CapabilityError
}

func newRun(msg domain.InboundMessage) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		StartedAt: time.Now(),
	}
}

func (r *Run) recordError(err error) {
	r.Errors = append(r.Errors, domain.AsCapabilityError("pipeline", err))
}

// LastErrorKind returns the kind of the most recent capability failure, or
// empty when the run had none.
func (r *Run) LastErrorKind() domain.ErrorKind {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[len(r.Errors)-1].Kind
}
