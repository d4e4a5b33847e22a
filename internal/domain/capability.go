package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a capability failure for fallback accounting.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindTransportFailure ErrorKind = "transport_failure"
	KindInvalidResponse  ErrorKind = "invalid_response"
	KindQuotaExceeded    ErrorKind = "quota_exceeded"
)

// CapabilityError is the only error type that crosses an adapter boundary.
// Adapters never panic or leak raw transport errors; they wrap everything
// into a kind plus an opaque diagnostic.
type CapabilityError struct {
	Capability string // "transcribe" | "vision" | "respond" | "synthesize"
	Kind       ErrorKind
	Detail     string
	Err        error // underlying cause, for logs only
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Capability, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Capability, e.Kind, e.Detail)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// NewCapabilityError builds a classified adapter error.
func NewCapabilityError(capability string, kind ErrorKind, detail string, cause error) *CapabilityError {
	return &CapabilityError{Capability: capability, Kind: kind, Detail: detail, Err: cause}
}

// AsCapabilityError returns err as a *CapabilityError. Unclassified errors
// are treated as InvalidResponse for fallback purposes but keep a distinct
// "unclassified" diagnostic so provider errors and bugs stay tellable apart.
func AsCapabilityError(capability string, err error) *CapabilityError {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce
	}
	return &CapabilityError{Capability: capability, Kind: KindInvalidResponse, Detail: "unclassified failure", Err: err}
}

// Transcriber converts a voice note into text. Empty transcripts surface as
// InvalidResponse. No retries at this layer.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, languageHint string) (string, error)
}

// VisionAnalyzer describes what a crop/plant photo shows, as plain text
// findings suitable for the explain-finding prompt.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, image []byte, contentType string) (string, error)
}

// Responder produces the reply text for a fully rendered prompt.
type Responder interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SpeechSynthesizer renders reply text as an audio clip (mp3 bytes).
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, languageTag string) ([]byte, error)
}

// MediaFetcher retrieves attachment bytes from a platform media URL.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// VoiceSender delivers a published voice clip to a conversation as a
// follow-up message. Implemented per channel.
type VoiceSender interface {
	SendVoice(ctx context.Context, chatID, mediaURL string) error
}
