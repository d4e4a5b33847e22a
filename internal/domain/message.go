package domain

import "time"

// MediaRef points at an attachment on the originating platform. The URL may
// require channel credentials to fetch (Twilio media URLs do).
type MediaRef struct {
	URL         string
	ContentType string
}

// InboundMessage is one message received from a chat platform webhook or
// poller. Immutable once constructed; exactly one exists per pipeline run.
type InboundMessage struct {
	Channel   string // "whatsapp" | "telegram"
	ChatID    string // opaque conversation handle, e.g. "whatsapp:+9194..."
	SenderID  string
	Body      string    // text content, possibly empty
	Media     *MediaRef // nil when the message carries no attachment
	Timestamp time.Time
}
