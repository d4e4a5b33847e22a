package domain

import "strings"

// Modality is the detected kind of inbound content.
type Modality string

const (
	ModalityText        Modality = "text"
	ModalityVoice       Modality = "voice"
	ModalityImage       Modality = "image"
	ModalityUnsupported Modality = "unsupported"
)

// Classify derives the modality of an inbound message. It is total: every
// input maps to a modality, never an error. Text takes priority over any
// attached media; media kind is decided by substring match on the declared
// content type ("audio/ogg", "image/jpeg", ...).
func Classify(msg InboundMessage) Modality {
	if strings.TrimSpace(msg.Body) != "" {
		return ModalityText
	}
	if msg.Media == nil {
		return ModalityUnsupported
	}
	ct := strings.ToLower(msg.Media.ContentType)
	switch {
	case strings.Contains(ct, "audio"):
		return ModalityVoice
	case strings.Contains(ct, "image"):
		return ModalityImage
	default:
		return ModalityUnsupported
	}
}
