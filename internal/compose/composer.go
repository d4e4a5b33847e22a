// Package compose turns capability output into the outbound reply text.
// It owns template selection and rendering; the only external call it makes
// is the delegation to the Responder.
package compose

import (
	"context"
	"fmt"
	"log/slog"

	"krishibot/internal/domain"
)

// Composer selects the prompt template for a modality, renders it, and
// forwards the prompt to the Responder.
type Composer struct {
	templates *Templates
	responder domain.Responder
	language  string // display name, e.g. "Malayalam"
	logger    *slog.Logger
}

type ComposerConfig struct {
	Templates   *Templates
	Responder   domain.Responder
	LanguageTag string // ISO-639-1, e.g. "ml"
	Logger      *slog.Logger
}

func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates()
	}
	return &Composer{
		templates: cfg.Templates,
		responder: cfg.Responder,
		language:  LanguageName(cfg.LanguageTag),
		logger:    cfg.Logger,
	}
}

// Compose builds the reply for the given modality. input is the farmer's
// text for Text/Voice (post-transcription) and the vision findings for
// Image. Responder failures come back as *domain.CapabilityError.
func (c *Composer) Compose(ctx context.Context, modality domain.Modality, input string) (string, error) {
	var (
		templateID string
		vars       map[string]string
	)
	switch modality {
	case domain.ModalityText, domain.ModalityVoice:
		templateID = TemplateAnswerQuestion
		vars = map[string]string{"question": input, "language": c.language}
	case domain.ModalityImage:
		templateID = TemplateExplainFinding
		vars = map[string]string{"finding": input, "language": c.language}
	default:
		return "", fmt.Errorf("no prompt template for modality %s", modality)
	}

	prompt, err := c.templates.Render(templateID, vars)
	if err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}

	c.logger.Debug("prompt composed", "template", templateID, "prompt_len", len(prompt))
	return c.responder.Complete(ctx, prompt)
}
