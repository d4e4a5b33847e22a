package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"krishibot/internal/domain"
)

// Groq implements domain.Responder and domain.VisionAnalyzer against an
// OpenAI-compatible chat completions API (Groq by default). A single
// instance is shared across concurrent pipeline runs; it holds no
// per-request state.
type Groq struct {
	apiBase     string
	apiKey      string
	model       string
	visionModel string
	client      *http.Client
	logger      *slog.Logger
}

type GroqConfig struct {
	APIBase     string
	APIKey      string
	Model       string
	VisionModel string
	Client      *http.Client
	Logger      *slog.Logger
}

func NewGroq(cfg GroqConfig) *Groq {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-8b-instant"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "llama-3.2-11b-vision-preview"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Groq{
		apiBase:     cfg.APIBase,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// chatMessage content is either a plain string or, for vision calls, a list
// of content parts.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"` // "text" | "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete produces the reply text for a rendered prompt. The result is
// trimmed of surrounding whitespace; an empty completion is InvalidResponse.
func (g *Groq) Complete(ctx context.Context, prompt string) (string, error) {
	text, err := g.chat(ctx, "respond", g.model, []chatMessage{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	g.logger.Debug("completion received", "len", len(text))
	return text, nil
}

// Analyze describes a crop photo as plain-text findings using the vision
// model. The image travels inline as a base64 data URL.
func (g *Groq) Analyze(ctx context.Context, image []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))
	text, err := g.chat(ctx, "vision", g.visionModel, []chatMessage{
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: "Describe the condition of the plant in this photo. Name the crop if recognizable, and any visible disease, pest damage, or nutrient deficiency. Answer in short plain sentences."},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		}},
	})
	if err != nil {
		return "", err
	}
	g.logger.Info("image analyzed", "findings_len", len(text))
	return text, nil
}

func (g *Groq) chat(ctx context.Context, capability, model string, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", classifyTransport(capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", classifyStatus(capability, resp.StatusCode, respBody)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "decode response", err)
	}
	if len(out.Choices) == 0 {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "no choices in response", nil)
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "empty completion text", nil)
	}
	return text, nil
}
