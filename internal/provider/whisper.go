package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"krishibot/internal/domain"
)

// Whisper implements domain.Transcriber using the OpenAI-compatible Whisper
// API (Groq whisper-large-v3 by default). No retries at this layer.
type Whisper struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type WhisperConfig struct {
	APIBase string // e.g. "https://api.groq.com/openai/v1"
	APIKey  string
	Model   string // e.g. "whisper-large-v3" (Groq) or "whisper-1" (OpenAI)
	Client  *http.Client
	Logger  *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &Whisper{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe converts a voice note to text. filename must carry the audio
// extension (e.g. "note.ogg") so the engine can sniff the container; the
// language hint is an ISO-639-1 tag and may be empty. An empty transcript
// surfaces as InvalidResponse.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, filename, languageHint string) (string, error) {
	const capability = "transcribe"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "create form file", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "write audio data", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if languageHint != "" {
		writer.WriteField("language", languageHint)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", &body)
	if err != nil {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", classifyTransport(capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", classifyStatus(capability, resp.StatusCode, respBody)
	}

	var result transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "decode response", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", domain.NewCapabilityError(capability, domain.KindInvalidResponse, "empty transcript", nil)
	}

	w.logger.Info("transcription complete", "text_len", len(text), "language_hint", languageHint)
	return text, nil
}
