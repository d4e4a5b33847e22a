package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"krishibot/internal/domain"
)

// TTS implements domain.SpeechSynthesizer. It is only ever invoked by the
// voice reply generator, off the primary reply path.
type TTS struct {
	provider string
	apiBase  string
	apiKey   string
	model    string
	voice    string
	client   *http.Client
	logger   *slog.Logger
}

type TTSConfig struct {
	Provider string // "openai" | "elevenlabs"
	APIBase  string
	APIKey   string
	Model    string // e.g. "tts-1" (OpenAI)
	Voice    string // e.g. "alloy" (OpenAI) or a voice ID (ElevenLabs)
	Client   *http.Client
	Logger   *slog.Logger
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &TTS{
		provider: cfg.Provider,
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

// Synthesize renders text as an mp3 clip. The language tag is advisory; both
// backends detect language from the text itself.
func (t *TTS) Synthesize(ctx context.Context, text, languageTag string) ([]byte, error) {
	const capability = "synthesize"

	var (
		url     string
		payload any
		headers map[string]string
	)
	switch t.provider {
	case "openai":
		url = t.apiBase + "/audio/speech"
		payload = map[string]string{"model": t.model, "input": text, "voice": t.voice}
		headers = map[string]string{"Authorization": "Bearer " + t.apiKey}
	case "elevenlabs":
		url = fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", t.voice)
		payload = map[string]string{"text": text, "model_id": "eleven_multilingual_v2"}
		headers = map[string]string{"xi-api-key": t.apiKey, "Accept": "audio/mpeg"}
	default:
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse,
			fmt.Sprintf("unsupported TTS provider: %s", t.provider), nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransport(capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(capability, resp.StatusCode, respBody)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse, "read audio body", err)
	}
	if len(audio) == 0 {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse, "empty audio body", nil)
	}

	t.logger.Info("speech synthesized", "bytes", len(audio), "language", languageTag)
	return audio, nil
}
