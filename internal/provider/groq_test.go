package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"krishibot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func completionJSON(content string) string {
	return `{"choices":[{"message":{"content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestProviders_UseInjectedHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: 42 * time.Second}

	if g := NewGroq(GroqConfig{Client: custom, Logger: testLogger()}); g.client != custom {
		t.Error("groq should use the injected client")
	}
	if w := NewWhisper(WhisperConfig{Client: custom, Logger: testLogger()}); w.client != custom {
		t.Error("whisper should use the injected client")
	}
	if s := NewTTS(TTSConfig{Client: custom, Logger: testLogger()}); s.client != custom {
		t.Error("tts should use the injected client")
	}

	if g := NewGroq(GroqConfig{Logger: testLogger()}); g.client == nil {
		t.Error("groq should fall back to the shared client")
	}
}

func TestGroq_Complete_TrimsWhitespace(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gsk_test" {
			t.Errorf("missing auth header, got %q", got)
		}
		io.WriteString(w, completionJSON("  Use urea in split doses.  \n"))
	})

	g := NewGroq(GroqConfig{APIBase: srv.URL, APIKey: "gsk_test", Logger: testLogger()})
	text, err := g.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Use urea in split doses." {
		t.Errorf("expected trimmed completion, got %q", text)
	}
}

func TestGroq_Complete_EmptyCompletion(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionJSON("   "))
	})

	g := NewGroq(GroqConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Complete(context.Background(), "prompt")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindInvalidResponse {
		t.Fatalf("expected InvalidResponse for empty completion, got %v", err)
	}
}

func TestGroq_Complete_RateLimited(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"rate_limit_exceeded"}}`, http.StatusTooManyRequests)
	})

	g := NewGroq(GroqConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Complete(context.Background(), "prompt")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindQuotaExceeded {
		t.Fatalf("expected QuotaExceeded for 429, got %v", err)
	}
}

func TestGroq_Complete_ServerError(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	g := NewGroq(GroqConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Complete(context.Background(), "prompt")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindTransportFailure {
		t.Fatalf("expected TransportFailure for 502, got %v", err)
	}
}

func TestGroq_Complete_DeadlineExceeded(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		io.WriteString(w, completionJSON("too late"))
	})

	g := NewGroq(GroqConfig{APIBase: srv.URL, Logger: testLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := g.Complete(ctx, "prompt")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindTimeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestGroq_Analyze_SendsInlineImage(t *testing.T) {
	var captured []byte
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		io.WriteString(w, completionJSON("Rice plant with leaf blast lesions."))
	})

	g := NewGroq(GroqConfig{APIBase: srv.URL, VisionModel: "test-vision", Logger: testLogger()})
	findings, err := g.Analyze(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "image/png")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if findings != "Rice plant with leaf blast lesions." {
		t.Errorf("unexpected findings: %q", findings)
	}

	body := string(captured)
	if !strings.Contains(body, `"model":"test-vision"`) {
		t.Error("vision model not used")
	}
	if !strings.Contains(body, "data:image/png;base64,") {
		t.Error("image should travel as a base64 data URL")
	}
}

func TestGroq_Analyze_NoChoices(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	})

	g := NewGroq(GroqConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Analyze(context.Background(), []byte{1}, "image/jpeg")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindInvalidResponse {
		t.Fatalf("expected InvalidResponse for empty choices, got %v", err)
	}
	if ce.Capability != "vision" {
		t.Errorf("expected capability vision, got %s", ce.Capability)
	}
}
