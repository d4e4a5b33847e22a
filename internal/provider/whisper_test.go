package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"krishibot/internal/domain"
)

func TestWhisper_Transcribe_OK(t *testing.T) {
	var gotModel, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		io.WriteString(w, `{"text":" ഇല മഞ്ഞയാണ് "}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL, Model: "whisper-large-v3", Logger: testLogger()})
	text, err := w.Transcribe(context.Background(), []byte("oggdata"), "note.ogg", "ml")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "ഇല മഞ്ഞയാണ്" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
	if gotModel != "whisper-large-v3" {
		t.Errorf("model field not sent, got %q", gotModel)
	}
	if gotLanguage != "ml" {
		t.Errorf("language hint not passed through, got %q", gotLanguage)
	}
}

func TestWhisper_EmptyTranscript_InvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":""}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := w.Transcribe(context.Background(), []byte("oggdata"), "note.ogg", "")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindInvalidResponse {
		t.Fatalf("expected InvalidResponse for empty transcript, got %v", err)
	}
	if ce.Capability != "transcribe" {
		t.Errorf("expected capability transcribe, got %s", ce.Capability)
	}
}

func TestWhisper_RateLimited_QuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit reached", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := w.Transcribe(context.Background(), []byte("oggdata"), "note.ogg", "")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindQuotaExceeded {
		t.Fatalf("expected QuotaExceeded, got %v", err)
	}
}

func TestWhisper_SendsFilenameWithExtension(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if fhs := r.MultipartForm.File["file"]; len(fhs) == 1 {
			gotFilename = fhs[0].Filename
		}
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := w.Transcribe(context.Background(), []byte("oggdata"), "voice.ogg", ""); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.HasSuffix(gotFilename, ".ogg") {
		t.Errorf("filename should keep the audio extension, got %q", gotFilename)
	}
}
