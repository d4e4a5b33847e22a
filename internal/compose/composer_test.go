package compose

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"krishibot/internal/domain"
)

type stubResponder struct {
	gotPrompt string
	reply     string
	err       error
}

func (s *stubResponder) Complete(ctx context.Context, prompt string) (string, error) {
	s.gotPrompt = prompt
	return s.reply, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestComposer_TextUsesAnswerQuestion(t *testing.T) {
	r := &stubResponder{reply: "വളം ഇടുക"}
	c := NewComposer(ComposerConfig{Responder: r, LanguageTag: "ml", Logger: testLogger()})

	reply, err := c.Compose(context.Background(), domain.ModalityText, "ഇല മഞ്ഞയാണ്")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if reply != "വളം ഇടുക" {
		t.Errorf("unexpected reply %q", reply)
	}
	if !strings.Contains(r.gotPrompt, "Farmer: ഇല മഞ്ഞയാണ്") {
		t.Errorf("prompt missing farmer question: %q", r.gotPrompt)
	}
	if !strings.Contains(r.gotPrompt, "Malayalam") {
		t.Errorf("prompt missing language name: %q", r.gotPrompt)
	}
}

func TestComposer_VoiceUsesAnswerQuestion(t *testing.T) {
	r := &stubResponder{reply: "ok"}
	c := NewComposer(ComposerConfig{Responder: r, LanguageTag: "ml", Logger: testLogger()})

	if _, err := c.Compose(context.Background(), domain.ModalityVoice, "transcript"); err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.Contains(r.gotPrompt, "Farmer: transcript") {
		t.Errorf("voice should reuse the question template, got %q", r.gotPrompt)
	}
}

func TestComposer_ImageUsesExplainFinding(t *testing.T) {
	r := &stubResponder{reply: "ok"}
	c := NewComposer(ComposerConfig{Responder: r, LanguageTag: "ml", Logger: testLogger()})

	if _, err := c.Compose(context.Background(), domain.ModalityImage, "leaf blight on rice"); err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.Contains(r.gotPrompt, "leaf blight on rice") {
		t.Errorf("prompt missing finding: %q", r.gotPrompt)
	}
	if !strings.Contains(r.gotPrompt, "Explain this in simple Malayalam") {
		t.Errorf("image prompt should use the explain template, got %q", r.gotPrompt)
	}
}

func TestComposer_UnsupportedModality(t *testing.T) {
	c := NewComposer(ComposerConfig{Responder: &stubResponder{}, LanguageTag: "ml", Logger: testLogger()})

	if _, err := c.Compose(context.Background(), domain.ModalityUnsupported, ""); err == nil {
		t.Fatal("expected error for unsupported modality")
	}
}

func TestComposer_ResponderErrorPassesThrough(t *testing.T) {
	want := domain.NewCapabilityError("respond", domain.KindQuotaExceeded, "rate limited", nil)
	r := &stubResponder{err: want}
	c := NewComposer(ComposerConfig{Responder: r, LanguageTag: "ml", Logger: testLogger()})

	_, err := c.Compose(context.Background(), domain.ModalityText, "q")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindQuotaExceeded {
		t.Fatalf("expected the responder's capability error, got %v", err)
	}
}

func TestLoadTemplates_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := "templates:\n  answer-question: \"Q={{.question}} L={{.language}}\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tmpls, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err := tmpls.Render(TemplateAnswerQuestion, map[string]string{"question": "hi", "language": "English"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Q=hi L=English" {
		t.Errorf("override not applied, got %q", out)
	}
	// Templates not mentioned in the file keep their defaults.
	if !tmpls.Has(TemplateExplainFinding) {
		t.Error("default template lost after override load")
	}
}

func TestLoadTemplates_MissingFile(t *testing.T) {
	if _, err := LoadTemplates("/nonexistent/templates.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadTemplates_BadTemplateSyntax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	if err := os.WriteFile(path, []byte("templates:\n  answer-question: \"{{.question\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTemplates(path); err == nil {
		t.Fatal("expected parse error for broken template")
	}
}

func TestLanguageName(t *testing.T) {
	if got := LanguageName("ml"); got != "Malayalam" {
		t.Errorf("ml => %q", got)
	}
	if got := LanguageName("ML"); got != "Malayalam" {
		t.Errorf("tag lookup should be case-insensitive, got %q", got)
	}
	if got := LanguageName("xx"); got != "xx" {
		t.Errorf("unknown tag should fall back to itself, got %q", got)
	}
}
