// Package channel adapts messaging transports to the pipeline: it turns
// webhook payloads into inbound messages, delivers the finished reply in
// each transport's native format, and carries voice clips back out.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"krishibot/internal/config"
	"krishibot/internal/domain"
	"krishibot/internal/pipeline"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Pipeline is the slice of the orchestrator the channels need.
type Pipeline interface {
	Handle(ctx context.Context, msg domain.InboundMessage) *pipeline.Run
	NotifyDelivered(run *pipeline.Run)
}

// Twilio serves the WhatsApp webhook through Twilio's messaging API and
// implements domain.VoiceSender for the voice side channel.
type Twilio struct {
	cfg      config.TwilioConfig
	pipeline Pipeline
	logger   *slog.Logger
	client   *http.Client
	apiBase  string
}

type TwilioChannelConfig struct {
	Config   config.TwilioConfig
	Pipeline Pipeline
	Logger   *slog.Logger

	// APIBase overrides the Twilio REST endpoint, for tests.
	APIBase string
}

func NewTwilio(cfg TwilioChannelConfig) *Twilio {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = twilioAPIBase
	}
	return &Twilio{
		cfg:      cfg.Config,
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger,
		client:   &http.Client{Timeout: 30 * time.Second},
		apiBase:  apiBase,
	}
}

func (t *Twilio) Name() string { return "whatsapp" }

// Handler returns the webhook handler to mount at cfg.WebhookPath.
func (t *Twilio) Handler() http.Handler {
	return http.HandlerFunc(t.handleIncoming)
}

// handleIncoming processes one Twilio message webhook. The TwiML response
// body is the reply delivery, so the pipeline is notified only after the
// response has been written.
func (t *Twilio) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		t.logger.Warn("twilio bad form payload", "err", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	if t.cfg.ValidateSignature {
		sig := r.Header.Get("X-Twilio-Signature")
		if !t.verifySignature(r.PostForm, t.webhookURL(r), sig) {
			t.logger.Warn("twilio invalid signature", "remote", r.RemoteAddr)
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
	}

	msg := domain.InboundMessage{
		Channel:   t.Name(),
		ChatID:    r.PostFormValue("From"),
		SenderID:  r.PostFormValue("From"),
		Body:      r.PostFormValue("Body"),
		Timestamp: time.Now(),
	}
	if r.PostFormValue("NumMedia") != "" && r.PostFormValue("NumMedia") != "0" {
		msg.Media = &domain.MediaRef{
			URL:         r.PostFormValue("MediaUrl0"),
			ContentType: r.PostFormValue("MediaContentType0"),
		}
	}

	run := t.pipeline.Handle(r.Context(), msg)

	rw.Header().Set("Content-Type", "text/xml")
	if err := writeTwiML(rw, run.Reply); err != nil {
		t.logger.Error("twiml write failed", "run_id", run.ID, "err", err)
		return
	}
	t.pipeline.NotifyDelivered(run)
}

// webhookURL reconstructs the public URL Twilio signed. Twilio signs the
// URL it was configured with, which is the public one, not the local
// listener address.
func (t *Twilio) webhookURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.Path
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// verifySignature checks X-Twilio-Signature: base64 HMAC-SHA1 of the URL
// concatenated with each POST parameter name and value in sorted order.
func (t *Twilio) verifySignature(form url.Values, fullURL, signature string) bool {
	if signature == "" {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(t.cfg.AuthToken))
	mac.Write([]byte(sb.String()))
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(computed))
}

// Send delivers a proactive message outside the webhook cycle and returns
// the Twilio message SID.
func (t *Twilio) Send(ctx context.Context, to, text string) (string, error) {
	return t.sendMessage(ctx, to, text, "")
}

// SendVoice delivers a synthesized clip as a secondary message carrying
// only the media URL.
func (t *Twilio) SendVoice(ctx context.Context, chatID, mediaURL string) error {
	_, err := t.sendMessage(ctx, chatID, "", mediaURL)
	return err
}

func (t *Twilio) sendMessage(ctx context.Context, to, text, mediaURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.apiBase, t.cfg.AccountSID)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.FromNumber)
	if text != "" {
		form.Set("Body", text)
	}
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("twilio API %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	t.logger.Info("twilio message sent", "to", to, "sid", result.SID, "media", mediaURL != "")
	return result.SID, nil
}

// twimlResponse is the reply document Twilio expects from the webhook.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func writeTwiML(w io.Writer, text string) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(twimlResponse{Message: text})
}
