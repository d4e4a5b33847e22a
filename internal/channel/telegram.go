package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"krishibot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram long-polls the Bot API and feeds text, voice notes, and photos
// into the same pipeline as the webhook channel.
type Telegram struct {
	token    string
	pipeline Pipeline

	bot     *tgbotapi.BotAPI
	fileURL func(fileID string) (string, error)
	logger  *slog.Logger
}

type TelegramChannelConfig struct {
	Token    string
	Pipeline Pipeline
	Logger   *slog.Logger
}

func NewTelegram(cfg TelegramChannelConfig) *Telegram {
	return &Telegram{
		token:    cfg.Token,
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates against the Bot API without starting the poll
// loop. Needed for one-shot proactive sends.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.fileURL = bot.GetFileDirectURL
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	if err := t.Connect(); err != nil {
		return err
	}
	bot := t.bot

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}
	m := update.Message
	chatID := m.Chat.ID

	if m.IsCommand() {
		t.handleCommand(chatID, m)
		return
	}

	msg := domain.InboundMessage{
		Channel:   t.Name(),
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		Body:      strings.TrimSpace(firstNonEmpty(m.Text, m.Caption)),
		Timestamp: time.Unix(int64(m.Date), 0),
	}

	msg.Media = t.mediaFor(m)

	// Only genuinely content-less updates (joins, pins, edits) stay silent;
	// every message with content gets exactly one reply.
	if msg.Body == "" && msg.Media == nil {
		return
	}

	t.logger.Info("telegram message received",
		"chat_id", chatID,
		"has_media", msg.Media != nil,
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	run := t.pipeline.Handle(ctx, msg)
	t.sendMessage(chatID, run.Reply)
	t.pipeline.NotifyDelivered(run)
}

// mediaFor maps a message's attachment to a MediaRef. Unknown attachment
// kinds get a non-media content type so the classifier answers with the
// unsupported reply; a failed file-URL resolution keeps the declared type
// with an empty URL, so the pipeline's fetch step fails and the farmer gets
// the fallback reply instead of silence.
func (t *Telegram) mediaFor(m *tgbotapi.Message) *domain.MediaRef {
	switch {
	case m.Voice != nil:
		return t.resolveMedia(m.Voice.FileID, firstNonEmpty(m.Voice.MimeType, "audio/ogg"))
	case m.Audio != nil:
		return t.resolveMedia(m.Audio.FileID, firstNonEmpty(m.Audio.MimeType, "audio/mpeg"))
	case len(m.Photo) > 0:
		// Telegram sends several sizes; the last is the largest.
		return t.resolveMedia(m.Photo[len(m.Photo)-1].FileID, "image/jpeg")
	case m.Document != nil:
		return t.resolveMedia(m.Document.FileID, firstNonEmpty(m.Document.MimeType, "application/octet-stream"))
	case m.Sticker != nil, m.Video != nil, m.VideoNote != nil, m.Animation != nil:
		return &domain.MediaRef{ContentType: "application/octet-stream"}
	default:
		return nil
	}
}

func (t *Telegram) resolveMedia(fileID, contentType string) *domain.MediaRef {
	url, err := t.fileURL(fileID)
	if err != nil {
		t.logger.Warn("cannot resolve telegram file URL", "err", err)
		return &domain.MediaRef{ContentType: contentType}
	}
	return &domain.MediaRef{URL: url, ContentType: contentType}
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "നമസ്കാരം! കൃഷിയെക്കുറിച്ചുള്ള ചോദ്യങ്ങൾ ചോദിക്കൂ — ടെക്സ്റ്റ്, വോയ്സ്, അല്ലെങ്കിൽ ചെടിയുടെ ഫോട്ടോ അയയ്ക്കാം.")
	case "help":
		t.sendMessage(chatID, "ചോദ്യം ടൈപ്പ് ചെയ്യുക, വോയ്സ് നോട്ട് അയയ്ക്കുക, അല്ലെങ്കിൽ രോഗം സംശയിക്കുന്ന ചെടിയുടെ ഫോട്ടോ അയയ്ക്കുക.")
	default:
		t.sendMessage(chatID, "അറിയാത്ത കമാൻഡ്. /help നോക്കൂ.")
	}
}

// SendVoice delivers a synthesized clip by URL; Telegram fetches it.
func (t *Telegram) SendVoice(ctx context.Context, chatID, mediaURL string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	voice := tgbotapi.NewVoice(id, tgbotapi.FileURL(mediaURL))
	if _, err := t.bot.Send(voice); err != nil {
		return fmt.Errorf("telegram voice send: %w", err)
	}
	return nil
}

// Send delivers a proactive message outside the update loop.
func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// splitMessage cuts text into chunks of at most maxLen bytes (Telegram
// caps messages at 4096). It prefers breaking at a newline and never cuts
// inside a multi-byte rune — Malayalam replies run three bytes per
// character, so a byte-index cut would produce chunks Telegram rejects.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// sendChunk sends one message with retry and rate limit handling.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
