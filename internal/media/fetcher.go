package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"krishibot/internal/domain"
)

// maxDownloadBytes caps inbound attachments. WhatsApp voice notes and photos
// are a few MB at most.
const maxDownloadBytes = 25 << 20

// HTTPFetcher downloads inbound attachments. Twilio media URLs require the
// account's basic-auth credentials, so a per-host credential pair can be
// attached.
type HTTPFetcher struct {
	client   *http.Client
	authHost string
	username string
	password string
	logger   *slog.Logger
}

type FetcherConfig struct {
	Client *http.Client

	// Basic-auth credentials applied only to URLs on AuthHost.
	AuthHost string
	Username string
	Password string

	Logger *slog.Logger
}

func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		client:   client,
		authHost: cfg.AuthHost,
		username: cfg.Username,
		password: cfg.Password,
		logger:   cfg.Logger,
	}
}

// Fetch downloads the attachment at rawURL. Failures are reported as
// *domain.CapabilityError with capability "fetch_media".
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	const capability = "fetch_media"

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse,
			fmt.Sprintf("bad media URL %q", rawURL), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse, "build request", err)
	}
	if f.username != "" && strings.EqualFold(u.Host, f.authHost) {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyFetchErr(capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.NewCapabilityError(capability, domain.KindQuotaExceeded,
			"media host rate limited", nil)
	}
	if resp.StatusCode >= 500 {
		return nil, domain.NewCapabilityError(capability, domain.KindTransportFailure,
			fmt.Sprintf("media host returned HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse,
			fmt.Sprintf("media host returned HTTP %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, classifyFetchErr(capability, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse,
			"attachment exceeds download limit", nil)
	}
	if len(data) == 0 {
		return nil, domain.NewCapabilityError(capability, domain.KindInvalidResponse,
			"empty attachment body", nil)
	}

	f.logger.Debug("media fetched", "host", u.Host, "bytes", len(data))
	return data, nil
}

func classifyFetchErr(capability string, err error) *domain.CapabilityError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCapabilityError(capability, domain.KindTimeout, "media download timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.NewCapabilityError(capability, domain.KindTimeout, "media download timed out", err)
	}
	return domain.NewCapabilityError(capability, domain.KindTransportFailure, "media download failed", err)
}
