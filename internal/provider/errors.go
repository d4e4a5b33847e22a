package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"krishibot/internal/domain"
)

// classifyTransport maps a failed HTTP round trip to a CapabilityError.
// Context deadlines become Timeout; everything else is TransportFailure.
func classifyTransport(capability string, err error) *domain.CapabilityError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCapabilityError(capability, domain.KindTimeout, "request deadline exceeded", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.NewCapabilityError(capability, domain.KindTimeout, "request timed out", err)
	}
	return domain.NewCapabilityError(capability, domain.KindTransportFailure, "request failed", err)
}

// classifyStatus maps a non-2xx provider response to a CapabilityError.
// 429 is provider-reported rate limiting; 5xx is a transport-level outage;
// anything else is an invalid response.
func classifyStatus(capability string, status int, body []byte) *domain.CapabilityError {
	detail := fmt.Sprintf("HTTP %d: %s", status, truncate(body, 256))
	switch {
	case status == 429:
		return domain.NewCapabilityError(capability, domain.KindQuotaExceeded, detail, nil)
	case status >= 500:
		return domain.NewCapabilityError(capability, domain.KindTransportFailure, detail, nil)
	default:
		return domain.NewCapabilityError(capability, domain.KindInvalidResponse, detail, nil)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
