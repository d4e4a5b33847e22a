package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"krishibot/internal/domain"
)

func TestHTTPFetcher_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ogg-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Logger: testLogger()})
	data, err := f.Fetch(context.Background(), srv.URL+"/Media/abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "ogg-bytes" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestHTTPFetcher_BasicAuthOnlyForConfiguredHost(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	f := NewHTTPFetcher(FetcherConfig{
		AuthHost: u.Host,
		Username: "ACxxxx",
		Password: "secret",
		Logger:   testLogger(),
	})
	if _, err := f.Fetch(context.Background(), srv.URL+"/Media/abc"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth == "" {
		t.Error("expected basic auth header for configured host")
	}

	// Same fetcher, different host: no credentials must leak.
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("data"))
	}))
	defer other.Close()

	if _, err := f.Fetch(context.Background(), other.URL+"/file"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "" {
		t.Error("credentials must not be sent to other hosts")
	}
}

func TestHTTPFetcher_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Logger: testLogger()})
	_, err := f.Fetch(context.Background(), srv.URL)

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindInvalidResponse {
		t.Fatalf("expected InvalidResponse for empty body, got %v", err)
	}
}

func TestHTTPFetcher_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Logger: testLogger()})
	_, err := f.Fetch(context.Background(), srv.URL)

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindTransportFailure {
		t.Fatalf("expected TransportFailure for 502, got %v", err)
	}
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Logger: testLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL)

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindTimeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestHTTPFetcher_BadURL(t *testing.T) {
	f := NewHTTPFetcher(FetcherConfig{Logger: testLogger()})
	_, err := f.Fetch(context.Background(), "ftp://example.com/file")

	var ce *domain.CapabilityError
	if !errors.As(err, &ce) || ce.Kind != domain.KindInvalidResponse {
		t.Fatalf("expected InvalidResponse for non-http URL, got %v", err)
	}
}
