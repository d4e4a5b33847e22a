package media

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T, retention time.Duration) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(StoreConfig{
		Dir:       filepath.Join(dir, "files"),
		DBPath:    filepath.Join(dir, "media.db"),
		BaseURL:   "https://bot.example.com/media",
		Retention: retention,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutAndServe(t *testing.T) {
	s := testStore(t, time.Hour)
	ctx := context.Background()

	asset, err := s.Put(ctx, "run-1", "whatsapp:+910000000001", []byte("mp3-bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(asset.PublicURL, "https://bot.example.com/media/") ||
		!strings.HasSuffix(asset.PublicURL, ".mp3") {
		t.Errorf("unexpected public URL %q", asset.PublicURL)
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/" + asset.ID + ".mp3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %q", ct)
	}
}

func TestStore_Handler_UnknownAsset(t *testing.T) {
	s := testStore(t, time.Hour)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/no-such-asset.mp3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown asset, got %d", resp.StatusCode)
	}
}

func TestStore_Handler_RejectsNonMP3Path(t *testing.T) {
	s := testStore(t, time.Hour)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/../media.db")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for non-clip path, got %d", resp.StatusCode)
	}
}

func TestStore_ConcurrentPutsDistinctPaths(t *testing.T) {
	s := testStore(t, time.Hour)
	ctx := context.Background()

	const n = 16
	var mu sync.Mutex
	paths := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			asset, err := s.Put(ctx, "run", "rcpt", []byte("audio"))
			if err != nil {
				t.Errorf("put: %v", err)
				return
			}
			mu.Lock()
			paths[asset.Path] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(paths) != n {
		t.Errorf("expected %d distinct paths, got %d", n, len(paths))
	}
}

func TestStore_SweepRemovesExpired(t *testing.T) {
	s := testStore(t, 10*time.Millisecond)
	ctx := context.Background()

	asset, err := s.Put(ctx, "run-1", "rcpt", []byte("audio"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 reclaimed asset, got %d", removed)
	}
	if _, err := os.Stat(asset.Path); !os.IsNotExist(err) {
		t.Errorf("expired file should be gone: %v", err)
	}
}

func TestStore_MarkDeliveredKeepsClipFetchable(t *testing.T) {
	s := testStore(t, time.Hour)
	ctx := context.Background()

	asset, err := s.Put(ctx, "run-1", "rcpt", []byte("audio"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.MarkDelivered(ctx, asset.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	// Delivered clips survive the grace period so the platform can still
	// fetch them.
	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Errorf("freshly delivered clip must not be swept, removed %d", removed)
	}
	if _, err := os.Stat(asset.Path); err != nil {
		t.Errorf("clip file should still exist: %v", err)
	}
}

func TestStore_SweepKeepsFresh(t *testing.T) {
	s := testStore(t, time.Hour)
	ctx := context.Background()

	if _, err := s.Put(ctx, "run-1", "rcpt", []byte("audio")); err != nil {
		t.Fatalf("put: %v", err)
	}

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Errorf("fresh asset should survive a sweep, removed %d", removed)
	}
}
