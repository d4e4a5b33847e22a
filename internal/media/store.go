// Package media handles downloaded attachments and generated voice clips:
// fetching inbound media over HTTP, keeping generated audio on disk with a
// SQLite ledger, serving it publicly, and garbage-collecting expired assets.
package media

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Asset is one stored voice clip, addressable by public URL until it is
// delivered or expires.
type Asset struct {
	ID        string
	RunID     string
	Recipient string
	Path      string
	PublicURL string
	CreatedAt time.Time
}

// Store keeps generated audio files on disk, with a SQLite ledger so
// expiry survives restarts.
type Store struct {
	db        *sql.DB
	dir       string
	baseURL   string
	retention time.Duration
	logger    *slog.Logger
}

type StoreConfig struct {
	Dir       string
	DBPath    string
	BaseURL   string // public prefix, e.g. https://bot.example.com/media
	Retention time.Duration
	Logger    *slog.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create media directory %s: %w", cfg.Dir, err)
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open media database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:        db,
		dir:       cfg.Dir,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		retention: cfg.Retention,
		logger:    cfg.Logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("media database migration failed: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id           TEXT PRIMARY KEY,
		run_id       TEXT NOT NULL,
		recipient    TEXT,
		path         TEXT NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		delivered_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_assets_created ON assets(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put writes audio to disk and records it in the ledger. Each call gets a
// fresh UUID so concurrent runs never collide on the filesystem.
func (s *Store) Put(ctx context.Context, runID, recipient string, audio []byte) (*Asset, error) {
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+".mp3")

	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return nil, fmt.Errorf("write audio file: %w", err)
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (id, run_id, recipient, path, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, recipient, path, now,
	)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("record asset: %w", err)
	}

	return &Asset{
		ID:        id,
		RunID:     runID,
		Recipient: recipient,
		Path:      path,
		PublicURL: fmt.Sprintf("%s/%s.mp3", s.baseURL, id),
		CreatedAt: now,
	}, nil
}

// MarkDelivered stamps the asset so the janitor can reclaim it early.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE assets SET delivered_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// deliveredGrace is how long a delivered clip stays fetchable. Twilio and
// Telegram pull the media URL shortly after the send call returns, so the
// file cannot be removed the moment delivery is recorded.
const deliveredGrace = 10 * time.Minute

// Sweep removes assets past the retention window, plus delivered assets
// past the grace period. Returns the number of assets reclaimed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.retention)
	deliveredCutoff := now.Add(-deliveredGrace)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path FROM assets
		 WHERE created_at < ? OR (delivered_at IS NOT NULL AND delivered_at < ?)`,
		cutoff, deliveredCutoff)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type doomed struct{ id, path string }
	var expired []doomed
	for rows.Next() {
		var d doomed
		if err := rows.Scan(&d.id, &d.path); err != nil {
			return 0, err
		}
		expired = append(expired, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, d := range expired {
		if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("cannot remove expired audio file", "path", d.path, "error", err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, d.id); err != nil {
			s.logger.Warn("cannot delete asset row", "id", d.id, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunJanitor sweeps periodically until ctx is cancelled.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("media sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("expired media reclaimed", "count", n)
			}
		}
	}
}

// Handler serves stored clips at GET {prefix}/{id}.mp3. Lookups go through
// the ledger so only tracked assets are reachable, never arbitrary paths.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := filepath.Base(r.URL.Path)
		id := strings.TrimSuffix(name, ".mp3")
		if id == "" || id == name {
			http.NotFound(w, r)
			return
		}

		var path string
		err := s.db.QueryRowContext(r.Context(),
			`SELECT path FROM assets WHERE id = ?`, id).Scan(&path)
		if err == sql.ErrNoRows {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error("asset lookup failed", "id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeFile(w, r, path)
	})
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
