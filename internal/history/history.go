// Package history persists completed measurement cycles to a local SQLite
// file. It is strictly optional: the in-memory state surface never depends
// on it, and every failure here is logged and swallowed upstream.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "linkpulse/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the on-disk cycle history.
type Config struct {
	Path        string
	MaxAgeDays  int
	MaxRecords  int
	BusyTimeout time.Duration // 0 means driver default
}

// CycleRecord is one completed cycle, flattened for storage.
// Keep it compact and schema-stable.
type CycleRecord struct {
	At                time.Time
	DownloadMbps      float64
	UploadMbps        float64
	ResponsivenessRPM int
	BaseRTTMs         float64
	LoadedP95Ms       float64
	InflationRatio    float64
	WorstLossPct      float64
	Confidence        float64
	Completed         int
	Planned           int
	RootCause         string
}

// DailyStat is one day's roll-up for the trend query.
type DailyStat struct {
	Day             string
	Cycles          int
	AvgDownloadMbps float64
	AvgConfidence   float64
}

// Store is a SQLite-backed cycle log.
type Store struct {
	db  *sql.DB
	cfg Config
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, cfg: cfg, log: log, pruneEvery: 32}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores one completed cycle and occasionally prunes old rows.
func (s *Store) Append(ctx context.Context, rec CycleRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(at, download_mbps, upload_mbps, rpm, base_rtt_ms, loaded_p95_ms, inflation, worst_loss_pct, confidence, completed, planned, root_cause)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.At.UTC().Format(time.RFC3339Nano), rec.DownloadMbps, rec.UploadMbps, rec.ResponsivenessRPM,
		rec.BaseRTTMs, rec.LoadedP95Ms, rec.InflationRatio, rec.WorstLossPct,
		rec.Confidence, rec.Completed, rec.Planned, rec.RootCause,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("history prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

// Recent returns up to n cycles, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]CycleRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, download_mbps, upload_mbps, rpm, base_rtt_ms, loaded_p95_ms, inflation, worst_loss_pct, confidence, completed, planned, root_cause
		 FROM cycles ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var at string
		if err := rows.Scan(&at, &rec.DownloadMbps, &rec.UploadMbps, &rec.ResponsivenessRPM,
			&rec.BaseRTTMs, &rec.LoadedP95Ms, &rec.InflationRatio, &rec.WorstLossPct,
			&rec.Confidence, &rec.Completed, &rec.Planned, &rec.RootCause); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DailyStats rolls up cycles per UTC day since the given time.
func (s *Store) DailyStats(ctx context.Context, since time.Time) ([]DailyStat, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(at, 1, 10) AS day, COUNT(*), AVG(download_mbps), AVG(confidence)
		 FROM cycles WHERE at >= ? GROUP BY day ORDER BY day`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var st DailyStat
		if err := rows.Scan(&st.Day, &st.Cycles, &st.AvgDownloadMbps, &st.AvgConfidence); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// prune drops rows past the age and count bounds, oldest first.
func (s *Store) prune(ctx context.Context) error {
	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.MaxAgeDays)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM cycles WHERE at < ?`, cutoff.Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM cycles WHERE id NOT IN (SELECT id FROM cycles ORDER BY id DESC LIMIT ?)`,
			s.cfg.MaxRecords); err != nil {
			return err
		}
	}
	return nil
}
