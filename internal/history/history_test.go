package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "linkpulse/pkg/logx"
)

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "history.db")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAppendAndRecent(t *testing.T) {
	st := openTestStore(t, Config{})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := st.Append(ctx, CycleRecord{
			At:           base.Add(time.Duration(i) * time.Hour),
			DownloadMbps: float64(100 + i),
			Confidence:   80,
			Completed:    3,
			Planned:      3,
			RootCause:    "none",
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := st.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d records", len(recent))
	}
	if recent[0].DownloadMbps != 104 {
		t.Fatalf("newest first expected, got %f", recent[0].DownloadMbps)
	}
	if !recent[0].At.Equal(base.Add(4 * time.Hour)) {
		t.Fatalf("timestamp round-trip: got %v", recent[0].At)
	}
}

func TestPruneByCount(t *testing.T) {
	st := openTestStore(t, Config{MaxRecords: 4})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := st.Append(ctx, CycleRecord{DownloadMbps: float64(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := st.prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	recent, err := st.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("expected 4 records after prune, got %d", len(recent))
	}
	if recent[0].DownloadMbps != 9 {
		t.Fatalf("newest record should survive, got %f", recent[0].DownloadMbps)
	}
}

func TestPruneByAge(t *testing.T) {
	st := openTestStore(t, Config{MaxAgeDays: 7})
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -30)
	if err := st.Append(ctx, CycleRecord{At: old, DownloadMbps: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, CycleRecord{DownloadMbps: 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	recent, err := st.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].DownloadMbps != 2 {
		t.Fatalf("expected only the fresh record, got %+v", recent)
	}
}

func TestDailyStats(t *testing.T) {
	st := openTestStore(t, Config{})
	ctx := context.Background()

	day1 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	for _, rec := range []CycleRecord{
		{At: day1, DownloadMbps: 100, Confidence: 80},
		{At: day1.Add(time.Hour), DownloadMbps: 200, Confidence: 90},
		{At: day2, DownloadMbps: 50, Confidence: 60},
	} {
		if err := st.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	stats, err := st.DailyStats(ctx, day1.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d days", len(stats))
	}
	if stats[0].Day != "2026-08-01" || stats[0].Cycles != 2 || stats[0].AvgDownloadMbps != 150 {
		t.Fatalf("day 1 rollup wrong: %+v", stats[0])
	}
}
