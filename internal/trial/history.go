package trial

import (
	"sync"
	"time"
)

const (
	maxDiagnosticEntries = 8
	maxTrendSamples      = 24
)

// DiagnosticEntry is one cycle condensed for the in-memory diagnostic log.
type DiagnosticEntry struct {
	At           time.Time `json:"at"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	JitterMs     float64   `json:"jitter_ms"`
	WorstLossPct float64   `json:"worst_loss_pct"`
	Confidence   float64   `json:"confidence"`
}

// TrendSample is one cycle condensed for the reliability trend.
type TrendSample struct {
	At           time.Time `json:"at"`
	Confidence   float64   `json:"confidence"`
	DownloadMbps float64   `json:"download_mbps"`
}

// Recorder keeps the bounded in-memory history of completed cycles: a short
// diagnostic log and a longer reliability trend. Oldest entries are dropped
// first.
type Recorder struct {
	mu      sync.Mutex
	entries []DiagnosticEntry
	trend   []TrendSample
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(agg *Aggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, DiagnosticEntry{
		At:           agg.CompletedAt,
		DownloadMbps: agg.Median.DownloadMbps,
		UploadMbps:   agg.Median.UploadMbps,
		JitterMs:     agg.Median.LoadedJitterMs,
		WorstLossPct: agg.WorstLossPct,
		Confidence:   agg.Confidence,
	})
	if over := len(r.entries) - maxDiagnosticEntries; over > 0 {
		r.entries = append(r.entries[:0], r.entries[over:]...)
	}

	r.trend = append(r.trend, TrendSample{
		At:           agg.CompletedAt,
		Confidence:   agg.Confidence,
		DownloadMbps: agg.Median.DownloadMbps,
	})
	if over := len(r.trend) - maxTrendSamples; over > 0 {
		r.trend = append(r.trend[:0], r.trend[over:]...)
	}
}

// Diagnostics returns the diagnostic log, oldest first.
func (r *Recorder) Diagnostics() []DiagnosticEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DiagnosticEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Trend returns the reliability trend, oldest first.
func (r *Recorder) Trend() []TrendSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TrendSample, len(r.trend))
	copy(out, r.trend)
	return out
}

// ReliabilityLabel maps a confidence score to its display label.
func ReliabilityLabel(confidence float64) string {
	switch {
	case confidence >= 85:
		return "excellent"
	case confidence >= 70:
		return "good"
	case confidence >= 50:
		return "fair"
	default:
		return "poor"
	}
}
