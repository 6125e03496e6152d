package trial

import (
	"sort"

	"linkpulse/internal/probe"
)

// Metrics is one trial reduced to the figures the aggregation and diagnosis
// layers reason about.
type Metrics struct {
	DownloadMbps      float64 `json:"download_mbps"`
	UploadMbps        float64 `json:"upload_mbps"`
	ResponsivenessRPM int     `json:"responsiveness_rpm"`
	BaseRTTMs         float64 `json:"base_rtt_ms"`
	LoadedP50Ms       float64 `json:"loaded_p50_ms"`
	LoadedP95Ms       float64 `json:"loaded_p95_ms"`
	// LoadedJitterMs is the p95-p50 spread of the loaded latency samples.
	LoadedJitterMs float64 `json:"loaded_jitter_ms"`
	// InflationRatio is loaded p95 over unloaded base RTT. A healthy bufferbloat
	// free link stays near 1.
	InflationRatio float64 `json:"inflation_ratio"`
}

// MetricsFromTrial reduces a raw trial result to its metrics.
func MetricsFromTrial(tr *probe.TrialResult) Metrics {
	m := Metrics{
		DownloadMbps:      tr.DownloadBps / 1e6,
		UploadMbps:        tr.UploadBps / 1e6,
		ResponsivenessRPM: tr.ResponsivenessRPM,
		BaseRTTMs:         tr.BaseRTTMs,
	}
	if len(tr.LoadedRTTMs) > 0 {
		sorted := make([]float64, len(tr.LoadedRTTMs))
		copy(sorted, tr.LoadedRTTMs)
		sort.Float64s(sorted)
		m.LoadedP50Ms = percentile(sorted, 50)
		m.LoadedP95Ms = percentile(sorted, 95)
		m.LoadedJitterMs = m.LoadedP95Ms - m.LoadedP50Ms
	}
	if tr.BaseRTTMs > 0 && m.LoadedP95Ms > 0 {
		m.InflationRatio = m.LoadedP95Ms / tr.BaseRTTMs
	}
	return m
}
