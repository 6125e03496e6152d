package engine

import (
	"time"

	"linkpulse/internal/ambient"
	"linkpulse/internal/diagnose"
	"linkpulse/internal/netio"
	"linkpulse/internal/probe"
	"linkpulse/internal/trial"
)

// Snapshot is the read-only state surface the presentation layer polls.
// Everything in it is a copy; holding a Snapshot never blocks the engine.
type Snapshot struct {
	Running  bool    `json:"running"`
	Phase    string  `json:"phase"`
	Progress float64 `json:"progress"`

	LiveDownMbps float64            `json:"live_down_mbps"`
	LiveUpMbps   float64            `json:"live_up_mbps"`
	Graph        []netio.GraphPoint `json:"graph"`
	GraphScale   float64            `json:"graph_scale"`

	Ambient ambient.Observation `json:"ambient"`

	// Result is the last published aggregate, nil before the first successful
	// cycle. ResultStale marks it as surviving a later failed cycle.
	Result      *trial.Aggregate `json:"result,omitempty"`
	ResultStale bool             `json:"result_stale"`
	LastTestAt  time.Time        `json:"last_test_at"`
	LastError   string           `json:"last_error,omitempty"`
	Notes       []string         `json:"notes,omitempty"`

	ReliabilityLabel string                  `json:"reliability_label,omitempty"`
	Trend            []trial.TrendSample     `json:"trend,omitempty"`
	Diagnostics      []trial.DiagnosticEntry `json:"diagnostics,omitempty"`

	Gateway  *probe.LatencyResult `json:"gateway,omitempty"`
	Internet *probe.LatencyResult `json:"internet,omitempty"`
	DNSMs    float64              `json:"dns_ms,omitempty"`
	DNSTimed bool                 `json:"dns_timed"`

	Diagnosis diagnose.Diagnosis `json:"diagnosis"`
}

// Snapshot captures the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	snap := Snapshot{
		Running:      e.running,
		Phase:        e.phase.String(),
		Progress:     e.progress,
		LiveDownMbps: e.liveDown,
		LiveUpMbps:   e.liveUp,
		Graph:        e.graph.Points(),
		GraphScale:   e.graph.Scale(),
		ResultStale:  e.resultOld,
		LastTestAt:   e.lastTestAt,
		LastError:    e.lastErr,
		DNSMs:        e.dnsMs,
		DNSTimed:     e.dnsTimed,
	}
	if e.result != nil {
		res := *e.result
		snap.Result = &res
		snap.Notes = res.Notes()
		snap.ReliabilityLabel = trial.ReliabilityLabel(res.Confidence)
	}
	if e.gateway != nil {
		gw := *e.gateway
		snap.Gateway = &gw
	}
	if e.internet != nil {
		in := *e.internet
		snap.Internet = &in
	}
	e.mu.Unlock()

	snap.Ambient = e.ambient.Snapshot()
	snap.Trend = e.recorder.Trend()
	snap.Diagnostics = e.recorder.Diagnostics()
	snap.Diagnosis = e.diagnosis()
	return snap
}
