// Package diagnose turns a cycle's aggregated metrics, dual-hop latency
// probes and ambient observations into a root-cause label and per-activity
// verdicts. Classification is a pure function of its inputs; it keeps no
// state and is recomputed on demand.
package diagnose

import (
	"linkpulse/internal/ambient"
	"linkpulse/internal/probe"
	"linkpulse/internal/trial"
)

// RootCause attributes instability to the local wireless hop, the upstream
// provider path, both, or neither.
type RootCause int

const (
	// RootCauseUntested means one or both latency legs have not produced data.
	RootCauseUntested RootCause = iota
	RootCauseNone
	RootCauseWiFi
	RootCauseISP
	RootCauseBoth
)

func (rc RootCause) String() string {
	switch rc {
	case RootCauseNone:
		return "none"
	case RootCauseWiFi:
		return "wifiProblem"
	case RootCauseISP:
		return "ispProblem"
	case RootCauseBoth:
		return "bothProblems"
	default:
		return "untested"
	}
}

// Thresholds are the root-cause bounds; see config.DiagnoseConfig.
type Thresholds struct {
	GatewayLatencyMs  float64
	GatewayLossPct    float64
	InternetLatencyMs float64
	InternetLossPct   float64
	MinRPM            int
	MaxInflation      float64
}

// Inputs is everything the classifier looks at. Nil pointers mean the data
// has not been gathered yet, which is a distinct state from "tested and bad".
type Inputs struct {
	Result   *trial.Aggregate
	Gateway  *probe.LatencyResult
	Internet *probe.LatencyResult
	Ambient  ambient.Observation

	SignalQuality float64
	SignalKnown   bool
}

// ActivityVerdict is the works/doesn't-work call for one named activity.
type ActivityVerdict struct {
	Activity string `json:"activity"`
	Tested   bool   `json:"tested"`
	Works    bool   `json:"works"`
	// Reason is set only for tested activities that do not work.
	Reason string `json:"reason,omitempty"`
}

// Diagnosis is the classifier's full output.
type Diagnosis struct {
	RootCause  RootCause         `json:"root_cause"`
	Activities []ActivityVerdict `json:"activities"`

	SignalQuality float64 `json:"signal_quality,omitempty"`
	SignalKnown   bool    `json:"signal_known"`
}

// Streaming tolerates latency far better than interactive use, so streaming
// activities get a relaxed responsiveness floor instead of their own minimum.
const streamRPMFloor = 250

// Latency-only failures above these bounds read as load-induced instability
// rather than a plain slow path.
const (
	unstableInflation = 4.5
	unstableP95Ms     = 220
)

type activity struct {
	name        string
	minDownMbps float64
	minRPM      int
	streaming   bool
	uhd         bool
}

var activities = []activity{
	{name: "gaming", minDownMbps: 10, minRPM: 800},
	{name: "video calls", minDownMbps: 5, minRPM: 500},
	{name: "4K streaming", minDownMbps: 25, minRPM: streamRPMFloor, streaming: true, uhd: true},
	{name: "HD streaming", minDownMbps: 8, minRPM: streamRPMFloor, streaming: true},
	{name: "browsing", minDownMbps: 2, minRPM: 150},
	{name: "file transfers", minDownMbps: 40},
}

// Classify computes the diagnosis for the given inputs.
func Classify(in Inputs, th Thresholds) Diagnosis {
	d := Diagnosis{
		RootCause:     rootCause(in, th),
		SignalQuality: in.SignalQuality,
		SignalKnown:   in.SignalKnown,
	}
	d.Activities = make([]ActivityVerdict, 0, len(activities))
	for _, act := range activities {
		d.Activities = append(d.Activities, verdict(act, in))
	}
	return d
}

func rootCause(in Inputs, th Thresholds) RootCause {
	if in.Gateway == nil || in.Internet == nil {
		return RootCauseUntested
	}

	gatewayBad := in.Gateway.AvgRTTMs > th.GatewayLatencyMs ||
		in.Gateway.LossPct > th.GatewayLossPct

	internetBad := in.Internet.AvgRTTMs > th.InternetLatencyMs ||
		in.Internet.LossPct > th.InternetLossPct
	if in.Result != nil {
		med := in.Result.Median
		if med.ResponsivenessRPM < th.MinRPM || med.InflationRatio > th.MaxInflation {
			internetBad = true
		}
	}

	switch {
	case gatewayBad && internetBad:
		return RootCauseBoth
	case gatewayBad:
		return RootCauseWiFi
	case internetBad:
		return RootCauseISP
	default:
		return RootCauseNone
	}
}

func verdict(act activity, in Inputs) ActivityVerdict {
	v := ActivityVerdict{Activity: act.name}
	if in.Result == nil {
		v.Reason = "not yet tested"
		return v
	}
	v.Tested = true
	med := in.Result.Median

	eff := med.DownloadMbps
	if act.streaming && in.Ambient.SustainedDownMbps > eff {
		eff = in.Ambient.SustainedDownMbps
	}

	speedOK := eff >= act.minDownMbps
	latencyOK := act.minRPM == 0 || med.ResponsivenessRPM >= act.minRPM

	if speedOK && latencyOK {
		v.Works = true
		return v
	}

	// Ambient evidence of this streaming class already succeeding overrides a
	// failed numeric test; no point telling the user their running stream is
	// broken.
	if act.streaming && in.Result.WorstLossPct < 3 {
		flag := in.Ambient.HDLikely
		if act.uhd {
			flag = in.Ambient.UHDLikely
		}
		if flag {
			v.Works = true
			return v
		}
	}

	switch {
	case !speedOK && !latencyOK:
		v.Reason = "too slow & laggy"
	case !latencyOK:
		switch {
		case in.Result.WorstLossPct >= 1:
			v.Reason = "packet loss"
		case med.InflationRatio > unstableInflation || med.LoadedP95Ms > unstableP95Ms:
			v.Reason = "unstable under load"
		default:
			v.Reason = "too laggy"
		}
	default:
		v.Reason = "too slow"
	}
	return v
}
