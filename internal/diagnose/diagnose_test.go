package diagnose

import (
	"testing"

	"linkpulse/internal/ambient"
	"linkpulse/internal/probe"
	"linkpulse/internal/trial"
)

func testThresholds() Thresholds {
	return Thresholds{
		GatewayLatencyMs:  50,
		GatewayLossPct:    2,
		InternetLatencyMs: 100,
		InternetLossPct:   2,
		MinRPM:            500,
		MaxInflation:      6,
	}
}

func healthyAggregate() *trial.Aggregate {
	return &trial.Aggregate{
		Median: trial.Metrics{
			DownloadMbps:      120,
			UploadMbps:        25,
			ResponsivenessRPM: 850,
			LoadedP95Ms:       40,
			InflationRatio:    2,
		},
		Planned:    3,
		Completed:  3,
		Confidence: 92,
	}
}

func latency(avgMs, lossPct float64) *probe.LatencyResult {
	return &probe.LatencyResult{AvgRTTMs: avgMs, LossPct: lossPct}
}

func TestRootCauseSymmetry(t *testing.T) {
	th := testThresholds()
	agg := healthyAggregate()

	cases := []struct {
		name     string
		gateway  *probe.LatencyResult
		internet *probe.LatencyResult
		want     RootCause
	}{
		{"gateway bad", latency(80, 0), latency(40, 0), RootCauseWiFi},
		{"internet bad", latency(10, 0), latency(150, 0), RootCauseISP},
		{"both bad", latency(80, 0), latency(150, 0), RootCauseBoth},
		{"both fine", latency(10, 0), latency(40, 0), RootCauseNone},
		{"gateway loss", latency(10, 5), latency(40, 0), RootCauseWiFi},
	}
	for _, tc := range cases {
		d := Classify(Inputs{Result: agg, Gateway: tc.gateway, Internet: tc.internet}, th)
		if d.RootCause != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, d.RootCause, tc.want)
		}
	}
}

func TestRootCauseUntestedWithoutBothLegs(t *testing.T) {
	th := testThresholds()
	agg := healthyAggregate()

	d := Classify(Inputs{Result: agg, Internet: latency(40, 0)}, th)
	if d.RootCause != RootCauseUntested {
		t.Fatalf("missing gateway leg: got %v", d.RootCause)
	}
	d = Classify(Inputs{Result: agg, Gateway: latency(10, 0)}, th)
	if d.RootCause != RootCauseUntested {
		t.Fatalf("missing internet leg: got %v", d.RootCause)
	}
}

func TestRootCauseResponsivenessImplicatesISP(t *testing.T) {
	th := testThresholds()
	agg := healthyAggregate()
	agg.Median.ResponsivenessRPM = 300

	d := Classify(Inputs{Result: agg, Gateway: latency(10, 0), Internet: latency(40, 0)}, th)
	if d.RootCause != RootCauseISP {
		t.Fatalf("low responsiveness with clean gateway: got %v", d.RootCause)
	}
}

func findVerdict(t *testing.T, d Diagnosis, name string) ActivityVerdict {
	t.Helper()
	for _, v := range d.Activities {
		if v.Activity == name {
			return v
		}
	}
	t.Fatalf("activity %q missing from %+v", name, d.Activities)
	return ActivityVerdict{}
}

func TestActivityVerdictGamingTooSlow(t *testing.T) {
	agg := healthyAggregate()
	agg.Median.DownloadMbps = 8
	agg.Median.ResponsivenessRPM = 850

	d := Classify(Inputs{Result: agg, Gateway: latency(10, 0), Internet: latency(40, 0)}, testThresholds())

	gaming := findVerdict(t, d, "gaming")
	if gaming.Works {
		t.Fatalf("gaming should fail on throughput: %+v", gaming)
	}
	if gaming.Reason != "too slow" {
		t.Fatalf("gaming reason: got %q", gaming.Reason)
	}

	calls := findVerdict(t, d, "video calls")
	if !calls.Works {
		t.Fatalf("video calls should pass: %+v", calls)
	}
}

func TestActivityVerdictReasons(t *testing.T) {
	th := testThresholds()

	// Both dimensions failing.
	agg := healthyAggregate()
	agg.Median.DownloadMbps = 3
	agg.Median.ResponsivenessRPM = 200
	d := Classify(Inputs{Result: agg}, th)
	if v := findVerdict(t, d, "gaming"); v.Reason != "too slow & laggy" {
		t.Fatalf("got %q", v.Reason)
	}

	// Latency-only failure with packet loss.
	agg = healthyAggregate()
	agg.Median.ResponsivenessRPM = 400
	agg.WorstLossPct = 1.8
	d = Classify(Inputs{Result: agg}, th)
	if v := findVerdict(t, d, "gaming"); v.Reason != "packet loss" {
		t.Fatalf("got %q", v.Reason)
	}

	// Latency-only failure under bufferbloat.
	agg = healthyAggregate()
	agg.Median.ResponsivenessRPM = 400
	agg.Median.InflationRatio = 7
	d = Classify(Inputs{Result: agg}, th)
	if v := findVerdict(t, d, "gaming"); v.Reason != "unstable under load" {
		t.Fatalf("got %q", v.Reason)
	}

	// Latency-only failure with nothing else suspicious.
	agg = healthyAggregate()
	agg.Median.ResponsivenessRPM = 400
	d = Classify(Inputs{Result: agg}, th)
	if v := findVerdict(t, d, "gaming"); v.Reason != "too laggy" {
		t.Fatalf("got %q", v.Reason)
	}
}

func TestStreamingUsesAmbientSustained(t *testing.T) {
	agg := healthyAggregate()
	agg.Median.DownloadMbps = 4 // trial saw a congested moment

	d := Classify(Inputs{
		Result:  agg,
		Ambient: ambient.Observation{SustainedDownMbps: 30},
	}, testThresholds())

	if v := findVerdict(t, d, "4K streaming"); !v.Works {
		t.Fatalf("ambient sustained throughput should carry 4K: %+v", v)
	}
	// Non-streaming activities must not borrow ambient throughput.
	if v := findVerdict(t, d, "file transfers"); v.Works {
		t.Fatalf("transfers must use trial throughput only: %+v", v)
	}
}

func TestStreamingOverrideFromAmbientFlags(t *testing.T) {
	agg := healthyAggregate()
	agg.Median.DownloadMbps = 4
	agg.WorstLossPct = 0.5

	d := Classify(Inputs{
		Result:  agg,
		Ambient: ambient.Observation{HDLikely: true},
	}, testThresholds())

	if v := findVerdict(t, d, "HD streaming"); !v.Works {
		t.Fatalf("observed HD streaming should override the numeric test: %+v", v)
	}
	if v := findVerdict(t, d, "4K streaming"); v.Works {
		t.Fatalf("HD evidence must not carry 4K: %+v", v)
	}
}

func TestVerdictsUntestedWithoutResult(t *testing.T) {
	d := Classify(Inputs{}, testThresholds())
	for _, v := range d.Activities {
		if v.Tested || v.Works {
			t.Fatalf("no result yet, but %+v", v)
		}
		if v.Reason != "not yet tested" {
			t.Fatalf("reason: got %q", v.Reason)
		}
	}
}
