package trial

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"linkpulse/internal/probe"
	logx "linkpulse/pkg/logx"
)

func testSettings() Settings {
	return Settings{
		MaxTrials:        3,
		CrossTrafficMbps: 1.5,
		QuietWindow:      2500 * time.Millisecond,
		QuietPoll:        250 * time.Millisecond,
		FirstSniff:       350 * time.Millisecond,
		MaxLossPct:       1.0,
		EarlyStop: EarlyStop{
			SingleDownloadMbps: 55,
			SingleUploadMbps:   15,
			SingleRPM:          700,
			SingleP95Ms:        160,
			SingleInflation:    3,
			CoVDownload:        0.12,
			CoVUpload:          0.15,
			CoVRPM:             0.15,
			MaxP95Ms:           220,
			MaxInflation:       4.5,
		},
	}
}

func healthyTrial() *probe.TrialResult {
	return &probe.TrialResult{
		DownloadBps:       200e6,
		UploadBps:         40e6,
		ResponsivenessRPM: 900,
		BaseRTTMs:         12,
		LoadedRTTMs:       []float64{20, 22, 24, 26, 28},
	}
}

type fakeRunner struct {
	calls   int
	results []*probe.TrialResult
	errs    []error
}

func (f *fakeRunner) RunThroughputTrial(ctx context.Context) (*probe.TrialResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return nil, fmt.Errorf("unexpected call %d", i)
}

// instant makes orchestrator waits free and deterministic.
func instant(o *Orchestrator) {
	base := time.Now()
	elapsed := time.Duration(0)
	o.now = func() time.Time { return base.Add(elapsed) }
	o.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		elapsed += d
		return nil
	}
}

func TestMetricsFromTrial(t *testing.T) {
	tr := &probe.TrialResult{
		DownloadBps:       150e6,
		UploadBps:         20e6,
		ResponsivenessRPM: 800,
		BaseRTTMs:         10,
		LoadedRTTMs:       []float64{30, 10, 20, 40, 50},
	}
	m := MetricsFromTrial(tr)
	if m.DownloadMbps != 150 || m.UploadMbps != 20 {
		t.Fatalf("mbps conversion wrong: %+v", m)
	}
	if m.LoadedP50Ms != 30 {
		t.Fatalf("p50: got %f", m.LoadedP50Ms)
	}
	if m.LoadedP95Ms != 50 {
		t.Fatalf("p95: got %f", m.LoadedP95Ms)
	}
	if m.LoadedJitterMs != 20 {
		t.Fatalf("jitter: got %f", m.LoadedJitterMs)
	}
	if m.InflationRatio != 5 {
		t.Fatalf("inflation: got %f", m.InflationRatio)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	if got := percentile(sorted, 50); got != 30 {
		t.Fatalf("p50 of 5: got %f", got)
	}
	// p95 of a small set must hit the top sample, not the one below it.
	if got := percentile(sorted, 95); got != 50 {
		t.Fatalf("p95 of 5: got %f", got)
	}
	if got := percentile([]float64{7}, 95); got != 7 {
		t.Fatalf("p95 of 1: got %f", got)
	}
}

func TestAggregateMediansSkipFailures(t *testing.T) {
	agg := NewAggregator(3)
	agg.Add(Metrics{DownloadMbps: 100, UploadMbps: 10, ResponsivenessRPM: 600}, false)
	agg.AddFailure()
	agg.Add(Metrics{DownloadMbps: 300, UploadMbps: 30, ResponsivenessRPM: 800}, false)

	res := agg.Result(time.Now())
	if res == nil {
		t.Fatalf("expected a result")
	}
	if res.Median.DownloadMbps != 200 {
		t.Fatalf("median download: got %f", res.Median.DownloadMbps)
	}
	if res.Median.ResponsivenessRPM != 700 {
		t.Fatalf("median rpm: got %d", res.Median.ResponsivenessRPM)
	}
	if res.Completed != 2 || res.Failures != 1 {
		t.Fatalf("counts: %+v", res)
	}
}

func TestConfidenceSinglePerfectTrial(t *testing.T) {
	agg := NewAggregator(3)
	agg.Add(Metrics{
		DownloadMbps:      200,
		UploadMbps:        40,
		ResponsivenessRPM: 900,
		LoadedP95Ms:       28,
		InflationRatio:    2.3,
	}, false)
	agg.ObserveLoss(0.1)

	res := agg.Result(time.Now())
	if res.Confidence < 85.9 || res.Confidence > 86.1 {
		t.Fatalf("single perfect trial should score 86, got %f", res.Confidence)
	}
}

func TestEarlyStopSingleTrialBar(t *testing.T) {
	s := testSettings()

	agg := NewAggregator(3)
	agg.Add(Metrics{
		DownloadMbps: 200, UploadMbps: 40, ResponsivenessRPM: 900,
		LoadedP95Ms: 28, InflationRatio: 2.3,
	}, false)
	agg.ObserveLoss(0.1)
	if !agg.ShouldStop(s.EarlyStop, s.MaxLossPct) {
		t.Fatalf("clean single trial should stop early")
	}

	// Same trial, but slightly too slow upload.
	agg = NewAggregator(3)
	agg.Add(Metrics{
		DownloadMbps: 200, UploadMbps: 14, ResponsivenessRPM: 900,
		LoadedP95Ms: 28, InflationRatio: 2.3,
	}, false)
	if agg.ShouldStop(s.EarlyStop, s.MaxLossPct) {
		t.Fatalf("upload below the single-trial bar must not stop")
	}
}

func TestEarlyStopBlockedByTrafficAndLoss(t *testing.T) {
	s := testSettings()

	agg := NewAggregator(3)
	agg.Add(Metrics{
		DownloadMbps: 200, UploadMbps: 40, ResponsivenessRPM: 900,
		LoadedP95Ms: 28, InflationRatio: 2.3,
	}, true)
	if agg.ShouldStop(s.EarlyStop, s.MaxLossPct) {
		t.Fatalf("traffic-affected cycle must never stop early")
	}

	agg = NewAggregator(3)
	agg.Add(Metrics{
		DownloadMbps: 200, UploadMbps: 40, ResponsivenessRPM: 900,
		LoadedP95Ms: 28, InflationRatio: 2.3,
	}, false)
	agg.ObserveLoss(1.0)
	if agg.ShouldStop(s.EarlyStop, s.MaxLossPct) {
		t.Fatalf("loss at the bound must never stop early")
	}
}

func TestEarlyStopMultiTrialStability(t *testing.T) {
	s := testSettings()

	stable := Metrics{
		DownloadMbps: 100, UploadMbps: 20, ResponsivenessRPM: 600,
		LoadedP95Ms: 50, InflationRatio: 2,
	}
	agg := NewAggregator(3)
	agg.Add(stable, false)
	agg.Add(stable, false)
	if !agg.ShouldStop(s.EarlyStop, s.MaxLossPct) {
		t.Fatalf("two identical trials should stop early")
	}

	agg = NewAggregator(3)
	agg.Add(stable, false)
	wild := stable
	wild.DownloadMbps = 40
	agg.Add(wild, false)
	if agg.ShouldStop(s.EarlyStop, s.MaxLossPct) {
		t.Fatalf("high download CoV must not stop early")
	}
}

func TestOrchestratorEarlyStopAfterFirstTrial(t *testing.T) {
	runner := &fakeRunner{results: []*probe.TrialResult{healthyTrial()}}
	o := NewOrchestrator(testSettings(), runner, func() float64 { return 0 }, logx.Nop())
	instant(o)

	var updates []Update
	o.onUpdate = func(u Update) { updates = append(updates, u) }

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected early stop after 1 trial, ran %d", runner.calls)
	}
	if res.Completed != 1 || res.Planned != 3 {
		t.Fatalf("aggregate counts: %+v", res)
	}

	final := updates[len(updates)-1]
	if final.Phase != PhaseFinalizing || final.Trial != 1 {
		t.Fatalf("final update should report the last attempted trial: %+v", final)
	}
}

func TestOrchestratorAllTrialsFail(t *testing.T) {
	boom := errors.New("boom")
	runner := &fakeRunner{errs: []error{boom, boom, boom}}
	o := NewOrchestrator(testSettings(), runner, func() float64 { return 0 }, logx.Nop())
	instant(o)

	res, err := o.Run(context.Background())
	if !errors.Is(err, ErrCycleFailed) {
		t.Fatalf("expected ErrCycleFailed, got %v", err)
	}
	if res != nil {
		t.Fatalf("no aggregate expected, got %+v", res)
	}
	if runner.calls != 3 {
		t.Fatalf("all planned trials should be attempted, ran %d", runner.calls)
	}
}

func TestOrchestratorQuietWindowWaits(t *testing.T) {
	// Noisy first trial, traffic clears midway through the second quiet wait.
	busy := healthyTrial()
	busy.DownloadBps = 30e6 // stays below the single-trial bar, forcing trial 2
	runner := &fakeRunner{results: []*probe.TrialResult{busy, healthyTrial(), healthyTrial()}}

	polls := 0
	cross := func() float64 {
		polls++
		if polls > 5 {
			return 0
		}
		return 10
	}
	o := NewOrchestrator(testSettings(), runner, cross, logx.Nop())
	instant(o)

	var phases []Phase
	o.onUpdate = func(u Update) { phases = append(phases, u.Phase) }

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls < 2 {
		t.Fatalf("expected at least 2 trials, ran %d", runner.calls)
	}

	sawWait, sawMeasure := false, false
	for _, p := range phases {
		if p == PhaseWaitingQuiet {
			sawWait = true
		}
		if p == PhaseMeasuring {
			sawMeasure = true
		}
	}
	if !sawWait || !sawMeasure {
		t.Fatalf("missing phases in %v", phases)
	}
}

func TestOrchestratorFirstTrialNeverDelayedByTraffic(t *testing.T) {
	// Constant heavy traffic: the first trial still runs, marked affected,
	// and the cycle therefore uses every planned trial.
	runner := &fakeRunner{results: []*probe.TrialResult{healthyTrial(), healthyTrial(), healthyTrial()}}
	o := NewOrchestrator(testSettings(), runner, func() float64 { return 50 }, logx.Nop())
	instant(o)

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 3 {
		t.Fatalf("traffic-affected cycle must not stop early, ran %d", runner.calls)
	}
	if res.TrafficAffected == 0 {
		t.Fatalf("expected traffic-affected trials: %+v", res)
	}
}

func TestOrchestratorCancelDuringWait(t *testing.T) {
	runner := &fakeRunner{}
	o := NewOrchestrator(testSettings(), runner, func() float64 { return 0 }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("no trial should run after cancellation")
	}
}

func TestRecorderBounds(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 40; i++ {
		r.Record(&Aggregate{
			CompletedAt: time.Now().Add(time.Duration(i) * time.Minute),
			Confidence:  float64(i),
		})
	}
	if got := len(r.Diagnostics()); got != maxDiagnosticEntries {
		t.Fatalf("diagnostics: got %d entries", got)
	}
	if got := len(r.Trend()); got != maxTrendSamples {
		t.Fatalf("trend: got %d samples", got)
	}
	d := r.Diagnostics()
	if d[len(d)-1].Confidence != 39 {
		t.Fatalf("newest entry should be kept, got %f", d[len(d)-1].Confidence)
	}
}

func TestReliabilityLabel(t *testing.T) {
	cases := []struct {
		confidence float64
		want       string
	}{
		{90, "excellent"},
		{85, "excellent"},
		{70, "good"},
		{50, "fair"},
		{49.9, "poor"},
	}
	for _, tc := range cases {
		if got := ReliabilityLabel(tc.confidence); got != tc.want {
			t.Fatalf("ReliabilityLabel(%f) = %q, want %q", tc.confidence, got, tc.want)
		}
	}
}
