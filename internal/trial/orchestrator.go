package trial

import (
	"context"
	"fmt"
	"time"

	"linkpulse/internal/probe"
	logx "linkpulse/pkg/logx"
)

// Phase identifies where a running cycle currently is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitingQuiet
	PhaseMeasuring
	PhaseAggregating
	PhaseFinalizing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitingQuiet:
		return "waiting for quiet traffic"
	case PhaseMeasuring:
		return "measuring"
	case PhaseAggregating:
		return "aggregating"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Update is a progress report emitted between suspension points.
type Update struct {
	Phase    Phase
	Progress float64
	Trial    int
}

// CrossTrafficFunc reports the current ambient traffic rate in Mbps.
type CrossTrafficFunc func() float64

// WorstLossFunc reports the worst packet loss the cycle's latency probes
// have seen so far; ok is false until a probe completes.
type WorstLossFunc func() (pct float64, ok bool)

// Settings are the resolved orchestrator knobs; see config.TrialConfig.
type Settings struct {
	MaxTrials        int
	CrossTrafficMbps float64
	QuietWindow      time.Duration
	QuietPoll        time.Duration
	FirstSniff       time.Duration
	MaxLossPct       float64
	EarlyStop        EarlyStop
}

// Orchestrator runs one measurement cycle: a bounded sequence of throughput
// trials with quiet-window waits between them, aggregated into medians with
// a confidence score. It owns no goroutines of its own; Run blocks and every
// wait is cancellable through the context.
type Orchestrator struct {
	settings     Settings
	runner       probe.TrialRunner
	crossTraffic CrossTrafficFunc
	worstLoss    WorstLossFunc
	onUpdate     func(Update)
	log          logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithUpdateFunc installs a progress callback, invoked synchronously from Run.
func WithUpdateFunc(fn func(Update)) Option {
	return func(o *Orchestrator) { o.onUpdate = fn }
}

// WithWorstLossFunc installs the supplier of the cycle's worst observed
// packet loss.
func WithWorstLossFunc(fn WorstLossFunc) Option {
	return func(o *Orchestrator) { o.worstLoss = fn }
}

func NewOrchestrator(settings Settings, runner probe.TrialRunner, crossTraffic CrossTrafficFunc, log logx.Logger, opts ...Option) *Orchestrator {
	if settings.MaxTrials < 1 {
		settings.MaxTrials = 1
	}
	o := &Orchestrator{
		settings:     settings,
		runner:       runner,
		crossTraffic: crossTraffic,
		log:          log,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one cycle and returns the aggregate. It returns the context
// error if cancelled mid-cycle and ErrCycleFailed if every trial failed.
func (o *Orchestrator) Run(ctx context.Context) (*Aggregate, error) {
	agg := NewAggregator(o.settings.MaxTrials)

	for i := 0; i < o.settings.MaxTrials; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		affected, err := o.waitForQuiet(ctx, i, agg)
		if err != nil {
			return nil, err
		}

		o.update(PhaseMeasuring, i, agg)
		res, err := o.runner.RunThroughputTrial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			agg.AddFailure()
			o.log.Warn("trial failed",
				logx.Int("trial", i+1),
				logx.Bool("decode", probe.IsDecodeError(err)),
				logx.Err(err),
			)
			continue
		}

		o.update(PhaseAggregating, i, agg)
		agg.Add(MetricsFromTrial(res), affected)
		o.observeLoss(agg)

		if agg.ShouldStop(o.settings.EarlyStop, o.settings.MaxLossPct) {
			o.log.Info("stopping cycle early",
				logx.Int("completed", agg.Completed()),
				logx.Int("planned", o.settings.MaxTrials),
			)
			break
		}
	}

	// Report the last attempted trial, not the planned count, so an
	// early-stopped cycle never claims trials it skipped.
	last := agg.Completed() + agg.Failures()
	if last > 0 {
		last--
	}
	o.update(PhaseFinalizing, last, agg)
	o.observeLoss(agg)
	result := agg.Result(o.now())
	if result == nil {
		return nil, fmt.Errorf("%w: %d trial(s) failed", ErrCycleFailed, agg.Failures())
	}
	return result, nil
}

// waitForQuiet holds the next trial until ambient traffic drops under the
// cross-traffic bound or the quiet window elapses. The first trial only
// sniffs briefly so a fresh start never feels sluggish; it is marked
// traffic-affected instead of delayed.
func (o *Orchestrator) waitForQuiet(ctx context.Context, trialIdx int, agg *Aggregator) (affected bool, err error) {
	threshold := o.settings.CrossTrafficMbps

	if trialIdx == 0 {
		o.update(PhaseWaitingQuiet, trialIdx, agg)
		if o.settings.FirstSniff > 0 {
			if err := o.sleep(ctx, o.settings.FirstSniff); err != nil {
				return false, err
			}
		}
		return o.crossTraffic() > threshold, nil
	}

	o.update(PhaseWaitingQuiet, trialIdx, agg)
	deadline := o.now().Add(o.settings.QuietWindow)
	for {
		if o.crossTraffic() <= threshold {
			return false, nil
		}
		if !o.now().Before(deadline) {
			return true, nil
		}
		if err := o.sleep(ctx, o.settings.QuietPoll); err != nil {
			return false, err
		}
	}
}

func (o *Orchestrator) observeLoss(agg *Aggregator) {
	if o.worstLoss == nil {
		return
	}
	if pct, ok := o.worstLoss(); ok {
		agg.ObserveLoss(pct)
	}
}

func (o *Orchestrator) update(phase Phase, trialIdx int, agg *Aggregator) {
	if o.onUpdate == nil {
		return
	}
	attempted := agg.Completed() + agg.Failures()
	progress := float64(attempted) / float64(o.settings.MaxTrials)
	if phase == PhaseFinalizing {
		progress = 1
	}
	o.onUpdate(Update{Phase: phase, Progress: clamp(progress, 0, 1), Trial: trialIdx + 1})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
