// Package engine owns the measurement core's lifecycle and published state.
// It wires the samplers, probes, trial orchestrator and classifiers together
// under one supervisor, and exposes a snapshot surface the presentation
// layer polls.
//
// All published state is mutated from a single writer at a time: the ambient
// poller touches only the classifier, and at most one test cycle runs at
// once. Readers get copies via Snapshot.
package engine

import (
	"context"
	"sync"
	"time"

	"linkpulse/internal/ambient"
	"linkpulse/internal/config"
	"linkpulse/internal/diagnose"
	"linkpulse/internal/history"
	"linkpulse/internal/netio"
	"linkpulse/internal/probe"
	"linkpulse/internal/runtime/supervisor"
	"linkpulse/internal/trial"
	logx "linkpulse/pkg/logx"
)

// Probers bundles the injectable measurement primitives.
type Probers struct {
	Pinger   probe.Pinger
	Resolver probe.Resolver
	Gateway  probe.GatewayFinder
	Counters netio.CounterSource

	// NewTrialRunner builds the throughput runner for one cycle from the
	// current probe settings.
	NewTrialRunner func(cfg probe.TrialRunnerConfig) probe.TrialRunner
}

// Engine is the measurement core.
type Engine struct {
	probers Probers
	log     logx.Logger

	sup      *supervisor.Supervisor
	ambient  *ambient.Classifier
	graph    *netio.LiveGraph
	recorder *trial.Recorder
	store    *history.Store

	mu  sync.Mutex
	cfg *config.Config

	running     bool
	cycleCancel context.CancelFunc

	phase      trial.Phase
	progress   float64
	liveDown   float64
	liveUp     float64
	result     *trial.Aggregate
	resultOld  bool
	lastTestAt time.Time
	lastErr    string

	gateway    *probe.LatencyResult
	internet   *probe.LatencyResult
	dnsMs      float64
	dnsTimed   bool
	signalPct  float64
	signalSeen bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHistoryStore attaches the optional on-disk cycle log.
func WithHistoryStore(st *history.Store) Option {
	return func(e *Engine) { e.store = st }
}

func New(cfg *config.Config, probers Probers, log logx.Logger, opts ...Option) *Engine {
	e := &Engine{
		probers:  probers,
		log:      log,
		cfg:      cfg,
		ambient:  ambient.New(ambientConfig(cfg)),
		graph:    netio.NewLiveGraph(cfg.Sampler.GraphPoints, cfg.Sampler.SmoothingAlpha, cfg.Sampler.ScaleDecay),
		recorder: trial.NewRecorder(),
		phase:    trial.PhaseIdle,
	}
	if e.probers.NewTrialRunner == nil {
		e.probers.NewTrialRunner = func(trc probe.TrialRunnerConfig) probe.TrialRunner {
			return probe.NewSpeedtestTrialRunner(trc, log.With(logx.String("task", "trial")))
		}
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches the lifetime background work (the ambient poller). It does
// not start a test cycle.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.sup != nil {
		e.mu.Unlock()
		return
	}
	e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log))
	sup := e.sup
	e.mu.Unlock()

	sup.GoRestart("ambient.poller", 250*time.Millisecond, 5*time.Second, e.ambientLoop)
}

// Close stops everything, including any in-flight cycle.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	sup := e.sup
	e.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// StartTest begins a measurement cycle. It reports false, without side
// effects, if a cycle is already running or the engine has not been started.
func (e *Engine) StartTest() bool {
	e.mu.Lock()
	if e.running || e.sup == nil {
		e.mu.Unlock()
		return false
	}
	cycleCtx, cancel := context.WithCancel(e.sup.Context())
	e.running = true
	e.cycleCancel = cancel
	e.phase = trial.PhaseWaitingQuiet
	e.progress = 0
	e.lastErr = ""
	e.graph.Reset()
	sup := e.sup
	e.mu.Unlock()

	sup.Go0("cycle", func(context.Context) {
		e.runCycle(cycleCtx)
	})
	return true
}

// StopTest cancels an in-flight cycle. The last published result is
// preserved. Calling it while idle is a no-op.
func (e *Engine) StopTest() {
	e.mu.Lock()
	cancel := e.cycleCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether a cycle is in flight.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ApplyConfig swaps in a reloaded configuration. The next cycle picks up
// trial/probe settings; the ambient classifier is retuned in place.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.ambient.Reconfigure(ambientConfig(cfg))
}

// SetSignalQuality records the wireless signal quality (0..100) supplied by
// the platform layer, if any.
func (e *Engine) SetSignalQuality(pct float64) {
	e.mu.Lock()
	e.signalPct = pct
	e.signalSeen = true
	e.mu.Unlock()
}

func (e *Engine) config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func ambientConfig(cfg *config.Config) ambient.Config {
	return ambient.Config{
		Window:              config.Duration(cfg.Ambient.Window, 90*time.Second),
		MaxSamples:          cfg.Ambient.MaxSamples,
		SmoothingAlpha:      cfg.Ambient.SmoothingAlpha,
		SustainedPercentile: cfg.Ambient.SustainedPercentile,
		HDMbps:              cfg.Ambient.HDMbps,
		UHDMbps:             cfg.Ambient.UHDMbps,
		MinStreamSeconds:    cfg.Ambient.MinStreamSeconds,
		MaxLossPct:          cfg.Ambient.MaxLossPct,
	}
}

// ambientLoop is the process-lifetime passive sampler.
func (e *Engine) ambientLoop(ctx context.Context) error {
	var tracker netio.RateTracker
	for {
		cfg := e.config()
		interval := config.Duration(cfg.Ambient.Interval, time.Second)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		counters, err := e.probers.Counters.ReadCounters(ctx, cfg.Interface)
		if err != nil {
			// Interface may flap during roaming; keep polling.
			e.log.Debug("counter read failed", logx.Err(err))
			tracker.Reset()
			continue
		}
		if down, up, ok := tracker.Update(counters, time.Now()); ok {
			e.ambient.Observe(ambient.Sample{At: time.Now(), DownMbps: down, UpMbps: up})
		}
	}
}

func (e *Engine) thresholds() diagnose.Thresholds {
	cfg := e.config()
	return diagnose.Thresholds{
		GatewayLatencyMs:  cfg.Diagnose.GatewayLatencyMs,
		GatewayLossPct:    cfg.Diagnose.GatewayLossPct,
		InternetLatencyMs: cfg.Diagnose.InternetLatencyMs,
		InternetLossPct:   cfg.Diagnose.InternetLossPct,
		MinRPM:            cfg.Diagnose.MinRPM,
		MaxInflation:      cfg.Diagnose.MaxInflation,
	}
}
