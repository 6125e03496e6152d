package engine

import (
	"context"
	"errors"
	"time"

	"linkpulse/internal/config"
	"linkpulse/internal/diagnose"
	"linkpulse/internal/history"
	"linkpulse/internal/netio"
	"linkpulse/internal/probe"
	"linkpulse/internal/runtime/supervisor"
	"linkpulse/internal/trial"
	logx "linkpulse/pkg/logx"
)

// runCycle executes one measurement cycle to completion or cancellation.
// It is the cycle's single writer: latency probes and the live poller hand
// their data back through the engine mutex, and the published result is
// replaced as a whole unit at the end, never field by field.
func (e *Engine) runCycle(ctx context.Context) {
	cfg := e.config()

	// Latency state is per cycle: absent legs mean "not yet tested" for the
	// cycle in progress, not data from a previous one.
	e.mu.Lock()
	e.gateway = nil
	e.internet = nil
	e.dnsTimed = false
	e.mu.Unlock()

	cycleSup := supervisor.New(ctx, supervisor.WithLogger(e.log))
	e.startLatencyProbes(cycleSup, cfg)
	cycleSup.Go0("cycle.live", func(ctx context.Context) {
		e.liveLoop(ctx, cfg)
	})

	runnerCfg := probe.TrialRunnerConfig{
		ServerCount:        cfg.Probe.ServerCount,
		MaxConnections:     cfg.Probe.MaxConnections,
		OperationTimeout:   config.Duration(cfg.Probe.TrialTimeout, 60*time.Second),
		LoadedPingInterval: config.Duration(cfg.Probe.LoadedPingInterval, 100*time.Millisecond),
	}
	orch := trial.NewOrchestrator(
		trial.Settings{
			MaxTrials:        cfg.Trial.MaxTrials,
			CrossTrafficMbps: cfg.Trial.CrossTrafficMbps,
			QuietWindow:      config.Duration(cfg.Trial.QuietWindow, 2500*time.Millisecond),
			QuietPoll:        config.Duration(cfg.Trial.QuietPoll, 250*time.Millisecond),
			FirstSniff:       config.Duration(cfg.Trial.FirstSniff, 350*time.Millisecond),
			MaxLossPct:       cfg.Trial.MaxLossPct,
			EarlyStop: trial.EarlyStop{
				SingleDownloadMbps: cfg.Trial.EarlyStop.SingleDownloadMbps,
				SingleUploadMbps:   cfg.Trial.EarlyStop.SingleUploadMbps,
				SingleRPM:          cfg.Trial.EarlyStop.SingleRPM,
				SingleP95Ms:        cfg.Trial.EarlyStop.SingleP95Ms,
				SingleInflation:    cfg.Trial.EarlyStop.SingleInflation,
				CoVDownload:        cfg.Trial.EarlyStop.CoVDownload,
				CoVUpload:          cfg.Trial.EarlyStop.CoVUpload,
				CoVRPM:             cfg.Trial.EarlyStop.CoVRPM,
				MaxP95Ms:           cfg.Trial.EarlyStop.MaxP95Ms,
				MaxInflation:       cfg.Trial.EarlyStop.MaxInflation,
			},
		},
		e.probers.NewTrialRunner(runnerCfg),
		e.ambient.InstantRateMbps,
		e.log.With(logx.String("task", "cycle")),
		trial.WithUpdateFunc(e.onCycleUpdate),
		trial.WithWorstLossFunc(e.worstCycleLoss),
	)

	result, runErr := orch.Run(ctx)

	// Stop the live poller, then let in-flight latency probes finish so the
	// finalized state carries both legs when they succeeded.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	_ = cycleSup.Stop(stopCtx)
	cancelStop()

	e.finalizeCycle(result, runErr)
}

// startLatencyProbes launches the once-per-cycle dual-hop latency probes and
// the DNS timing. Gateway discovery failure is expected on some networks and
// simply leaves that leg absent.
func (e *Engine) startLatencyProbes(sup *supervisor.Supervisor, cfg *config.Config) {
	count := cfg.Probe.PingCount
	timeout := config.Duration(cfg.Probe.PingTimeout, 2*time.Second)

	sup.Go0("cycle.probe.gateway", func(ctx context.Context) {
		gw, err := e.probers.Gateway.DefaultGateway(ctx)
		if err != nil {
			if !errors.Is(err, probe.ErrNoDefaultRoute) {
				e.log.Debug("gateway discovery failed", logx.Err(err))
			}
			return
		}
		res, err := e.probers.Pinger.ProbeLatency(ctx, gw, count, timeout)
		if err != nil {
			e.log.Debug("gateway probe failed", logx.String("target", gw), logx.Err(err))
			return
		}
		e.mu.Lock()
		e.gateway = res
		e.mu.Unlock()
	})

	sup.Go0("cycle.probe.internet", func(ctx context.Context) {
		res, err := e.probers.Pinger.ProbeLatency(ctx, cfg.Probe.InternetAnchor, count, timeout)
		if err != nil {
			e.log.Debug("internet probe failed", logx.String("target", cfg.Probe.InternetAnchor), logx.Err(err))
			return
		}
		e.mu.Lock()
		e.internet = res
		e.mu.Unlock()
	})

	sup.Go0("cycle.probe.dns", func(ctx context.Context) {
		elapsed, err := e.probers.Resolver.ResolveDNS(ctx, cfg.Probe.DNSHost)
		if err != nil {
			e.log.Debug("dns timing failed", logx.String("host", cfg.Probe.DNSHost), logx.Err(err))
			return
		}
		e.mu.Lock()
		e.dnsMs = float64(elapsed.Microseconds()) / 1000
		e.dnsTimed = true
		e.mu.Unlock()
	})
}

// liveLoop feeds the live graph while the cycle runs.
func (e *Engine) liveLoop(ctx context.Context, cfg *config.Config) {
	interval := config.Duration(cfg.Sampler.LiveInterval, 250*time.Millisecond)
	var tracker netio.RateTracker

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		counters, err := e.probers.Counters.ReadCounters(ctx, cfg.Interface)
		if err != nil {
			tracker.Reset()
			continue
		}
		now := time.Now()
		down, up, ok := tracker.Update(counters, now)
		if !ok {
			continue
		}
		e.mu.Lock()
		// The stream freezes between trials: appending the near-zero rates
		// seen during quiet-window waits would read as a dropped connection.
		if e.phase == trial.PhaseMeasuring {
			e.liveDown = down
			e.liveUp = up
			e.graph.Append(now, down, up)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) onCycleUpdate(u trial.Update) {
	e.mu.Lock()
	e.phase = u.Phase
	e.progress = u.Progress
	e.mu.Unlock()
}

// worstCycleLoss reports the worst packet loss the cycle's latency probes
// have produced so far.
func (e *Engine) worstCycleLoss() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	worst, seen := 0.0, false
	if e.gateway != nil {
		worst, seen = e.gateway.LossPct, true
	}
	if e.internet != nil && (!seen || e.internet.LossPct > worst) {
		worst, seen = e.internet.LossPct, true
	}
	return worst, seen
}

func (e *Engine) finalizeCycle(result *trial.Aggregate, runErr error) {
	switch {
	case runErr == nil:
		// Record before flipping the running flag so a snapshot taken the
		// moment the cycle ends already sees the trend entry.
		e.recorder.Record(result)
		e.ambient.SetWorstLoss(result.WorstLossPct)

		e.mu.Lock()
		e.result = result
		e.resultOld = false
		e.lastTestAt = result.CompletedAt
		e.running = false
		e.cycleCancel = nil
		e.phase = trial.PhaseIdle
		e.progress = 1
		e.mu.Unlock()

		e.appendHistory(result)

		e.log.Info("cycle complete",
			logx.Float64("down_mbps", result.Median.DownloadMbps),
			logx.Float64("up_mbps", result.Median.UploadMbps),
			logx.Int("rpm", result.Median.ResponsivenessRPM),
			logx.Float64("confidence", result.Confidence),
			logx.Int("completed", result.Completed),
		)

	case errors.Is(runErr, context.Canceled):
		// Stopped by the user or shutdown; the last result stays published.
		e.mu.Lock()
		e.running = false
		e.cycleCancel = nil
		e.phase = trial.PhaseIdle
		e.progress = 0
		e.mu.Unlock()
		e.log.Info("cycle stopped")

	default:
		e.mu.Lock()
		e.lastErr = runErr.Error()
		e.resultOld = e.result != nil
		e.running = false
		e.cycleCancel = nil
		e.phase = trial.PhaseIdle
		e.progress = 0
		e.mu.Unlock()
		e.log.Warn("cycle failed", logx.Err(runErr))
	}
}

func (e *Engine) appendHistory(result *trial.Aggregate) {
	if e.store == nil {
		return
	}
	rootCause := e.diagnosis().RootCause.String()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := e.store.Append(ctx, history.CycleRecord{
		At:                result.CompletedAt,
		DownloadMbps:      result.Median.DownloadMbps,
		UploadMbps:        result.Median.UploadMbps,
		ResponsivenessRPM: result.Median.ResponsivenessRPM,
		BaseRTTMs:         result.Median.BaseRTTMs,
		LoadedP95Ms:       result.Median.LoadedP95Ms,
		InflationRatio:    result.Median.InflationRatio,
		WorstLossPct:      result.WorstLossPct,
		Confidence:        result.Confidence,
		Completed:         result.Completed,
		Planned:           result.Planned,
		RootCause:         rootCause,
	})
	if err != nil {
		e.log.Warn("history append failed", logx.Err(err))
	}
}

// diagnosis recomputes the classification from current state; it is derived
// on demand, never stored.
func (e *Engine) diagnosis() diagnose.Diagnosis {
	e.mu.Lock()
	in := diagnose.Inputs{
		Result:        e.result,
		Gateway:       e.gateway,
		Internet:      e.internet,
		SignalQuality: e.signalPct,
		SignalKnown:   e.signalSeen,
	}
	e.mu.Unlock()
	in.Ambient = e.ambient.Snapshot()
	return diagnose.Classify(in, e.thresholds())
}
