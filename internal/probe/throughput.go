package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	logx "linkpulse/pkg/logx"
)

// TrialRunnerConfig controls how a throughput trial is executed.
type TrialRunnerConfig struct {
	// ServerCount is how many nearby candidate servers to consider.
	ServerCount int
	// MaxConnections caps parallel flows during the transfer.
	MaxConnections int
	// OperationTimeout bounds the whole trial.
	OperationTimeout time.Duration
	// LoadedPingInterval is the cadence of latency probes issued while the
	// transfer is in flight.
	LoadedPingInterval time.Duration
}

// SpeedtestTrialRunner runs a throughput+responsiveness trial against the
// nearest usable speedtest server. While the parallel download/upload flows
// are saturating the link, it keeps probing the server's latency endpoint;
// those loaded samples drive the p50/p95 and RPM figures.
type SpeedtestTrialRunner struct {
	cfg TrialRunnerConfig
	log logx.Logger
}

func NewSpeedtestTrialRunner(cfg TrialRunnerConfig, log logx.Logger) *SpeedtestTrialRunner {
	return &SpeedtestTrialRunner{cfg: cfg, log: log}
}

func (r *SpeedtestTrialRunner) RunThroughputTrial(ctx context.Context) (*TrialResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, runError(err)
	}

	cfg := r.cfg
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 60 * time.Second
	}
	if cfg.LoadedPingInterval <= 0 {
		cfg.LoadedPingInterval = 100 * time.Millisecond
	}

	runCtx, cancelRun := context.WithTimeout(ctx, cfg.OperationTimeout)
	ctx = runCtx

	// Dedicated HTTP transport for the loaded-latency probes, kept separate
	// from the transfer flows and cleaned up aggressively after the run.
	hc, tr := newHTTPClient(cfg)

	// Avoid package-level speedtest helpers; speedtest-go keeps package state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		MaxConnections: cfg.MaxConnections,
	}))
	stc.SetNThread(cfg.MaxConnections)

	defer func() {
		cancelRun()
		stc.Snapshots().Clean()
		stc.Reset()
		if tr != nil {
			tr.CloseIdleConnections()
		}
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, runError(fmt.Errorf("fetch server list: %w", err))
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, runError(fmt.Errorf("no servers available"))
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidateN := cfg.ServerCount
	if candidateN > len(servers) {
		candidateN = len(servers)
	}

	// Unloaded latency picks the trial server and sets the base RTT.
	var chosen *st.Server
	for _, s := range servers[:candidateN] {
		if ctx.Err() != nil {
			return nil, runError(ctx.Err())
		}
		if err := s.PingTestContext(ctx, nil); err != nil {
			continue
		}
		if s.Latency <= 0 {
			continue
		}
		if chosen == nil || s.Latency < chosen.Latency {
			chosen = s
		}
	}
	if chosen == nil {
		return nil, runError(fmt.Errorf("all latency tests failed"))
	}
	baseRTTMs := float64(chosen.Latency.Microseconds()) / 1000

	// Loaded latency sampling runs for the duration of the transfer.
	probeCtx, stopProbes := context.WithCancel(ctx)
	sampler := newLoadedSampler(hc, chosen.URL, cfg.LoadedPingInterval)
	var samplerWG sync.WaitGroup
	samplerWG.Add(1)
	go func() {
		defer samplerWG.Done()
		sampler.run(probeCtx)
	}()

	dlErr := chosen.DownloadTestContext(ctx)
	ulErr := chosen.UploadTestContext(ctx)

	stopProbes()
	samplerWG.Wait()

	if dlErr != nil {
		return nil, runError(fmt.Errorf("download test: %w", dlErr))
	}
	if ulErr != nil {
		return nil, runError(fmt.Errorf("upload test: %w", ulErr))
	}

	downMbps := chosen.DLSpeed.Mbps()
	upMbps := chosen.ULSpeed.Mbps()
	if downMbps <= 0 || upMbps <= 0 {
		return nil, decodeError(fmt.Errorf("non-positive speeds: down=%f up=%f", downMbps, upMbps))
	}

	loaded := sampler.samples()
	if len(loaded) == 0 {
		return nil, decodeError(fmt.Errorf("no loaded latency samples collected"))
	}

	var sum float64
	for _, v := range loaded {
		sum += v
	}
	meanLoaded := sum / float64(len(loaded))
	rpm := 0
	if meanLoaded > 0 {
		rpm = int(60_000 / meanLoaded)
	}

	r.log.Debug("throughput trial complete",
		logx.Float64("down_mbps", downMbps),
		logx.Float64("up_mbps", upMbps),
		logx.Int("rpm", rpm),
		logx.Float64("base_rtt_ms", baseRTTMs),
		logx.Int("loaded_samples", len(loaded)),
	)

	return &TrialResult{
		DownloadBps:       downMbps * 1e6,
		UploadBps:         upMbps * 1e6,
		ResponsivenessRPM: rpm,
		BaseRTTMs:         baseRTTMs,
		LoadedRTTMs:       loaded,
	}, nil
}

// loadedSampler probes the server's latency endpoint at a fixed cadence and
// collects round-trip milliseconds. Failed probes are skipped silently: under
// heavy load some probes time out, which is itself the signal the percentiles
// capture through the surviving samples.
type loadedSampler struct {
	hc       *http.Client
	url      string
	interval time.Duration

	mu   sync.Mutex
	rtts []float64
}

func newLoadedSampler(hc *http.Client, serverURL string, interval time.Duration) *loadedSampler {
	return &loadedSampler{
		hc:       hc,
		url:      latencyURL(serverURL),
		interval: interval,
	}
}

// latencyURL rewrites a speedtest upload endpoint to its latency endpoint.
func latencyURL(serverURL string) string {
	if i := strings.LastIndex(serverURL, "/"); i >= 0 {
		return serverURL[:i] + "/latency.txt"
	}
	return serverURL
}

func (s *loadedSampler) run(ctx context.Context) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if ms, ok := s.probeOnce(ctx); ok {
				s.mu.Lock()
				s.rtts = append(s.rtts, ms)
				s.mu.Unlock()
			}
		}
	}
}

func (s *loadedSampler) probeOnce(ctx context.Context) (float64, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, false
	}
	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		return 0, false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
	elapsed := time.Since(start)
	return float64(elapsed.Microseconds()) / 1000, true
}

func (s *loadedSampler) samples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.rtts))
	copy(out, s.rtts)
	return out
}

func newHTTPClient(cfg TrialRunnerConfig) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if cfg.OperationTimeout > 0 {
		capTo := cfg.OperationTimeout / 2
		if capTo < dialTimeout {
			dialTimeout = capTo
		}
		if dialTimeout < 2*time.Second {
			dialTimeout = 2 * time.Second
		}
	}

	perHost := cfg.MaxConnections
	if perHost < 2 {
		perHost = 2
	}

	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}, tr
}
