package config

import (
	"fmt"

	logx "linkpulse/pkg/logx"
)

// Config is the root configuration for the measurement engine.
//
// All durations are Go duration strings (e.g. "250ms", "2.5s", "1m").
// Every threshold below was tuned empirically; they are config fields rather
// than constants so deployments can retune them without a rebuild.
type Config struct {
	// Interface is the wireless interface to sample byte counters from
	// (e.g. "wlan0", "en0"). Empty means auto-detect is left to the caller.
	Interface string `json:"interface"`

	Logging logx.Config `json:"logging"`

	Sampler   SamplerConfig   `json:"sampler"`
	Ambient   AmbientConfig   `json:"ambient"`
	Probe     ProbeConfig     `json:"probe"`
	Trial     TrialConfig     `json:"trial"`
	Diagnose  DiagnoseConfig  `json:"diagnose"`
	Scheduler SchedulerConfig `json:"scheduler"`
	History   HistoryConfig   `json:"history"`
}

// SamplerConfig controls the live-feedback throughput sampler.
type SamplerConfig struct {
	// LiveInterval is the poll cadence while a trial is running.
	LiveInterval string `json:"live_interval"`
	// SmoothingAlpha is the EWMA factor applied to live rates before graphing.
	SmoothingAlpha float64 `json:"smoothing_alpha"`
	// GraphPoints is the ring-buffer capacity of the live graph.
	GraphPoints int `json:"graph_points"`
	// ScaleDecay is the per-tick fraction the graph Y scale shrinks by when
	// below its peak. Expansion is instant; decay is slow to avoid jitter.
	ScaleDecay float64 `json:"scale_decay"`
}

// AmbientConfig controls the passive ambient traffic classifier.
type AmbientConfig struct {
	Interval       string  `json:"interval"`
	Window         string  `json:"window"`
	MaxSamples     int     `json:"max_samples"`
	SmoothingAlpha float64 `json:"smoothing_alpha"`
	// SustainedPercentile selects the windowed percentile reported as
	// "sustained" throughput.
	SustainedPercentile int `json:"sustained_percentile"`
	// HDMbps / UHDMbps are the per-second download rates that count as
	// HD-like / 4K-like streaming seconds.
	HDMbps  float64 `json:"hd_mbps"`
	UHDMbps float64 `json:"uhd_mbps"`
	// MinStreamSeconds is how many qualifying seconds must appear in the
	// window before a streaming flag is raised.
	MinStreamSeconds int `json:"min_stream_seconds"`
	// MaxLossPct disables the streaming flags when worst observed loss is at
	// or above this percentage.
	MaxLossPct float64 `json:"max_loss_pct"`
}

// ProbeConfig controls the external measurement primitives.
type ProbeConfig struct {
	// InternetAnchor is the public-internet latency target.
	InternetAnchor string `json:"internet_anchor"`
	// DNSHost is the hostname used for resolution timing.
	DNSHost     string `json:"dns_host"`
	PingCount   int    `json:"ping_count"`
	PingTimeout string `json:"ping_timeout"`

	// Throughput trial settings.
	ServerCount    int    `json:"server_count"`
	MaxConnections int    `json:"max_connections"`
	TrialTimeout   string `json:"trial_timeout"`
	// LoadedPingInterval is the cadence of latency probes issued while the
	// transfer is in flight (for loaded-latency percentiles).
	LoadedPingInterval string `json:"loaded_ping_interval"`
}

// TrialConfig controls the multi-trial orchestrator.
type TrialConfig struct {
	MaxTrials int `json:"max_trials"`
	// CrossTrafficMbps is the ambient rate above which a window is not quiet.
	CrossTrafficMbps float64 `json:"cross_traffic_mbps"`
	// QuietWindow bounds how long trials 1..N-1 wait for a quiet window.
	QuietWindow string `json:"quiet_window"`
	// QuietPoll is the cadence of ambient checks during that wait.
	QuietPoll string `json:"quiet_poll"`
	// FirstSniff is the brief ambient sample taken before trial 0, which is
	// never delayed.
	FirstSniff string `json:"first_sniff"`
	// MaxLossPct blocks early stopping when worst observed loss reaches it.
	MaxLossPct float64 `json:"max_loss_pct"`

	EarlyStop EarlyStopConfig `json:"early_stop"`
}

// EarlyStopConfig holds the hand-tuned early-stop thresholds.
type EarlyStopConfig struct {
	// Single-trial "clearly excellent" bar.
	SingleDownloadMbps float64 `json:"single_download_mbps"`
	SingleUploadMbps   float64 `json:"single_upload_mbps"`
	SingleRPM          int     `json:"single_rpm"`
	SingleP95Ms        float64 `json:"single_p95_ms"`
	SingleInflation    float64 `json:"single_inflation"`

	// Multi-trial stability bars.
	CoVDownload  float64 `json:"cov_download"`
	CoVUpload    float64 `json:"cov_upload"`
	CoVRPM       float64 `json:"cov_rpm"`
	MaxP95Ms     float64 `json:"max_p95_ms"`
	MaxInflation float64 `json:"max_inflation"`
}

// DiagnoseConfig holds the two-hop root-cause thresholds.
type DiagnoseConfig struct {
	GatewayLatencyMs  float64 `json:"gateway_latency_ms"`
	GatewayLossPct    float64 `json:"gateway_loss_pct"`
	InternetLatencyMs float64 `json:"internet_latency_ms"`
	InternetLossPct   float64 `json:"internet_loss_pct"`
	MinRPM            int     `json:"min_rpm"`
	MaxInflation      float64 `json:"max_inflation"`
}

// SchedulerConfig controls automatic test cycles.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (e.g. "*/30 * * * *").
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
}

// HistoryConfig controls the optional on-disk cycle history.
type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path"`
	MaxAgeDays  int    `json:"max_age_days"`
	MaxRecords  int    `json:"max_records"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Default returns a config populated with the tuned defaults.
func Default() *Config {
	return &Config{
		Logging: logx.Config{Level: "info", Console: true},
		Sampler: SamplerConfig{
			LiveInterval:   "250ms",
			SmoothingAlpha: 0.28,
			GraphPoints:    36,
			ScaleDecay:     0.03,
		},
		Ambient: AmbientConfig{
			Interval:            "1s",
			Window:              "90s",
			MaxSamples:          90,
			SmoothingAlpha:      0.35,
			SustainedPercentile: 65,
			HDMbps:              6,
			UHDMbps:             18,
			MinStreamSeconds:    10,
			MaxLossPct:          3,
		},
		Probe: ProbeConfig{
			InternetAnchor:     "1.1.1.1",
			DNSHost:            "www.google.com",
			PingCount:          10,
			PingTimeout:        "2s",
			ServerCount:        5,
			MaxConnections:     4,
			TrialTimeout:       "60s",
			LoadedPingInterval: "100ms",
		},
		Trial: TrialConfig{
			MaxTrials:        3,
			CrossTrafficMbps: 1.5,
			QuietWindow:      "2.5s",
			QuietPoll:        "250ms",
			FirstSniff:       "350ms",
			MaxLossPct:       1.0,
			EarlyStop: EarlyStopConfig{
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
		},
		Diagnose: DiagnoseConfig{
			GatewayLatencyMs:  50,
			GatewayLossPct:    2,
			InternetLatencyMs: 100,
			InternetLossPct:   2,
			MinRPM:            500,
			MaxInflation:      6,
		},
		History: HistoryConfig{
			MaxAgeDays: 90,
			MaxRecords: 500,
		},
	}
}

// Normalize fills zero fields with defaults and validates duration strings.
func (c *Config) Normalize() error {
	def := Default()

	if c.Logging.Level == "" {
		c.Logging = def.Logging
	}

	fillSampler(&c.Sampler, def.Sampler)
	fillAmbient(&c.Ambient, def.Ambient)
	fillProbe(&c.Probe, def.Probe)
	fillTrial(&c.Trial, def.Trial)
	fillDiagnose(&c.Diagnose, def.Diagnose)
	if c.History.MaxAgeDays <= 0 {
		c.History.MaxAgeDays = def.History.MaxAgeDays
	}
	if c.History.MaxRecords <= 0 {
		c.History.MaxRecords = def.History.MaxRecords
	}

	// Validate every duration string up front so accessors can't fail later.
	for _, d := range []struct{ path, raw string }{
		{"sampler.live_interval", c.Sampler.LiveInterval},
		{"ambient.interval", c.Ambient.Interval},
		{"ambient.window", c.Ambient.Window},
		{"probe.ping_timeout", c.Probe.PingTimeout},
		{"probe.trial_timeout", c.Probe.TrialTimeout},
		{"probe.loaded_ping_interval", c.Probe.LoadedPingInterval},
		{"trial.quiet_window", c.Trial.QuietWindow},
		{"trial.quiet_poll", c.Trial.QuietPoll},
		{"trial.first_sniff", c.Trial.FirstSniff},
		{"history.busy_timeout", c.History.BusyTimeout},
	} {
		if _, err := parseDuration(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Scheduler.Enabled && c.Scheduler.Schedule == "" {
		return fmt.Errorf("scheduler.schedule is required when scheduler is enabled")
	}
	return nil
}

func fillSampler(c *SamplerConfig, def SamplerConfig) {
	if c.LiveInterval == "" {
		c.LiveInterval = def.LiveInterval
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha >= 1 {
		c.SmoothingAlpha = def.SmoothingAlpha
	}
	if c.GraphPoints <= 0 {
		c.GraphPoints = def.GraphPoints
	}
	if c.ScaleDecay <= 0 || c.ScaleDecay >= 1 {
		c.ScaleDecay = def.ScaleDecay
	}
}

func fillAmbient(c *AmbientConfig, def AmbientConfig) {
	if c.Interval == "" {
		c.Interval = def.Interval
	}
	if c.Window == "" {
		c.Window = def.Window
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = def.MaxSamples
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha >= 1 {
		c.SmoothingAlpha = def.SmoothingAlpha
	}
	if c.SustainedPercentile <= 0 || c.SustainedPercentile > 100 {
		c.SustainedPercentile = def.SustainedPercentile
	}
	if c.HDMbps <= 0 {
		c.HDMbps = def.HDMbps
	}
	if c.UHDMbps <= 0 {
		c.UHDMbps = def.UHDMbps
	}
	if c.MinStreamSeconds <= 0 {
		c.MinStreamSeconds = def.MinStreamSeconds
	}
	if c.MaxLossPct <= 0 {
		c.MaxLossPct = def.MaxLossPct
	}
}

func fillProbe(c *ProbeConfig, def ProbeConfig) {
	if c.InternetAnchor == "" {
		c.InternetAnchor = def.InternetAnchor
	}
	if c.DNSHost == "" {
		c.DNSHost = def.DNSHost
	}
	if c.PingCount <= 0 {
		c.PingCount = def.PingCount
	}
	if c.PingTimeout == "" {
		c.PingTimeout = def.PingTimeout
	}
	if c.ServerCount <= 0 {
		c.ServerCount = def.ServerCount
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.TrialTimeout == "" {
		c.TrialTimeout = def.TrialTimeout
	}
	if c.LoadedPingInterval == "" {
		c.LoadedPingInterval = def.LoadedPingInterval
	}
}

func fillTrial(c *TrialConfig, def TrialConfig) {
	if c.MaxTrials <= 0 {
		c.MaxTrials = def.MaxTrials
	}
	if c.CrossTrafficMbps <= 0 {
		c.CrossTrafficMbps = def.CrossTrafficMbps
	}
	if c.QuietWindow == "" {
		c.QuietWindow = def.QuietWindow
	}
	if c.QuietPoll == "" {
		c.QuietPoll = def.QuietPoll
	}
	if c.FirstSniff == "" {
		c.FirstSniff = def.FirstSniff
	}
	if c.MaxLossPct <= 0 {
		c.MaxLossPct = def.MaxLossPct
	}
	es := &c.EarlyStop
	d := def.EarlyStop
	if es.SingleDownloadMbps <= 0 {
		es.SingleDownloadMbps = d.SingleDownloadMbps
	}
	if es.SingleUploadMbps <= 0 {
		es.SingleUploadMbps = d.SingleUploadMbps
	}
	if es.SingleRPM <= 0 {
		es.SingleRPM = d.SingleRPM
	}
	if es.SingleP95Ms <= 0 {
		es.SingleP95Ms = d.SingleP95Ms
	}
	if es.SingleInflation <= 0 {
		es.SingleInflation = d.SingleInflation
	}
	if es.CoVDownload <= 0 {
		es.CoVDownload = d.CoVDownload
	}
	if es.CoVUpload <= 0 {
		es.CoVUpload = d.CoVUpload
	}
	if es.CoVRPM <= 0 {
		es.CoVRPM = d.CoVRPM
	}
	if es.MaxP95Ms <= 0 {
		es.MaxP95Ms = d.MaxP95Ms
	}
	if es.MaxInflation <= 0 {
		es.MaxInflation = d.MaxInflation
	}
}

func fillDiagnose(c *DiagnoseConfig, def DiagnoseConfig) {
	if c.GatewayLatencyMs <= 0 {
		c.GatewayLatencyMs = def.GatewayLatencyMs
	}
	if c.GatewayLossPct <= 0 {
		c.GatewayLossPct = def.GatewayLossPct
	}
	if c.InternetLatencyMs <= 0 {
		c.InternetLatencyMs = def.InternetLatencyMs
	}
	if c.InternetLossPct <= 0 {
		c.InternetLossPct = def.InternetLossPct
	}
	if c.MinRPM <= 0 {
		c.MinRPM = def.MinRPM
	}
	if c.MaxInflation <= 0 {
		c.MaxInflation = def.MaxInflation
	}
}
