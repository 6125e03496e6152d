// Package ambient passively classifies background traffic from byte-counter
// deltas. It runs for the lifetime of the process, independent of whether an
// active trial is underway, and is the only continuously maintained state in
// the measurement core.
package ambient

import (
	"sort"
	"sync"
	"time"
)

// Sample is one passive 1-second throughput observation.
type Sample struct {
	At       time.Time
	DownMbps float64
	UpMbps   float64
}

// Observation is a point-in-time view of the classifier for the diagnosis
// layer and the snapshot surface.
type Observation struct {
	// AmbientDownMbps / AmbientUpMbps are the smoothed instantaneous rates.
	AmbientDownMbps float64 `json:"ambient_down_mbps"`
	AmbientUpMbps   float64 `json:"ambient_up_mbps"`
	// SustainedDownMbps is the windowed percentile estimate of throughput the
	// link has actually been delivering.
	SustainedDownMbps float64 `json:"sustained_down_mbps"`
	// HDLikely / UHDLikely report that traffic consistent with HD / 4K
	// streaming has been observed recently with acceptable loss.
	HDLikely  bool `json:"hd_likely"`
	UHDLikely bool `json:"uhd_likely"`

	Samples int `json:"samples"`
}

// Config holds the classifier knobs; see config.AmbientConfig for defaults.
type Config struct {
	Window              time.Duration
	MaxSamples          int
	SmoothingAlpha      float64
	SustainedPercentile int
	HDMbps              float64
	UHDMbps             float64
	MinStreamSeconds    int
	MaxLossPct          float64
}

// Classifier smooths passive byte-counter deltas into sustained-throughput
// percentiles and streaming-traffic flags.
//
// The sample window is append-only: oldest samples are evicted by count and
// by age, never rewritten.
type Classifier struct {
	cfg Config

	mu           sync.Mutex
	samples      []Sample
	ambientDown  float64
	ambientUp    float64
	primed       bool
	worstLossPct float64
}

func New(cfg Config) *Classifier {
	if cfg.Window <= 0 {
		cfg.Window = 90 * time.Second
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 90
	}
	if cfg.SmoothingAlpha <= 0 || cfg.SmoothingAlpha >= 1 {
		cfg.SmoothingAlpha = 0.35
	}
	if cfg.SustainedPercentile <= 0 || cfg.SustainedPercentile > 100 {
		cfg.SustainedPercentile = 65
	}
	if cfg.HDMbps <= 0 {
		cfg.HDMbps = 6
	}
	if cfg.UHDMbps <= 0 {
		cfg.UHDMbps = 18
	}
	if cfg.MinStreamSeconds <= 0 {
		cfg.MinStreamSeconds = 10
	}
	if cfg.MaxLossPct <= 0 {
		cfg.MaxLossPct = 3
	}
	return &Classifier{cfg: cfg}
}

// Reconfigure swaps the knobs in place, keeping the sample window. Zero
// fields fall back to defaults the same way New does.
func (c *Classifier) Reconfigure(cfg Config) {
	fresh := New(cfg)
	c.mu.Lock()
	c.cfg = fresh.cfg
	c.mu.Unlock()
}

// Observe folds one passive sample into the window and the smoothed rates.
func (c *Classifier) Observe(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.primed {
		c.ambientDown = s.DownMbps
		c.ambientUp = s.UpMbps
		c.primed = true
	} else {
		a := c.cfg.SmoothingAlpha
		c.ambientDown = a*s.DownMbps + (1-a)*c.ambientDown
		c.ambientUp = a*s.UpMbps + (1-a)*c.ambientUp
	}

	c.samples = append(c.samples, s)
	c.evictLocked(s.At)
}

// SetWorstLoss records the worst packet loss observed by the active probes.
// The streaming flags stay down while loss is above the configured bound.
func (c *Classifier) SetWorstLoss(pct float64) {
	c.mu.Lock()
	c.worstLossPct = pct
	c.mu.Unlock()
}

// InstantRateMbps returns the combined smoothed ambient rate, used by the
// trial orchestrator's quiet-window checks.
func (c *Classifier) InstantRateMbps() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ambientDown + c.ambientUp
}

// Snapshot computes the current observation.
func (c *Classifier) Snapshot() Observation {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs := Observation{
		AmbientDownMbps: c.ambientDown,
		AmbientUpMbps:   c.ambientUp,
		Samples:         len(c.samples),
	}
	if len(c.samples) == 0 {
		return obs
	}

	downs := make([]float64, len(c.samples))
	hdSeconds, uhdSeconds := 0, 0
	for i, s := range c.samples {
		downs[i] = s.DownMbps
		if s.DownMbps >= c.cfg.UHDMbps {
			uhdSeconds++
		}
		if s.DownMbps >= c.cfg.HDMbps {
			hdSeconds++
		}
	}
	sort.Float64s(downs)
	obs.SustainedDownMbps = percentile(downs, c.cfg.SustainedPercentile)

	if c.worstLossPct < c.cfg.MaxLossPct {
		obs.UHDLikely = uhdSeconds >= c.cfg.MinStreamSeconds
		obs.HDLikely = obs.UHDLikely || hdSeconds >= c.cfg.MinStreamSeconds
	}
	return obs
}

func (c *Classifier) evictLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	i := 0
	for i < len(c.samples) && c.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = append(c.samples[:0], c.samples[i:]...)
	}
	if over := len(c.samples) - c.cfg.MaxSamples; over > 0 {
		c.samples = append(c.samples[:0], c.samples[over:]...)
	}
}

// percentile is the nearest-rank estimator used for sustained throughput:
// no interpolation, always bounded by a real sample.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted)*p+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
