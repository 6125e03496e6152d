package ambient

import (
	"testing"
	"time"
)

func newTestClassifier() *Classifier {
	return New(Config{
		Window:              90 * time.Second,
		MaxSamples:          90,
		SmoothingAlpha:      0.35,
		SustainedPercentile: 65,
		HDMbps:              6,
		UHDMbps:             18,
		MinStreamSeconds:    10,
		MaxLossPct:          3,
	})
}

func TestSustainedPercentileBoundedBySamples(t *testing.T) {
	c := newTestClassifier()
	now := time.Now()
	for i := 0; i < 20; i++ {
		c.Observe(Sample{At: now.Add(time.Duration(i) * time.Second), DownMbps: 10})
	}

	obs := c.Snapshot()
	if obs.SustainedDownMbps != 10 {
		t.Fatalf("sustained should equal the uniform sample value, got %f", obs.SustainedDownMbps)
	}

	// One extreme outlier must not move the percentile past real samples.
	c.Observe(Sample{At: now.Add(21 * time.Second), DownMbps: 10000})
	obs = c.Snapshot()
	if obs.SustainedDownMbps != 10 {
		t.Fatalf("one outlier moved p65 to %f", obs.SustainedDownMbps)
	}
}

func TestSustainedPercentileNearestRank(t *testing.T) {
	c := newTestClassifier()
	now := time.Now()
	for i := 1; i <= 10; i++ {
		c.Observe(Sample{At: now.Add(time.Duration(i) * time.Second), DownMbps: float64(i)})
	}

	// Nearest rank: ceil(0.65 * 10) = the 7th of ten ascending samples.
	obs := c.Snapshot()
	if obs.SustainedDownMbps != 7 {
		t.Fatalf("p65 of 1..10: got %f", obs.SustainedDownMbps)
	}
}

func TestWindowEviction(t *testing.T) {
	c := newTestClassifier()
	now := time.Now()

	// Old samples fall out by age.
	c.Observe(Sample{At: now.Add(-5 * time.Minute), DownMbps: 50})
	c.Observe(Sample{At: now, DownMbps: 1})

	obs := c.Snapshot()
	if obs.Samples != 1 {
		t.Fatalf("expected 1 retained sample, got %d", obs.Samples)
	}

	// And by count.
	for i := 0; i < 200; i++ {
		c.Observe(Sample{At: now.Add(time.Duration(i) * 100 * time.Millisecond), DownMbps: 1})
	}
	obs = c.Snapshot()
	if obs.Samples > 90 {
		t.Fatalf("window exceeded max samples: %d", obs.Samples)
	}
}

func TestStreamingFlags(t *testing.T) {
	c := newTestClassifier()
	now := time.Now()

	// 9 fast seconds: below the minimum streak, no flags.
	for i := 0; i < 9; i++ {
		c.Observe(Sample{At: now.Add(time.Duration(i) * time.Second), DownMbps: 20})
	}
	obs := c.Snapshot()
	if obs.HDLikely || obs.UHDLikely {
		t.Fatalf("flags raised below minimum seconds: %+v", obs)
	}

	// Tenth fast second: both flags (4K implies HD).
	c.Observe(Sample{At: now.Add(9 * time.Second), DownMbps: 20})
	obs = c.Snapshot()
	if !obs.UHDLikely {
		t.Fatalf("expected 4K-like flag")
	}
	if !obs.HDLikely {
		t.Fatalf("4K-like must imply HD-like")
	}
}

func TestStreamingFlagsGatedOnLoss(t *testing.T) {
	c := newTestClassifier()
	now := time.Now()
	for i := 0; i < 15; i++ {
		c.Observe(Sample{At: now.Add(time.Duration(i) * time.Second), DownMbps: 25})
	}

	c.SetWorstLoss(4.5)
	obs := c.Snapshot()
	if obs.HDLikely || obs.UHDLikely {
		t.Fatalf("flags must drop when loss exceeds the bound: %+v", obs)
	}

	c.SetWorstLoss(0.2)
	obs = c.Snapshot()
	if !obs.UHDLikely {
		t.Fatalf("flags should return once loss is acceptable")
	}
}

func TestHDOnlyTraffic(t *testing.T) {
	c := newTestClassifier()
	now := time.Now()
	for i := 0; i < 12; i++ {
		c.Observe(Sample{At: now.Add(time.Duration(i) * time.Second), DownMbps: 8})
	}
	obs := c.Snapshot()
	if !obs.HDLikely {
		t.Fatalf("expected HD-like flag for sustained 8 Mbps")
	}
	if obs.UHDLikely {
		t.Fatalf("8 Mbps must not look 4K-like")
	}
}
