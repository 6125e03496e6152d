package trial

import (
	"errors"
	"fmt"
	"time"
)

// ErrCycleFailed reports a cycle in which every trial failed; the previous
// aggregate, if any, stays valid.
var ErrCycleFailed = errors.New("unable to complete speed test")

// EarlyStop holds the thresholds under which a cycle may finish before all
// planned trials have run. The single-trial bar is deliberately higher than
// the multi-trial one: stopping after one sample is only safe when that
// sample is unambiguously healthy.
type EarlyStop struct {
	SingleDownloadMbps float64
	SingleUploadMbps   float64
	SingleRPM          int
	SingleP95Ms        float64
	SingleInflation    float64

	CoVDownload  float64
	CoVUpload    float64
	CoVRPM       float64
	MaxP95Ms     float64
	MaxInflation float64
}

// Aggregate is the published outcome of a measurement cycle.
type Aggregate struct {
	// Median holds the per-field medians across successful trials.
	Median Metrics `json:"median"`

	Planned         int `json:"planned"`
	Completed       int `json:"completed"`
	Failures        int `json:"failures"`
	TrafficAffected int `json:"traffic_affected"`

	CoVDownload float64 `json:"cov_download"`
	CoVUpload   float64 `json:"cov_upload"`
	CoVRPM      float64 `json:"cov_rpm"`

	WorstLossPct float64 `json:"worst_loss_pct"`

	// Confidence scores how much the medians can be trusted, 0 to 100.
	Confidence  float64   `json:"confidence"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notes returns human-readable caveats for the snapshot surface.
func (a *Aggregate) Notes() []string {
	var notes []string
	if a.Completed < a.Planned {
		notes = append(notes, fmt.Sprintf("completed %d of %d trials", a.Completed, a.Planned))
	}
	if a.TrafficAffected > 0 {
		notes = append(notes, fmt.Sprintf("%d trial(s) ran during background traffic", a.TrafficAffected))
	}
	if a.Confidence < 60 {
		notes = append(notes, "results may not reflect true link capacity")
	}
	return notes
}

// Aggregator folds per-trial metrics into a cycle aggregate.
type Aggregator struct {
	planned         int
	samples         []Metrics
	trafficAffected int
	failures        int
	worstLossPct    float64
	lossSeen        bool
}

func NewAggregator(planned int) *Aggregator {
	if planned < 1 {
		planned = 1
	}
	return &Aggregator{planned: planned}
}

// Add records a successful trial. trafficAffected marks trials that started
// while ambient traffic was above the cross-traffic bound.
func (a *Aggregator) Add(m Metrics, trafficAffected bool) {
	a.samples = append(a.samples, m)
	if trafficAffected {
		a.trafficAffected++
	}
}

// AddFailure records a trial that produced no usable metrics. Failures never
// contribute to the medians; they only depress the success-rate component of
// the confidence score.
func (a *Aggregator) AddFailure() {
	a.failures++
}

// ObserveLoss records packet loss seen by the cycle's latency probes. The
// worst figure across the cycle gates early stopping and feeds the
// confidence score.
func (a *Aggregator) ObserveLoss(pct float64) {
	if !a.lossSeen || pct > a.worstLossPct {
		a.worstLossPct = pct
	}
	a.lossSeen = true
}

func (a *Aggregator) Completed() int { return len(a.samples) }
func (a *Aggregator) Failures() int  { return a.failures }

// ShouldStop reports whether the cycle can finish before the remaining
// planned trials. Never stops early while traffic is interfering or while
// packet loss is at or above maxLossPct; unstable links need the extra
// samples most.
func (a *Aggregator) ShouldStop(es EarlyStop, maxLossPct float64) bool {
	if a.trafficAffected > 0 {
		return false
	}
	if a.lossSeen && maxLossPct > 0 && a.worstLossPct >= maxLossPct {
		return false
	}
	switch n := len(a.samples); {
	case n == 0:
		return false
	case n == 1:
		m := a.samples[0]
		return m.DownloadMbps >= es.SingleDownloadMbps &&
			m.UploadMbps >= es.SingleUploadMbps &&
			m.ResponsivenessRPM >= es.SingleRPM &&
			m.LoadedP95Ms < es.SingleP95Ms &&
			m.InflationRatio < es.SingleInflation
	default:
		covDown, covUp, covRPM := a.covs()
		med := a.medians()
		return covDown < es.CoVDownload &&
			covUp < es.CoVUpload &&
			covRPM < es.CoVRPM &&
			med.LoadedP95Ms < es.MaxP95Ms &&
			med.InflationRatio < es.MaxInflation
	}
}

// Result computes the cycle aggregate, or nil when no trial succeeded.
func (a *Aggregator) Result(now time.Time) *Aggregate {
	if len(a.samples) == 0 {
		return nil
	}
	covDown, covUp, covRPM := a.covs()
	agg := &Aggregate{
		Median:          a.medians(),
		Planned:         a.planned,
		Completed:       len(a.samples),
		Failures:        a.failures,
		TrafficAffected: a.trafficAffected,
		CoVDownload:     covDown,
		CoVUpload:       covUp,
		CoVRPM:          covRPM,
		WorstLossPct:    a.worstLossPct,
		CompletedAt:     now,
	}
	agg.Confidence = a.confidence(covDown, covUp, covRPM)
	return agg
}

func (a *Aggregator) medians() Metrics {
	n := len(a.samples)
	down := make([]float64, n)
	up := make([]float64, n)
	rpm := make([]float64, n)
	base := make([]float64, n)
	p50 := make([]float64, n)
	p95 := make([]float64, n)
	jitter := make([]float64, n)
	inflation := make([]float64, n)
	for i, m := range a.samples {
		down[i] = m.DownloadMbps
		up[i] = m.UploadMbps
		rpm[i] = float64(m.ResponsivenessRPM)
		base[i] = m.BaseRTTMs
		p50[i] = m.LoadedP50Ms
		p95[i] = m.LoadedP95Ms
		jitter[i] = m.LoadedJitterMs
		inflation[i] = m.InflationRatio
	}
	return Metrics{
		DownloadMbps:      median(down),
		UploadMbps:        median(up),
		ResponsivenessRPM: int(median(rpm)),
		BaseRTTMs:         median(base),
		LoadedP50Ms:       median(p50),
		LoadedP95Ms:       median(p95),
		LoadedJitterMs:    median(jitter),
		InflationRatio:    median(inflation),
	}
}

func (a *Aggregator) covs() (down, up, rpm float64) {
	n := len(a.samples)
	downs := make([]float64, n)
	ups := make([]float64, n)
	rpms := make([]float64, n)
	for i, m := range a.samples {
		downs[i] = m.DownloadMbps
		ups[i] = m.UploadMbps
		rpms[i] = float64(m.ResponsivenessRPM)
	}
	return coefficientOfVariation(downs), coefficientOfVariation(ups), coefficientOfVariation(rpms)
}

// confidence blends success rate, cross-trial stability, traffic interference
// and packet loss into a 0..100 score. A single-trial cycle is capped below
// the top of the scale regardless of how clean the sample looked.
func (a *Aggregator) confidence(covDown, covUp, covRPM float64) float64 {
	completed := len(a.samples)
	attempted := completed + a.failures
	successRate := float64(completed) / float64(attempted) * 100

	avgCoV := (covDown + covUp + covRPM) / 3
	variationScore := clamp(100-avgCoV*220, 5, 100)

	trafficRatio := float64(a.trafficAffected) / float64(attempted) * 100
	trafficScore := clamp(100-trafficRatio*0.45, 40, 100)

	lossScore := 30.0
	switch {
	case a.worstLossPct < 0.5:
		lossScore = 100
	case a.worstLossPct < 1:
		lossScore = 90
	case a.worstLossPct < 2:
		lossScore = 75
	case a.worstLossPct < 5:
		lossScore = 55
	}

	score := 0.35*successRate + 0.30*variationScore + 0.20*trafficScore + 0.15*lossScore
	if completed == 1 {
		score *= 0.86
	}
	return clamp(score, 0, 100)
}
