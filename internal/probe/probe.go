// Package probe defines the external measurement primitives and their
// production implementations. Every primitive sits behind an interface with
// one OS-backed implementation and deterministic fakes in tests, so the
// orchestrator's aggregation and early-stop logic can be exercised without
// real network conditions.
package probe

import (
	"context"
	"errors"
	"time"
)

// LatencyResult is the parsed summary of a fixed-count echo probe run
// against a single target.
type LatencyResult struct {
	Target   string  `json:"target"`
	Probes   int     `json:"probes"`
	AvgRTTMs float64 `json:"avg_rtt_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	LossPct  float64 `json:"loss_pct"`
}

// TrialResult is the decoded output of one throughput+responsiveness trial.
type TrialResult struct {
	DownloadBps float64
	UploadBps   float64
	// ResponsivenessRPM is round-trips-per-minute achievable under load.
	ResponsivenessRPM int
	// BaseRTTMs is the unloaded round-trip time to the trial server.
	BaseRTTMs float64
	// LoadedRTTMs are latency samples taken while the transfer was in
	// flight, for percentile derivation.
	LoadedRTTMs []float64
}

// Pinger launches a fixed number of echo probes against one target.
// A nil result with a non-nil error means "no data", not a fatal condition:
// the diagnosis layer treats absent latency as "not yet tested".
type Pinger interface {
	ProbeLatency(ctx context.Context, target string, count int, timeout time.Duration) (*LatencyResult, error)
}

// Resolver times a single blocking DNS resolution.
type Resolver interface {
	ResolveDNS(ctx context.Context, host string) (time.Duration, error)
}

// GatewayFinder discovers the default route's next-hop address.
// ErrNoDefaultRoute is expected (not an error condition for the cycle):
// gateway probing is simply skipped.
type GatewayFinder interface {
	DefaultGateway(ctx context.Context) (string, error)
}

// TrialRunner executes one throughput+responsiveness trial.
type TrialRunner interface {
	RunThroughputTrial(ctx context.Context) (*TrialResult, error)
}

// ErrNoDefaultRoute reports that the routing table has no default entry.
var ErrNoDefaultRoute = errors.New("no default route")

// TrialErrorKind distinguishes why a trial failed.
type TrialErrorKind int

const (
	// TrialErrorRun: the measurement could not be started or exited abnormally.
	TrialErrorRun TrialErrorKind = iota + 1
	// TrialErrorDecode: the measurement ran but its output could not be decoded.
	TrialErrorDecode
)

// TrialError is a typed trial failure.
type TrialError struct {
	Kind TrialErrorKind
	Err  error
}

func (e *TrialError) Error() string {
	switch e.Kind {
	case TrialErrorRun:
		return "trial run failed: " + e.Err.Error()
	case TrialErrorDecode:
		return "trial output decode failed: " + e.Err.Error()
	default:
		return e.Err.Error()
	}
}

func (e *TrialError) Unwrap() error { return e.Err }

func runError(err error) error    { return &TrialError{Kind: TrialErrorRun, Err: err} }
func decodeError(err error) error { return &TrialError{Kind: TrialErrorDecode, Err: err} }

// IsDecodeError reports whether err is a TrialError of the decode kind.
func IsDecodeError(err error) bool {
	var te *TrialError
	return errors.As(err, &te) && te.Kind == TrialErrorDecode
}
