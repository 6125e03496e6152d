package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	logx "linkpulse/pkg/logx"
)

// ExecPinger shells out to the system ping tool and parses its summary lines.
type ExecPinger struct {
	log logx.Logger
}

func NewExecPinger(log logx.Logger) *ExecPinger {
	return &ExecPinger{log: log}
}

func (p *ExecPinger) ProbeLatency(ctx context.Context, target string, count int, timeout time.Duration) (*LatencyResult, error) {
	if count <= 0 {
		count = 10
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	args := pingArgs(runtime.GOOS, target, count, timeout)

	// Bound the whole run: count probes plus slack for the final summary.
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(count)*timeout+5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(runCtx, "ping", args...).Output()
	// ping exits non-zero when some probes are lost; its output is still
	// parseable, so only give up when there is nothing to parse.
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("ping %s: %w", target, err)
	}

	res, perr := parsePingOutput(string(out))
	if perr != nil {
		return nil, fmt.Errorf("ping %s: %w", target, perr)
	}
	res.Target = target
	res.Probes = count

	p.log.Debug("latency probe",
		logx.String("target", target),
		logx.Float64("avg_ms", res.AvgRTTMs),
		logx.Float64("loss_pct", res.LossPct),
	)
	return res, nil
}

func pingArgs(goos, target string, count int, timeout time.Duration) []string {
	c := strconv.Itoa(count)
	switch goos {
	case "darwin":
		// -W takes milliseconds on macOS.
		ms := strconv.FormatInt(timeout.Milliseconds(), 10)
		return []string{"-n", "-q", "-c", c, "-W", ms, target}
	default:
		// iputils -W takes seconds.
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		return []string{"-n", "-q", "-c", c, "-W", strconv.Itoa(secs), target}
	}
}

var (
	// "10 packets transmitted, 10 received, 0% packet loss" (iputils)
	// "10 packets transmitted, 9 packets received, 10.0% packet loss" (BSD)
	pingLossRe = regexp.MustCompile(`([\d.]+)% packet loss`)

	// "rtt min/avg/max/mdev = 13.3/15.2/19.1/1.9 ms" (iputils)
	// "round-trip min/avg/max/stddev = 13.3/15.2/19.1/1.9 ms" (BSD)
	pingRTTRe = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max/(?:mdev|stddev) = ([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+) ms`)
)

// parsePingOutput extracts loss and RTT aggregates from a ping summary.
// When every probe is lost there is no rtt line; that still parses, with
// loss 100 and zero RTT fields.
func parsePingOutput(out string) (*LatencyResult, error) {
	lossM := pingLossRe.FindStringSubmatch(out)
	if lossM == nil {
		return nil, fmt.Errorf("no packet loss summary in output")
	}
	loss, err := strconv.ParseFloat(lossM[1], 64)
	if err != nil {
		return nil, fmt.Errorf("bad loss value %q", lossM[1])
	}

	res := &LatencyResult{LossPct: loss}

	rttM := pingRTTRe.FindStringSubmatch(out)
	if rttM == nil {
		if loss >= 100 {
			return res, nil
		}
		return nil, fmt.Errorf("no rtt summary in output")
	}

	avg, err1 := strconv.ParseFloat(rttM[2], 64)
	dev, err2 := strconv.ParseFloat(rttM[4], 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("bad rtt summary %q", rttM[0])
	}
	res.AvgRTTMs = avg
	res.StdDevMs = dev
	return res, nil
}
