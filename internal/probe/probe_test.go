package probe

import (
	"errors"
	"testing"
)

func TestParsePingOutputIputils(t *testing.T) {
	const out = `PING 1.1.1.1 (1.1.1.1) 56(84) bytes of data.

--- 1.1.1.1 ping statistics ---
10 packets transmitted, 10 received, 0% packet loss, time 9012ms
rtt min/avg/max/mdev = 13.312/15.221/19.108/1.942 ms
`
	res, err := parsePingOutput(out)
	if err != nil {
		t.Fatalf("parsePingOutput: %v", err)
	}
	if res.AvgRTTMs != 15.221 {
		t.Fatalf("avg: got %f", res.AvgRTTMs)
	}
	if res.StdDevMs != 1.942 {
		t.Fatalf("stddev: got %f", res.StdDevMs)
	}
	if res.LossPct != 0 {
		t.Fatalf("loss: got %f", res.LossPct)
	}
}

func TestParsePingOutputBSD(t *testing.T) {
	const out = `PING 192.168.1.1 (192.168.1.1): 56 data bytes

--- 192.168.1.1 ping statistics ---
10 packets transmitted, 9 packets received, 10.0% packet loss
round-trip min/avg/max/stddev = 2.115/3.901/8.213/1.771 ms
`
	res, err := parsePingOutput(out)
	if err != nil {
		t.Fatalf("parsePingOutput: %v", err)
	}
	if res.AvgRTTMs != 3.901 {
		t.Fatalf("avg: got %f", res.AvgRTTMs)
	}
	if res.LossPct != 10.0 {
		t.Fatalf("loss: got %f", res.LossPct)
	}
}

func TestParsePingOutputTotalLoss(t *testing.T) {
	const out = `--- 10.0.0.1 ping statistics ---
5 packets transmitted, 0 received, 100% packet loss, time 4100ms
`
	res, err := parsePingOutput(out)
	if err != nil {
		t.Fatalf("total loss should still parse: %v", err)
	}
	if res.LossPct != 100 {
		t.Fatalf("loss: got %f", res.LossPct)
	}
	if res.AvgRTTMs != 0 {
		t.Fatalf("avg should be zero with no rtt line, got %f", res.AvgRTTMs)
	}
}

func TestParsePingOutputGarbage(t *testing.T) {
	if _, err := parsePingOutput("ping: unknown host nope.invalid\n"); err == nil {
		t.Fatalf("expected parse error for garbage output")
	}
}

func TestParseIPRoute(t *testing.T) {
	const out = "default via 192.168.1.1 dev wlan0 proto dhcp src 192.168.1.42 metric 600\n"
	gw, ok := parseIPRoute(out)
	if !ok || gw != "192.168.1.1" {
		t.Fatalf("got %q ok=%v", gw, ok)
	}

	if _, ok := parseIPRoute("192.168.1.0/24 dev wlan0 proto kernel scope link\n"); ok {
		t.Fatalf("no default route should not match")
	}
}

func TestParseRouteGet(t *testing.T) {
	const out = `   route to: default
destination: default
       mask: default
    gateway: 10.0.0.1
  interface: en0
`
	gw, ok := parseRouteGet(out)
	if !ok || gw != "10.0.0.1" {
		t.Fatalf("got %q ok=%v", gw, ok)
	}
}

func TestTrialErrorKinds(t *testing.T) {
	run := runError(errors.New("spawn failed"))
	dec := decodeError(errors.New("bad json"))

	if IsDecodeError(run) {
		t.Fatalf("run error misclassified as decode")
	}
	if !IsDecodeError(dec) {
		t.Fatalf("decode error not detected")
	}

	var te *TrialError
	if !errors.As(run, &te) || te.Kind != TrialErrorRun {
		t.Fatalf("expected TrialErrorRun, got %+v", te)
	}
}

func TestLatencyURL(t *testing.T) {
	got := latencyURL("http://host.example:8080/speedtest/upload.php")
	if got != "http://host.example:8080/speedtest/latency.txt" {
		t.Fatalf("got %q", got)
	}
}
