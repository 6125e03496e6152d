// Package netio reads interface byte counters and turns them into throughput
// rates for the live graph and the ambient traffic classifier.
package netio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// ByteCounters is a point-in-time read of an interface's cumulative octet
// counters. Reads are side-effect-free OS queries, safe to call concurrently.
type ByteCounters struct {
	Received uint64
	Sent     uint64
}

// CounterSource reads cumulative byte counters for a named interface.
type CounterSource interface {
	ReadCounters(ctx context.Context, iface string) (ByteCounters, error)
}

// NewSystemCounterSource picks the platform-appropriate counter source.
func NewSystemCounterSource() CounterSource {
	if runtime.GOOS == "linux" {
		return procCounterSource{}
	}
	return netstatCounterSource{}
}

// procCounterSource reads /proc/net/dev.
type procCounterSource struct{}

func (procCounterSource) ReadCounters(ctx context.Context, iface string) (ByteCounters, error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return ByteCounters{}, err
	}
	defer f.Close()

	c, ok := parseProcNetDev(f, iface)
	if !ok {
		return ByteCounters{}, fmt.Errorf("interface %q not found in /proc/net/dev", iface)
	}
	return c, nil
}

// parseProcNetDev scans /proc/net/dev content for the named interface.
//
// Line layout after the two header lines:
//
//	iface: rbytes rpackets rerrs rdrop rfifo rframe rcompressed rmulticast tbytes ...
func parseProcNetDev(r io.Reader, iface string) (ByteCounters, bool) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(name) != iface {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			return ByteCounters{}, false
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			return ByteCounters{}, false
		}
		return ByteCounters{Received: rx, Sent: tx}, true
	}
	return ByteCounters{}, false
}

// netstatCounterSource shells out to `netstat -ibn` (BSD/darwin).
type netstatCounterSource struct{}

func (netstatCounterSource) ReadCounters(ctx context.Context, iface string) (ByteCounters, error) {
	out, err := exec.CommandContext(ctx, "netstat", "-ibn").Output()
	if err != nil {
		return ByteCounters{}, fmt.Errorf("netstat: %w", err)
	}
	c, ok := parseNetstatIB(string(out), iface)
	if !ok {
		return ByteCounters{}, fmt.Errorf("interface %q not found in netstat output", iface)
	}
	return c, nil
}

// parseNetstatIB picks the link-layer row for the named interface.
//
// Columns: Name Mtu Network Address Ipkts Ierrs Ibytes Opkts Oerrs Obytes Coll
func parseNetstatIB(out, iface string) (ByteCounters, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 || fields[0] != iface {
			continue
		}
		// The link-layer row carries the interface totals; address rows repeat
		// the same counters, so the first match is fine.
		if !strings.HasPrefix(fields[2], "<Link") {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[6], 10, 64)
		tx, err2 := strconv.ParseUint(fields[9], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return ByteCounters{Received: rx, Sent: tx}, true
	}
	return ByteCounters{}, false
}
