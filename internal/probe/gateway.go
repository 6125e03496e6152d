package probe

import (
	"context"
	"net"
	"os/exec"
	"runtime"
	"strings"
)

// ExecGatewayFinder parses the default-route entry from the system routing
// table. A missing default route is reported as ErrNoDefaultRoute; the caller
// then skips gateway probing for the cycle.
type ExecGatewayFinder struct{}

func NewExecGatewayFinder() *ExecGatewayFinder { return &ExecGatewayFinder{} }

func (f *ExecGatewayFinder) DefaultGateway(ctx context.Context) (string, error) {
	if runtime.GOOS == "darwin" {
		out, err := exec.CommandContext(ctx, "route", "-n", "get", "default").Output()
		if err != nil {
			return "", ErrNoDefaultRoute
		}
		if gw, ok := parseRouteGet(string(out)); ok {
			return gw, nil
		}
		return "", ErrNoDefaultRoute
	}

	out, err := exec.CommandContext(ctx, "ip", "route", "show", "default").Output()
	if err != nil {
		return "", ErrNoDefaultRoute
	}
	if gw, ok := parseIPRoute(string(out)); ok {
		return gw, nil
	}
	return "", ErrNoDefaultRoute
}

// parseIPRoute reads "default via 192.168.1.1 dev wlan0 ..." output.
func parseIPRoute(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "default" {
			continue
		}
		for i := 1; i < len(fields)-1; i++ {
			if fields[i] == "via" {
				if ip := net.ParseIP(fields[i+1]); ip != nil {
					return fields[i+1], true
				}
			}
		}
	}
	return "", false
}

// parseRouteGet reads BSD "route -n get default" output ("gateway: 192.168.1.1").
func parseRouteGet(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		key, val, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(key) != "gateway" {
			continue
		}
		gw := strings.TrimSpace(val)
		if ip := net.ParseIP(gw); ip != nil {
			return gw, true
		}
	}
	return "", false
}
