package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TimedResolver measures one blocking DNS resolution with the system resolver.
type TimedResolver struct {
	resolver *net.Resolver
}

func NewTimedResolver() *TimedResolver {
	return &TimedResolver{resolver: net.DefaultResolver}
}

func (r *TimedResolver) ResolveDNS(ctx context.Context, host string) (time.Duration, error) {
	start := time.Now()
	addrs, err := r.resolver.LookupHost(ctx, host)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return 0, fmt.Errorf("resolve %s: empty answer", host)
	}
	return time.Since(start), nil
}
