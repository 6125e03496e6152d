package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkpulse/internal/app"
)

func main() {
	var (
		cfgPath        string
		runOnce        bool
		statusInterval time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&runOnce, "test", false, "start a measurement cycle immediately")
	flag.DurationVar(&statusInterval, "status-interval", 0, "print a JSON state snapshot at this interval (0 disables)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	if runOnce {
		a.Engine().StartTest()
	}
	if statusInterval > 0 {
		go printStatus(ctx, a, statusInterval)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}

// printStatus is a stand-in for the presentation layer: it polls the same
// snapshot surface a UI would.
func printStatus(ctx context.Context, a *app.App, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			_ = enc.Encode(a.Engine().Snapshot())
		}
	}
}
