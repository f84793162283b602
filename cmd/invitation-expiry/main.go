package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shiftcrew/dispatch_backend/app"
	"github.com/shiftcrew/dispatch_backend/config"
)

// invitation-expiry runs one expiry sweep and prints the expired invitation
// ids as JSON. When another instance holds the sweep lock nothing is expired
// and "skipped" is true. It is meant for a scheduler (Cloud Scheduler, cron) when the
// in-process sweeper is disabled, or for replaying a sweep at a fixed time.
func main() {
	nowFlag := flag.String("now", "", "Optional: sweep as of this RFC3339 time instead of the current time")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	now := time.Now().UTC()
	if *nowFlag != "" {
		parsed, err := time.Parse(time.RFC3339, *nowFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "--now must be RFC3339: %v\n", err)
			os.Exit(1)
		}
		now = parsed.UTC()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stderr, cfg.IsProduction())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.Open(ctx, cfg, logger, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sweeper := a.Sweeper()
	sweeper.Now = func() time.Time { return now }
	res, err := sweeper.Sweep(ctx)
	a.Close()
	if err != nil {
		config.LogError(logger, "invitation-expiry", "main", "Sweep", nil, err)
		os.Exit(1)
	}

	out := map[string]any{"now": now.Format(time.RFC3339), "skipped": res == nil, "expired": []string{}}
	if res != nil {
		out["cutoff"] = res.Cutoff.Format(time.RFC3339)
		out["expired"] = res.Expired
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
