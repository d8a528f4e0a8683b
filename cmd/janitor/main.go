// Command janitor applies the retention policy to the output, processed and
// log directories on a fixed interval.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"taxiflow/config"
	"taxiflow/logger"
	"taxiflow/metrics"
	"taxiflow/retention"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	sink, err := logger.Init("janitor", cfg.Log.Level, cfg.Log.Format, cfg.Log.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}
	defer sink.Close()

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	policy := retention.FromConfig(cfg)
	for _, c := range policy.Categories {
		log.Info().Str("category", c.Name).Str("dir", c.Dir).Dur("window", c.Window).Msg("retention category")
	}
	log.Info().Dur("interval", cfg.Retention.Interval).Msg("janitor running")

	run(ctx, policy, cfg.Retention.Interval)
}

// run sweeps immediately and then every interval until ctx is done.
func run(ctx context.Context, policy *retention.Policy, interval time.Duration) {
	runCycle(policy)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle(policy)
		case <-ctx.Done():
			log.Info().Msg("janitor shutting down")
			return
		}
	}
}

func runCycle(policy *retention.Policy) retention.Report {
	start := time.Now()
	report := policy.Cleanup()
	log.Info().
		Int("deleted", report.TotalDeleted()).
		Int64("freed_bytes", report.TotalFreedBytes()).
		Dur("elapsed", time.Since(start)).
		Msg("cleanup cycle completed")
	return report
}
