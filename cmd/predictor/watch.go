package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"taxiflow/config"
	"taxiflow/metrics"
	"taxiflow/pipeline"
	"taxiflow/tripdata"
)

func watch(ctx context.Context, cfg *config.Config) error {
	runner, closeDeps, err := buildRunner(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("predictor setup failed")
		return err
	}
	defer closeDeps()

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	trigger, err := watchInputDir(ctx, cfg.Batch.InputDir)
	if err != nil {
		log.Warn().Err(err).Msg("input dir watch disabled, relying on the interval")
	}

	log.Info().
		Str("input_dir", cfg.Batch.InputDir).
		Dur("interval", cfg.Batch.Interval).
		Msg("predictor watching")
	return loop(ctx, runner, cfg.Batch.Interval, trigger)
}

// loop runs a cycle immediately, then on every tick or trigger.
func loop(ctx context.Context, runner *pipeline.Runner, interval time.Duration, trigger <-chan struct{}) error {
	runCycle(ctx, runner)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle(ctx, runner)
		case <-trigger:
			runCycle(ctx, runner)
		case <-ctx.Done():
			log.Info().Msg("predictor shutting down")
			return nil
		}
	}
}

func runCycle(ctx context.Context, runner *pipeline.Runner) {
	report, err := runner.RunPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("batch cycle aborted")
		return
	}
	for path, ferr := range report.Failed {
		log.Warn().Err(ferr).Str("input", path).Msg("input left for next cycle")
	}
}

// watchInputDir signals when a visible input file appears in dir. Bursts of
// events collapse into one pending signal.
func watchInputDir(ctx context.Context, dir string) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	trigger := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !isInputEvent(event) {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("input dir watch error")
			}
		}
	}()
	return trigger, nil
}

func isInputEvent(event fsnotify.Event) bool {
	// a rename into dir arrives as Create for the new name
	if !event.Has(fsnotify.Create) {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	_, err := tripdata.FormatOf(event.Name)
	return err == nil
}
