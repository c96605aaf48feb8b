// Package orchestrator wires the enabled producers and the writer
// together: one buffer.Pair per enabled sensor, one goroutine per
// producer plus the writer, joined at the end with the first error any
// of them returned.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/config"
	"github.com/gkaguirrelab/lightlogger/internal/perf"
	"github.com/gkaguirrelab/lightlogger/internal/sensor"
	"github.com/gkaguirrelab/lightlogger/internal/v4l2"
	"github.com/gkaguirrelab/lightlogger/internal/writer"
)

// Run validates cfg, builds the enabled producers and the writer, runs
// them concurrently for cfg.Duration, and returns the first error any
// of them reported. It always attempts to Close every producer it
// opened, even on error.
func Run(ctx context.Context, cfg config.Run, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.WithDefaults()

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	deadline := time.Now().Add(cfg.Duration)

	pairs, producers := buildProducers(cfg, log)

	for _, p := range producers {
		if err := p.Init(ctx); err != nil {
			closeAll(producers)
			return fmt.Errorf("orchestrator: %w", err)
		}
	}
	defer closeAll(producers)

	w := &writer.Writer{
		OutputDir: cfg.OutputDir,
		Window:    cfg.Window,
		Grace:     config.GracePeriod,
		Buffers:   pairs,
		Log:       log,
	}

	// A fatal error from any producer or the writer cancels runCtx so
	// every other component stops on its next iteration instead of
	// running out to deadline, matching the original's exit(1)-on-fatal
	// behavior without tearing down the whole process from a goroutine.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(producers)+1)

	for _, p := range producers {
		wg.Add(1)
		go func(p sensor.Producer) {
			defer wg.Done()
			if err := p.Run(runCtx, deadline); err != nil {
				errs <- err
				cancel()
			}
		}(p)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(runCtx, deadline); err != nil {
			errs <- fmt.Errorf("writer: %w", err)
			cancel()
		}
	}()

	wg.Wait()
	close(errs)

	var firstErr error
	for e := range errs {
		log.Error("component failed", "error", e)
		if firstErr == nil {
			firstErr = e
		}
	}

	if cfg.PerformanceCSV {
		stats := make([]sensor.Stats, 0, len(producers))
		for _, p := range producers {
			stats = append(stats, p.Stats())
		}
		if err := perf.WriteCSV(cfg.OutputDir, int(cfg.Duration.Seconds()), stats); err != nil {
			log.Error("failed to write performance.csv", "error", err)
		}
	}

	if firstErr != nil {
		return fmt.Errorf("orchestrator: %w", firstErr)
	}
	return nil
}

func closeAll(producers []sensor.Producer) {
	for _, p := range producers {
		_ = p.Close()
	}
}

// buildProducers allocates one buffer.Pair per enabled sensor (sized to
// cfg.Window) and constructs the corresponding Producer. Disabled
// sensors get a nil pair and no producer, so the writer emits an
// empty chunkfile slot for them.
func buildProducers(cfg config.Run, log *slog.Logger) ([4]*buffer.Pair, []sensor.Producer) {
	if log == nil {
		log = slog.Default()
	}
	var pairs [4]*buffer.Pair
	producers := make([]sensor.Producer, 0, 4)

	for _, s := range cfg.EnabledSensors() {
		size := config.Descriptors[s].BytesPerWindow(cfg.Window)
		pair := buffer.NewPair(size)
		pairs[s] = pair

		sublog := log.With("sensor", s.String())
		switch s {
		case config.MiniSpect:
			producers = append(producers, &sensor.MiniSpect{Path: cfg.MiniSpectPort, Buffer: pair, Log: sublog})
		case config.World:
			producers = append(producers, &sensor.World{DevicePath: cfg.WorldDevice, Buffer: pair, Log: sublog})
		case config.Pupil:
			vendor, product, err := v4l2.ParseHexID(cfg.PupilUSBID)
			if err != nil {
				sublog.Warn("invalid pupil USB id, using default", "error", err)
				vendor, product = sensor.PupilUSBVendor, sensor.PupilUSBProduct
			}
			producers = append(producers, &sensor.Pupil{USBVendor: vendor, USBProduct: product, Buffer: pair, Log: sublog})
		case config.Sunglasses:
			producers = append(producers, &sensor.Sunglasses{I2CPath: cfg.SunglassesI2C, Buffer: pair, Log: sublog})
		}
	}

	return pairs, producers
}
