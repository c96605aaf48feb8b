// Command lightloggerd is the recording daemon for the GKA Lab
// integrated personal light logger wearable: it captures from the
// spectrometer, world camera, pupil camera, and sunglasses sensor
// concurrently and serializes fixed-window chunks to disk, matching
// rpi_cpp.cpp's controller loop.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gkaguirrelab/lightlogger/internal/config"
	"github.com/gkaguirrelab/lightlogger/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		outputDir      string
		durationS      int
		minispect      bool
		world          bool
		pupil          bool
		sunglasses     bool
		performanceCSV bool
		debug          bool
	)

	pflag.StringVarP(&outputDir, "output_dir", "o", "", "Directory in which to output files. Does not need to exist.")
	pflag.IntVarP(&durationS, "duration", "d", 0, "Duration of the recording in seconds.")
	pflag.BoolVarP(&minispect, "minispect", "m", false, "Record from the MiniSpect spectrometer.")
	pflag.BoolVarP(&world, "world", "w", false, "Record from the world camera.")
	pflag.BoolVarP(&pupil, "pupil", "p", false, "Record from the pupil camera.")
	pflag.BoolVarP(&sunglasses, "sunglasses", "s", false, "Record from the sunglasses sensor.")
	pflag.BoolVar(&performanceCSV, "performance_csv", false, "Write a performance.csv summary alongside the recording.")
	pflag.BoolVar(&debug, "debug", false, "Enable debug logging.")
	pflag.Parse()

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg := config.Run{
		OutputDir: outputDir,
		Duration:  time.Duration(durationS) * time.Second,
		Enabled: [4]bool{
			config.MiniSpect:  minispect,
			config.World:      world,
			config.Pupil:      pupil,
			config.Sunglasses: sunglasses,
		},
		PerformanceCSV: performanceCSV,
	}.WithDefaults()

	if err := config.Validate(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("starting recording",
		"output_dir", cfg.OutputDir,
		"duration", cfg.Duration,
		"minispect", minispect,
		"world", world,
		"pupil", pupil,
		"sunglasses", sunglasses,
	)

	if err := orchestrator.Run(ctx, cfg, logger); err != nil {
		logger.Error("recording failed", "error", err)
		return 1
	}

	logger.Info("recording complete")
	return 0
}
