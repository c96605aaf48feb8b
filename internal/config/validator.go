package config

import (
	"fmt"
	"os"
	"time"
)

const (
	minDuration = 1 * time.Second
	maxDuration = 86400 * time.Second
)

// Validate checks a Run for the configuration errors described in §7:
// bad duration range, an unwritable output directory, and no enabled
// sensors. It is called before any producer or writer goroutine is
// spawned, matching the "reported before any thread is spawned"
// requirement.
func Validate(cfg Run) error {
	if cfg.Duration < minDuration || cfg.Duration > maxDuration {
		return fmt.Errorf("lightlogger/config: duration %s out of range [%s, %s]",
			cfg.Duration, minDuration, maxDuration)
	}

	if len(cfg.EnabledSensors()) == 0 {
		return fmt.Errorf("lightlogger/config: no sensors enabled")
	}

	if err := ensureWritableDir(cfg.OutputDir); err != nil {
		return fmt.Errorf("lightlogger/config: output directory: %w", err)
	}

	return nil
}

// ensureWritableDir creates dir if it does not exist and verifies it is
// writable by probing for a temp file, mirroring the original's
// create_directories-then-fail-fast-on-open behavior.
func ensureWritableDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output_dir is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create %q: %w", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".lightlogger-write-probe-*")
	if err != nil {
		return fmt.Errorf("%q is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)

	return nil
}
