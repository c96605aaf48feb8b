// Package perf writes the performance.csv summary the original
// firmware's performance_data struct fed into a Python analysis step:
// one row per recording, giving the sensors' captured-frame counts
// alongside the requested duration.
package perf

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gkaguirrelab/lightlogger/internal/sensor"
)

var header = []string{"duration_s", "minispect_frames", "world_frames", "pupil_frames", "sunglasses_frames"}

// WriteCSV writes a single-row performance.csv into dir summarizing the
// given per-sensor Stats, keyed by config.Sensor as returned by each
// Producer's Stats method (a missing sensor's count is left as zero,
// since it means the sensor was never enabled).
func WriteCSV(dir string, durationS int, stats []sensor.Stats) error {
	counts := make(map[int]uint64, len(stats))
	for _, s := range stats {
		counts[int(s.Sensor)] = s.CapturedFrames
	}

	path := filepath.Join(dir, "performance.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("perf: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("perf: write header: %w", err)
	}
	row := []string{
		fmt.Sprintf("%d", durationS),
		fmt.Sprintf("%d", counts[0]),
		fmt.Sprintf("%d", counts[1]),
		fmt.Sprintf("%d", counts[2]),
		fmt.Sprintf("%d", counts[3]),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("perf: write row: %w", err)
	}
	w.Flush()
	return w.Error()
}
