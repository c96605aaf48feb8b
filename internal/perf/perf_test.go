package perf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gkaguirrelab/lightlogger/internal/config"
	"github.com/gkaguirrelab/lightlogger/internal/sensor"
)

func TestWriteCSVRowMatchesStats(t *testing.T) {
	dir := t.TempDir()
	stats := []sensor.Stats{
		{Sensor: config.MiniSpect, CapturedFrames: 100},
		{Sensor: config.World, CapturedFrames: 200},
	}
	if err := WriteCSV(dir, 10, stats); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "performance.csv"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + one row, got %d lines", len(lines))
	}
	if lines[1] != "10,100,200,0,0" {
		t.Fatalf("row = %q, want %q", lines[1], "10,100,200,0,0")
	}
}
