package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/config"
)

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Run{OutputDir: t.TempDir(), Duration: time.Second} // no sensors enabled
	if err := Run(context.Background(), cfg, nil); err == nil {
		t.Fatal("Run() expected error for a config with no sensors enabled")
	}
}

func TestBuildProducersAllocatesOnlyEnabledSensors(t *testing.T) {
	cfg := config.Run{
		Enabled: [4]bool{config.MiniSpect: true, config.Sunglasses: true},
		Window:  10 * time.Second,
	}
	pairs, producers := buildProducers(cfg, nil)

	if pairs[config.MiniSpect] == nil {
		t.Error("expected a minispect buffer pair to be allocated")
	}
	if pairs[config.World] != nil {
		t.Error("expected no world buffer pair to be allocated")
	}
	if len(producers) != 2 {
		t.Fatalf("len(producers) = %d, want 2", len(producers))
	}

	wantSize := config.Descriptors[config.MiniSpect].BytesPerWindow(cfg.Window)
	if got := pairs[config.MiniSpect].Len(); got != wantSize {
		t.Errorf("minispect pair size = %d, want %d", got, wantSize)
	}
}
