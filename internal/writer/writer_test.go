package writer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/chunkfile"
	"github.com/gkaguirrelab/lightlogger/internal/config"
)

func TestGenerationParityMatchesOriginalRule(t *testing.T) {
	w := &Writer{}
	w.writeNum = 1
	if got := w.generationForWriteNum(); got != 0 {
		t.Errorf("writeNum=1: generation = %d, want 0", got)
	}
	w.writeNum = 2
	if got := w.generationForWriteNum(); got != 1 {
		t.Errorf("writeNum=2: generation = %d, want 1", got)
	}
	w.writeNum = 3
	if got := w.generationForWriteNum(); got != 0 {
		t.Errorf("writeNum=3: generation = %d, want 0", got)
	}
}

func TestRunWritesOneChunkPerIntervalPlusTrailingFlush(t *testing.T) {
	dir := t.TempDir()
	msPair := buffer.NewPair(16)
	msPair.Reserve(4)

	w := &Writer{
		OutputDir: dir,
		Window:    180 * time.Millisecond,
		Grace:     70 * time.Millisecond,
		Buffers:   [4]*buffer.Pair{config.MiniSpect: msPair},
	}

	deadline := time.Now().Add(380 * time.Millisecond)
	if err := w.Run(context.Background(), deadline); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one chunk file to be written")
	}

	first := filepath.Join(dir, "chunk_1.bin")
	f, err := os.Open(first)
	if err != nil {
		t.Fatalf("expected chunk_1.bin to exist: %v", err)
	}
	defer f.Close()

	slots, err := chunkfile.Decode(f)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	// The writer serializes the whole fixed-size generation, not just the
	// bytes reserved so far.
	if len(slots[config.MiniSpect]) != 16 {
		t.Errorf("minispect slot length = %d, want 16", len(slots[config.MiniSpect]))
	}
	if len(slots[config.World]) != 0 {
		t.Errorf("disabled sensor slot length = %d, want 0", len(slots[config.World]))
	}
}

func TestRunStopsImmediatelyPastDeadline(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{OutputDir: dir, Window: time.Hour, Grace: time.Hour}
	if err := w.Run(context.Background(), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one trailing chunk file, got %d", len(entries))
	}
}

// TestRunExitsPromptlyWhenDeadlineIsShorterThanInterval guards against
// the writer blocking for a full Window+Grace before noticing the
// deadline passed: a short recording against a much longer flush
// interval must still exit within a couple of poll cycles.
func TestRunExitsPromptlyWhenDeadlineIsShorterThanInterval(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{OutputDir: dir, Window: time.Hour, Grace: time.Hour}

	start := time.Now()
	deadline := start.Add(150 * time.Millisecond)
	if err := w.Run(context.Background(), deadline); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("Run() took %s, want well under the 1h flush interval", elapsed)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one trailing chunk file, got %d", len(entries))
	}
}
