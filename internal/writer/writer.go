// Package writer implements the periodic chunk-file writer described in
// rpi_cpp.cpp's write_process_parallel: every producer fills one half
// of a double buffer while the writer serializes the other half to
// disk, swapping roles on a fixed schedule with a small grace period so
// the writer never races a producer still finishing its generation.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/chunkfile"
)

// Writer serializes one generation of every enabled sensor's
// buffer.Pair to a chunk file on a fixed schedule.
type Writer struct {
	OutputDir string
	Window    time.Duration // buffer_size_s
	Grace     time.Duration
	Buffers   [4]*buffer.Pair // indexed by config.Sensor; nil if disabled
	Log       *slog.Logger

	writeNum int
}

func (w *Writer) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}

// pollInterval is how often Run rechecks elapsed time and the flush
// schedule, independent of Window+Grace, matching rpi_cpp.cpp's tight
// busy-poll in write_process_parallel.
const pollInterval = 100 * time.Millisecond

// Run writes one chunk file every Window+Grace until deadline passes,
// then performs exactly one final flush of whatever generation is
// current before returning, matching the original's post-loop trailing
// write. Elapsed time and the flush schedule are both checked on a
// fixed pollInterval cadence, not on the (much longer) flush interval
// itself, so a short-lived recording exits promptly instead of blocking
// for up to one full Window+Grace.
func (w *Writer) Run(ctx context.Context, deadline time.Time) error {
	w.logger().Info("initialized")
	w.writeNum = 1

	interval := w.Window + w.Grace
	nextFlush := time.Now().Add(interval)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	w.logger().Info("beginning waiting for writes")
	for {
		if !time.Now().Before(deadline) {
			return w.flushFinal()
		}

		select {
		case <-ctx.Done():
			return w.flushFinal()
		case now := <-ticker.C:
			if !now.Before(deadline) {
				return w.flushFinal()
			}
			if !now.Before(nextFlush) {
				if err := w.writeChunk(); err != nil {
					return err
				}
				w.writeNum++
				nextFlush = nextFlush.Add(interval)
			}
		}
	}
}

// flushFinal performs the one trailing write the schedule loop never
// reaches on its own, since the loop breaks before the next interval
// elapses.
func (w *Writer) flushFinal() error {
	return w.writeChunk()
}

// generationForWriteNum reproduces the original's write_num%2==0 ?
// buffers_two : buffers_one parity rule: odd write numbers (starting at
// 1) read generation 0, even ones read generation 1.
func (w *Writer) generationForWriteNum() int {
	if w.writeNum%2 == 0 {
		return 1
	}
	return 0
}

func (w *Writer) writeChunk() error {
	start := time.Now()
	w.logger().Info("writing buffer", "write_num", w.writeNum)

	gen := w.generationForWriteNum()
	var slots [chunkfile.NumSlots][]byte
	for s := 0; s < len(w.Buffers) && s < chunkfile.NumSlots; s++ {
		if w.Buffers[s] == nil {
			continue
		}
		slots[s] = w.Buffers[s].Generation(gen)
	}

	path := filepath.Join(w.OutputDir, fmt.Sprintf("chunk_%d.bin", w.writeNum))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writer: create %s: %w", path, err)
	}

	if err := chunkfile.Encode(f, slots); err != nil {
		f.Close()
		return fmt.Errorf("writer: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writer: close %s: %w", path, err)
	}

	w.logger().Info("wrote buffer", "write_num", w.writeNum, "took", time.Since(start))
	return nil
}
