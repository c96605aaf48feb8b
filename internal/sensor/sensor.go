// Package sensor defines the Producer contract each capture source
// implements and the shared frame-writing helpers producers use to fill
// a double-buffer under the writer's schedule.
package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/config"
)

// Stats reports how many frames a producer captured, read by the
// orchestrator once the producer's Run returns.
type Stats struct {
	Sensor         config.Sensor
	CapturedFrames uint64
}

// Producer captures frames from one sensor into a shared double buffer
// until ctx is cancelled or the deadline passes. Each concrete producer
// (minispect, world, pupil, sunglasses) owns exactly one hardware
// connection and one buffer.Pair.
//
// This replaces the original firmware's array of four raw function
// pointers sharing one struct signature (each function switched
// internally on which sensor it was) with one interface per sensor, so
// each producer only carries the state its own protocol needs.
type Producer interface {
	// Init opens the underlying hardware connection and configures it.
	Init(ctx context.Context) error
	// Run captures frames into the producer's buffer.Pair until
	// deadline. It returns nil on a clean deadline stop, or an error if
	// the underlying device failed or the buffer overran.
	Run(ctx context.Context, deadline time.Time) error
	// Close releases the underlying hardware connection.
	Close() error
	// Stats reports how many frames the producer has captured; the
	// count is not reset between Run calls.
	Stats() Stats
}

// writeFrame reserves n bytes in buf and copies data into the
// reservation, wrapping buffer.Pair's overrun error with the sensor tag
// so producers don't need to repeat the annotation at each call site.
func writeFrame(buf *buffer.Pair, s config.Sensor, data []byte) error {
	slot, err := buf.Reserve(len(data))
	if err != nil {
		return fmt.Errorf("sensor: %s: %w", s, err)
	}
	copy(slot, data)
	return nil
}
