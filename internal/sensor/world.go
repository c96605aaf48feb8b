package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/agc"
	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/config"
	"github.com/gkaguirrelab/lightlogger/internal/downsample"
	"github.com/gkaguirrelab/lightlogger/internal/v4l2"
)

const (
	worldRows           = 480
	worldCols           = 640
	worldFPS            = 200
	worldDownsampleFact = 3
	worldInitialGain    = 1.0
	worldInitialExpUS   = 100
	worldAGCInterval    = 250 * time.Millisecond

	// Control IDs from the V4L2 UVC/camera control ABI (linux/v4l2-controls.h).
	ctrlExposureAuto  = 0x009a0901
	ctrlExposureAbs   = 0x009a0902
	ctrlAnalogueGain  = 0x009e0903
	ctrlAutoWhiteBal  = 0x0098090c
	autoExposureManual = 1
)

// World captures raw Bayer frames from the world camera, applies the
// mosaic-preserving power-of-two downsampler, and runs a closed-loop
// AGC step every 250ms, grounded on rpi_cpp.cpp's world_frame_callback
// and world_recorder.
type World struct {
	DevicePath string
	Buffer     *buffer.Pair
	Log        *slog.Logger

	dev        v4l2.Device
	fmt        v4l2.Format
	agcParams  agc.Params
	agcState   agc.State
	downFactor int
	stats      Stats
}

func (w *World) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}

func (w *World) Init(ctx context.Context) error {
	w.logger().Info("initializing")
	dev, err := v4l2.OpenPath(w.DevicePath)
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}
	w.dev = dev

	f, err := dev.Negotiate(worldCols, worldRows, v4l2.PixFmtSRGGB8)
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}
	w.fmt = f
	w.downFactor = worldDownsampleFact

	w.agcParams = agc.Params{
		Speed:         agc.DefaultSpeed,
		MaxIntensity:  255,
		ExposureMinUS: 100,
		ExposureMaxUS: int(1e6 / worldFPS),
		GainMin:       1.0,
		GainMax:       16.0,
	}
	w.agcState = agc.NewState(worldInitialGain, worldInitialExpUS)

	if err := w.applyControls(); err != nil {
		return fmt.Errorf("world: %w", err)
	}

	if err := dev.StartStreaming(); err != nil {
		return fmt.Errorf("world: %w", err)
	}
	w.logger().Info("initialized", "rows", f.Height, "cols", f.Width, "stride", f.Stride)
	return nil
}

// applyControls pins exposure, white balance, and gain, and re-asserts
// the frame rate alongside them: the driver is free to relax the frame
// duration when accepting a new exposure/gain pair, so every re-pin of
// AGC state re-pins the rate too, matching world_frame_callback's
// per-frame FrameDurationLimits write in the original firmware.
func (w *World) applyControls() error {
	if err := w.dev.SetControl(ctrlExposureAuto, autoExposureManual); err != nil {
		return err
	}
	if err := w.dev.SetControl(ctrlAutoWhiteBal, 0); err != nil {
		return err
	}
	if err := w.dev.SetControl(ctrlExposureAbs, int32(w.agcState.ExposureUS)); err != nil {
		return err
	}
	if err := w.dev.SetControl(ctrlAnalogueGain, int32(w.agcState.Gain)); err != nil {
		return err
	}
	return w.dev.SetFrameRate(worldFPS)
}

func (w *World) Run(ctx context.Context, deadline time.Time) error {
	w.logger().Info("beginning recording")

	// Plane length must match the driver's own negotiated stride, not
	// an assumed rows*cols*2 (the world camera's 8-bit-labeled pixel
	// format is transported as 16-bit samples on the wire).
	wantLen := w.fmt.Height * w.fmt.Stride
	outLen := downsample.OutputLen(w.fmt.Height, w.fmt.Width, w.downFactor)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return nil
		}

		data, idx, err := w.dev.Dequeue()
		if errors.Is(err, v4l2.ErrFrameDropped) {
			// Cancelled or otherwise non-success capture: skip it but
			// still return the slot to the driver.
			if reqErr := w.dev.Requeue(idx); reqErr != nil {
				return fmt.Errorf("world: %w", reqErr)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("world: %w", err)
		}
		if len(data) != wantLen {
			w.logger().Warn("unexpected plane length", "got", len(data), "want", wantLen)
			if reqErr := w.dev.Requeue(idx); reqErr != nil {
				return fmt.Errorf("world: %w", reqErr)
			}
			continue
		}

		out := make([]byte, outLen)
		if err := downsample.Downsample(out, data, w.fmt.Height, w.fmt.Width, w.downFactor); err != nil {
			return fmt.Errorf("world: %w", err)
		}
		if err := writeFrame(w.Buffer, config.World, out); err != nil {
			return err
		}
		w.stats.CapturedFrames++

		now := time.Now()
		if w.agcState.Due(now, worldAGCInterval) {
			mean := meanIntensity(data)
			w.agcState.Step(mean, w.agcParams, now)
			if err := w.applyControls(); err != nil {
				return fmt.Errorf("world: %w", err)
			}
		}

		if err := w.dev.Requeue(idx); err != nil {
			return fmt.Errorf("world: %w", err)
		}
	}
}

func meanIntensity(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum uint64
	for _, b := range data {
		sum += uint64(b)
	}
	return float64(sum) / float64(len(data))
}

func (w *World) Close() error {
	w.logger().Info("closing", "captured_frames", w.stats.CapturedFrames)
	if w.dev == nil {
		return nil
	}
	if err := w.dev.StopStreaming(); err != nil {
		return err
	}
	return w.dev.Close()
}

func (w *World) Stats() Stats {
	return Stats{Sensor: config.World, CapturedFrames: w.stats.CapturedFrames}
}
