package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/config"
	"github.com/gkaguirrelab/lightlogger/internal/v4l2"
)

const (
	pupilRows      = 400
	pupilCols      = 400
	pupilFPS       = 120
	PupilUSBVendor = 0x0C45
	PupilUSBProduct = 0x64AB
)

// Pupil captures MJPEG frames from the eye camera over USB video,
// decodes each to grayscale, and stores the raw pixel bytes, grounded
// on rpi_cpp.cpp's pupil_frame_callback and pupil_recorder. libuvc's
// vendor/product device lookup is reproduced by scanning
// /sys/class/video4linux (see internal/v4l2.OpenByUSBID) since the
// kernel's V4L2 UVC driver already exposes the same MJPEG stream.
type Pupil struct {
	USBVendor, USBProduct uint16
	Buffer                *buffer.Pair
	Log                   *slog.Logger

	dev   v4l2.Device
	stats Stats
}

func (p *Pupil) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

func (p *Pupil) Init(ctx context.Context) error {
	p.logger().Info("initializing")
	vendor, product := p.USBVendor, p.USBProduct
	if vendor == 0 && product == 0 {
		vendor, product = PupilUSBVendor, PupilUSBProduct
	}
	dev, err := v4l2.OpenByUSBID(vendor, product)
	if err != nil {
		return fmt.Errorf("pupil: %w", err)
	}
	p.dev = dev

	if _, err := dev.Negotiate(pupilCols, pupilRows, v4l2.PixFmtMJPEG); err != nil {
		return fmt.Errorf("pupil: %w", err)
	}
	if err := dev.SetFrameRate(pupilFPS); err != nil {
		return fmt.Errorf("pupil: %w", err)
	}
	if err := dev.StartStreaming(); err != nil {
		return fmt.Errorf("pupil: %w", err)
	}
	p.logger().Info("initialized")
	return nil
}

func (p *Pupil) Run(ctx context.Context, deadline time.Time) error {
	p.logger().Info("beginning recording")
	want := pupilRows * pupilCols

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return nil
		}

		compressed, idx, err := p.dev.Dequeue()
		if errors.Is(err, v4l2.ErrFrameDropped) {
			if reqErr := p.dev.Requeue(idx); reqErr != nil {
				return fmt.Errorf("pupil: %w", reqErr)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("pupil: %w", err)
		}

		gray, err := decodeGray(compressed)
		if err != nil {
			p.logger().Warn("could not decode MJPEG frame", "error", err)
			if reqErr := p.dev.Requeue(idx); reqErr != nil {
				return fmt.Errorf("pupil: %w", reqErr)
			}
			continue
		}
		if len(gray) != want {
			return fmt.Errorf("pupil: decoded frame is %d bytes, want %d", len(gray), want)
		}

		if err := writeFrame(p.Buffer, config.Pupil, gray); err != nil {
			return err
		}
		p.stats.CapturedFrames++

		if err := p.dev.Requeue(idx); err != nil {
			return fmt.Errorf("pupil: %w", err)
		}
	}
}

// decodeGray decompresses an MJPEG frame and returns its pixels as
// 8-bit grayscale, replacing the original's OpenCV imdecode +
// IMREAD_GRAYSCALE with the standard library's JPEG decoder.
func decodeGray(compressed []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	out := make([]byte, bounds.Dx()*bounds.Dy())
	i := 0
	if gray, ok := img.(*image.Gray); ok {
		copy(out, gray.Pix)
		return out, nil
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R 601 luma weights, matching OpenCV's default BGR2GRAY.
			out[i] = byte((299*r/1000 + 587*g/1000 + 114*b/1000) >> 8)
			i++
		}
	}
	return out, nil
}

func (p *Pupil) Close() error {
	p.logger().Info("closing", "captured_frames", p.stats.CapturedFrames)
	if p.dev == nil {
		return nil
	}
	if err := p.dev.StopStreaming(); err != nil {
		return err
	}
	return p.dev.Close()
}

func (p *Pupil) Stats() Stats {
	return Stats{Sensor: config.Pupil, CapturedFrames: p.stats.CapturedFrames}
}
