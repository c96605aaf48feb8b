package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/config"
	"github.com/gkaguirrelab/lightlogger/internal/i2c"
)

const (
	sunglassesAddr       = 0x6B
	sunglassesConfigByte = 0x10 // continuous conversion, 12-bit resolution
	sunglassesReadReg    = 0x00
	sunglassesInterval   = time.Second
)

// Sunglasses polls a Hall-effect magnetic sensor over I2C once per
// second, sign-extending the 12-bit reading and storing it as two
// little-endian bytes, grounded on rpi_cpp.cpp's sunglasses_recorder.
type Sunglasses struct {
	I2CPath string
	Buffer  *buffer.Pair
	Log     *slog.Logger
	// Interval overrides the polling cadence; zero uses
	// sunglassesInterval. Only tests should set this.
	Interval time.Duration

	bus   i2c.Bus
	stats Stats
}

func (s *Sunglasses) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Sunglasses) Init(ctx context.Context) error {
	s.logger().Info("initializing")
	bus, err := i2c.Open(s.I2CPath)
	if err != nil {
		return fmt.Errorf("sunglasses: %w", err)
	}
	s.bus = bus

	if err := bus.WriteReg(sunglassesAddr, []byte{sunglassesConfigByte}); err != nil {
		return fmt.Errorf("sunglasses: %w", err)
	}
	if err := bus.WriteReg(sunglassesAddr, []byte{sunglassesReadReg}); err != nil {
		return fmt.Errorf("sunglasses: %w", err)
	}
	s.logger().Info("initialized")
	return nil
}

func (s *Sunglasses) Run(ctx context.Context, deadline time.Time) error {
	s.logger().Info("beginning recording")
	raw := make([]byte, 2)
	sample := make([]byte, 2)

	interval := s.Interval
	if interval == 0 {
		interval = sunglassesInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return nil
		}

		if err := s.bus.ReadReg(sunglassesAddr, raw); err != nil {
			return fmt.Errorf("sunglasses: %w", err)
		}

		rawADC := (uint16(raw[0]&0x0F) << 8) | uint16(raw[1])
		reading := i2c.SignExtend12(rawADC)
		binary.LittleEndian.PutUint16(sample, uint16(reading))

		if err := writeFrame(s.Buffer, config.Sunglasses, sample); err != nil {
			return err
		}
		s.stats.CapturedFrames++

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sunglasses) Close() error {
	s.logger().Info("closing", "captured_frames", s.stats.CapturedFrames)
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}

func (s *Sunglasses) Stats() Stats {
	return Stats{Sensor: config.Sunglasses, CapturedFrames: s.stats.CapturedFrames}
}
