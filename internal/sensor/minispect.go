package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gkaguirrelab/lightlogger/internal/buffer"
	"github.com/gkaguirrelab/lightlogger/internal/config"
	"github.com/gkaguirrelab/lightlogger/internal/serialport"
)

const (
	msStartDelim = '<'
	msEndDelim   = '>'
	msDataLen    = 148
)

// MiniSpect reads framed spectrometer readings from a serial port,
// grounded on rpi_cpp.cpp's minispect_recorder: one start delimiter, a
// fixed 148-byte payload, one end delimiter, repeated until the
// deadline passes.
type MiniSpect struct {
	Path   string
	Buffer *buffer.Pair
	Log    *slog.Logger

	port  serialport.Port
	stats Stats
}

func (m *MiniSpect) Init(ctx context.Context) error {
	m.logger().Info("initializing", "path", m.Path)
	port, err := serialport.Open(m.Path)
	if err != nil {
		return fmt.Errorf("minispect: %w", err)
	}
	m.port = port
	m.logger().Info("initialized")
	return nil
}

func (m *MiniSpect) logger() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}

func (m *MiniSpect) Run(ctx context.Context, deadline time.Time) error {
	m.logger().Info("beginning recording")
	one := make([]byte, 1)
	frame := make([]byte, msDataLen)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return nil
		}

		if _, err := readFull(m.port, one); err != nil {
			return fmt.Errorf("minispect: read delimiter: %w", err)
		}
		if one[0] != msStartDelim {
			continue
		}

		if _, err := readFull(m.port, frame); err != nil {
			return fmt.Errorf("minispect: read frame: %w", err)
		}
		if _, err := readFull(m.port, one); err != nil {
			return fmt.Errorf("minispect: read end delimiter: %w", err)
		}
		if one[0] != msEndDelim {
			return fmt.Errorf("minispect: start delimiter not closed by end delimiter")
		}

		if err := writeFrame(m.Buffer, config.MiniSpect, frame); err != nil {
			return err
		}
		m.stats.CapturedFrames++
	}
}

func (m *MiniSpect) Close() error {
	m.logger().Info("closing", "captured_frames", m.stats.CapturedFrames)
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}

func (m *MiniSpect) Stats() Stats {
	return Stats{Sensor: config.MiniSpect, CapturedFrames: m.stats.CapturedFrames}
}

// readFull reads exactly len(buf) bytes, retrying short reads, matching
// boost::asio::read's fill-the-buffer semantics.
func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("read returned 0 bytes with no error")
		}
	}
	return total, nil
}
