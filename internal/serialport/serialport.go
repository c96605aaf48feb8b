// Package serialport wraps go.bug.st/serial behind a small interface so
// the spectrometer producer can be driven against a fake port in tests
// without a real /dev/ttyACM0 present.
package serialport

import (
	"io"

	"go.bug.st/serial"
)

// Port is the subset of go.bug.st/serial.Port the minispect producer
// needs.
type Port interface {
	io.ReadWriteCloser
}

// Open opens name at 115200 8N1 with no flow control, matching spec
// §4.2 and §6.
func Open(name string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(name, mode)
}
