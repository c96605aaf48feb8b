// Package i2c implements the register-level I2C access the sunglasses
// producer needs (spec §4.5): selecting a slave address via the
// I2C_SLAVE ioctl, then plain read/write on the resulting file
// descriptor, matching how Linux exposes /dev/i2c-N.
package i2c

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Bus is the register-level interface the sunglasses producer drives.
// A real Bus wraps a /dev/i2c-N character device; tests use a fake.
type Bus interface {
	// WriteReg writes data to slave device addr, typically a register
	// pointer followed by payload bytes.
	WriteReg(addr uint8, data []byte) error
	// ReadReg reads len(buf) bytes from slave device addr into buf.
	ReadReg(addr uint8, buf []byte) error
	Close() error
}

// LinuxBus is a Bus backed by a Linux /dev/i2c-N character device.
type LinuxBus struct {
	f *os.File
}

// Open opens the I2C bus character device at path (e.g. "/dev/i2c-1").
func Open(path string) (*LinuxBus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &LinuxBus{f: f}, nil
}

const i2cSlave = 0x0703 // unix.I2C_SLAVE is not exported on all arches

func (b *LinuxBus) setSlave(addr uint8) error {
	if err := ioctl(b.f.Fd(), i2cSlave, uintptr(addr)); err != nil {
		return fmt.Errorf("i2c: set slave 0x%02x: %w", addr, err)
	}
	return nil
}

// WriteReg selects addr and writes data verbatim.
func (b *LinuxBus) WriteReg(addr uint8, data []byte) error {
	if err := b.setSlave(addr); err != nil {
		return err
	}
	n, err := b.f.Write(data)
	if err != nil {
		return fmt.Errorf("i2c: write to 0x%02x: %w", addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("i2c: short write to 0x%02x: wrote %d of %d bytes", addr, n, len(data))
	}
	return nil
}

// ReadReg selects addr and reads len(buf) bytes into buf.
func (b *LinuxBus) ReadReg(addr uint8, buf []byte) error {
	if err := b.setSlave(addr); err != nil {
		return err
	}
	n, err := b.f.Read(buf)
	if err != nil {
		return fmt.Errorf("i2c: read from 0x%02x: %w", addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("i2c: short read from 0x%02x: got %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

// Close closes the underlying device.
func (b *LinuxBus) Close() error {
	return b.f.Close()
}

func ioctl(fd uintptr, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// SignExtend12 interprets the low 12 bits of v as a two's-complement
// signed value, per spec §4.5's 12-bit ADC register format.
func SignExtend12(v uint16) int16 {
	v &= 0x0FFF
	if v&0x0800 != 0 {
		return int16(v) - 0x1000
	}
	return int16(v)
}
