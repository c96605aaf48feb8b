// Package v4l2 implements the small slice of the Video4Linux2 raw ioctl
// and mmap protocol the world and pupil producers need: opening a
// capture device (by path or by USB vendor/product ID), negotiating a
// pixel format, streaming mmap'd buffers, and dequeue/requeue.
//
// The world camera speaks raw Bayer over CSI (standing in for
// libcamera) and the pupil camera speaks MJPEG over USB-video (standing
// in for libuvc); both are exposed by the kernel's V4L2 subsystem, so
// one small ioctl/mmap driver covers both instead of two vendor SDKs.
package v4l2

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Pixel formats used by the two cameras (fourcc codes from
// videodev2.h).
const (
	PixFmtSRGGB8 = 0x42474752 // 'RGGB': raw Bayer 8-bit, RGGB order
	PixFmtMJPEG  = 0x47504a4d // 'MJPG'
)

const (
	bufTypeVideoCapture = 1
	fieldNone           = 1
	memoryMMAP          = 1
	numBuffers          = 4

	vidiocQueryCap   = 0x80685600
	vidiocSFmt       = 0xc0cc5605
	vidiocGFmt       = 0xc0cc5604
	vidiocReqBufs    = 0xc0145608
	vidiocQueryBuf   = 0xc0445609
	vidiocQBuf       = 0xc044560f
	vidiocDQBuf      = 0xc0445611
	vidiocStreamOn   = 0x40045612
	vidiocStreamOff  = 0x40045613
	vidiocSCtrl      = 0xc008561c
	vidiocSParm      = 0xc0cc5616

	// bufFlagError marks a dequeued buffer the driver could not fill
	// successfully (V4L2_BUF_FLAG_ERROR, videodev2.h); its slot must
	// still be requeued but its contents are not a frame.
	bufFlagError = 0x0040

	// capTimePerFrame is v4l2_captureparm.capability's
	// V4L2_CAP_TIMEPERFRAME bit, asserted so a driver that only honors
	// timeperframe when this flag is set still pins the rate.
	capTimePerFrame = 0x1000
)

type pixFormat struct {
	typ          uint32
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
}

type requestBuffers struct {
	count    uint32
	typ      uint32
	memory   uint32
	reserved [2]uint32
}

type timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type timeval struct {
	sec  int64
	usec int64
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp timeval
	timecode  timecode
	sequence  uint32
	memory    uint32
	offset    uint32
	length    uint32
	reserved2 uint32
	reserved  uint32
}

type control struct {
	id    uint32
	value int32
}

// streamParm mirrors the leading fields of struct v4l2_streamparm's
// v4l2_captureparm arm: type, then capability/capturemode/timeperframe/
// extendedmode/readbuffers/reserved.
type streamParm struct {
	typ            uint32
	capability     uint32
	capturemode    uint32
	frameIntervalN uint32
	frameIntervalD uint32
	extendedmode   uint32
	readbuffers    uint32
	reserved       [4]uint32
}

// ErrFrameDropped is returned by Dequeue when the driver filled a
// buffer but marked it with V4L2_BUF_FLAG_ERROR (e.g. a cancelled or
// otherwise non-success capture). index is still valid and must be
// requeued; there is no frame data to process.
var ErrFrameDropped = fmt.Errorf("v4l2: frame dropped by driver")

// Format describes the negotiated capture geometry.
type Format struct {
	Width, Height int
	PixelFormat   uint32
	Stride        int // bytesperline as accepted by the driver
	SizeImage     int // per-frame byte length as accepted by the driver
}

// Device is a streaming V4L2 capture device.
type Device interface {
	// Negotiate requests the given format and returns what the driver
	// actually accepted.
	Negotiate(width, height int, pixelFormat uint32) (Format, error)
	// StartStreaming allocates and maps numBuffers driver buffers and
	// begins streaming.
	StartStreaming() error
	// Dequeue blocks until a filled buffer is available and returns a
	// view into its mapped memory alongside its buffer index. The
	// caller must call Requeue(index) once done reading it, even when
	// err is ErrFrameDropped.
	Dequeue() (data []byte, index int, err error)
	// Requeue returns a previously dequeued buffer to the driver.
	Requeue(index int) error
	// SetControl writes a V4L2 control (e.g. exposure, gain) by its
	// numeric ID.
	SetControl(id uint32, value int32) error
	// SetFrameRate pins the capture frame duration via VIDIOC_S_PARM's
	// timeperframe, e.g. so the world camera holds 200 FPS and the
	// pupil camera holds 120 FPS instead of free-running at whatever
	// rate the driver defaults to.
	SetFrameRate(fps float64) error
	// StopStreaming halts streaming and unmaps buffers.
	StopStreaming() error
	Close() error
}

// device is the Linux implementation of Device.
type device struct {
	fd      int
	format  Format
	buffers [][]byte
}

// OpenPath opens a capture device by its device node, e.g.
// "/dev/video0" for the world camera.
func OpenPath(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("v4l2: open %s: %w", path, err)
	}
	return &device{fd: fd}, nil
}

// OpenByUSBID scans /sys/class/video4linux for the first capture device
// backed by a USB device matching vendor:product, as used to find the
// pupil camera without depending on a stable /dev/videoN enumeration
// order.
func OpenByUSBID(vendor, product uint16) (Device, error) {
	entries, err := os.ReadDir("/sys/class/video4linux")
	if err != nil {
		return nil, fmt.Errorf("v4l2: list video4linux class: %w", err)
	}
	want := fmt.Sprintf("%04x:%04x", vendor, product)
	for _, e := range entries {
		idVendor, _ := os.ReadFile(filepath.Join("/sys/class/video4linux", e.Name(), "device", "..", "idVendor"))
		idProduct, _ := os.ReadFile(filepath.Join("/sys/class/video4linux", e.Name(), "device", "..", "idProduct"))
		got := fmt.Sprintf("%s:%s", strings.TrimSpace(string(idVendor)), strings.TrimSpace(string(idProduct)))
		if got == want {
			return OpenPath(filepath.Join("/dev", e.Name()))
		}
	}
	return nil, fmt.Errorf("v4l2: no capture device found for USB id %s", want)
}

func (d *device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *device) Negotiate(width, height int, pixelFormat uint32) (Format, error) {
	pfmt := pixFormat{
		typ:         bufTypeVideoCapture,
		width:       uint32(width),
		height:      uint32(height),
		pixelformat: pixelFormat,
		field:       fieldNone,
	}
	if err := d.ioctl(vidiocSFmt, unsafe.Pointer(&pfmt)); err != nil {
		return Format{}, fmt.Errorf("v4l2: set format %dx%d: %w", width, height, err)
	}
	d.format = Format{
		Width:       int(pfmt.width),
		Height:      int(pfmt.height),
		PixelFormat: pfmt.pixelformat,
		Stride:      int(pfmt.bytesperline),
		SizeImage:   int(pfmt.sizeimage),
	}
	return d.format, nil
}

func (d *device) StartStreaming() error {
	req := requestBuffers{count: numBuffers, typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := d.ioctl(vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("v4l2: request buffers: %w", err)
	}

	d.buffers = make([][]byte, req.count)
	for i := uint32(0); i < req.count; i++ {
		buf := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMMAP, index: i}
		if err := d.ioctl(vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("v4l2: query buffer %d: %w", i, err)
		}
		mapped, err := unix.Mmap(d.fd, int64(buf.offset), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("v4l2: mmap buffer %d: %w", i, err)
		}
		d.buffers[i] = mapped

		if err := d.ioctl(vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("v4l2: queue buffer %d: %w", i, err)
		}
	}

	typ := uint32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("v4l2: stream on: %w", err)
	}
	return nil
}

func (d *device) Dequeue() ([]byte, int, error) {
	fds := unix.FdSet{}
	fds.Bits[d.fd/64] |= 1 << (uint(d.fd) % 64)
	if _, err := unix.Select(d.fd+1, &fds, nil, nil, nil); err != nil {
		return nil, 0, fmt.Errorf("v4l2: select: %w", err)
	}

	buf := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := d.ioctl(vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, 0, fmt.Errorf("v4l2: dequeue buffer: %w", err)
	}
	if int(buf.index) >= len(d.buffers) {
		return nil, 0, fmt.Errorf("v4l2: dequeued out-of-range buffer index %d", buf.index)
	}
	if buf.flags&bufFlagError != 0 {
		return nil, int(buf.index), ErrFrameDropped
	}
	return d.buffers[buf.index][:buf.bytesused], int(buf.index), nil
}

func (d *device) Requeue(index int) error {
	buf := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMMAP, index: uint32(index)}
	if err := d.ioctl(vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("v4l2: requeue buffer %d: %w", index, err)
	}
	return nil
}

func (d *device) SetControl(id uint32, value int32) error {
	ctrl := control{id: id, value: value}
	if err := d.ioctl(vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("v4l2: set control 0x%x: %w", id, err)
	}
	return nil
}

func (d *device) SetFrameRate(fps float64) error {
	parm := streamParm{
		typ:            bufTypeVideoCapture,
		capability:     capTimePerFrame,
		frameIntervalN: 1,
		frameIntervalD: uint32(fps),
	}
	if err := d.ioctl(vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("v4l2: set frame rate %.0f fps: %w", fps, err)
	}
	return nil
}

func (d *device) StopStreaming() error {
	typ := uint32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("v4l2: stream off: %w", err)
	}
	for i, b := range d.buffers {
		if err := unix.Munmap(b); err != nil {
			return fmt.Errorf("v4l2: munmap buffer %d: %w", i, err)
		}
	}
	d.buffers = nil
	return nil
}

func (d *device) Close() error {
	return unix.Close(d.fd)
}

// ParseHexID parses a "vvvv:pppp" USB vendor:product string as found in
// config, e.g. from a CLI flag.
func ParseHexID(s string) (vendor, product uint16, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("v4l2: malformed USB id %q, want vvvv:pppp", s)
	}
	v, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("v4l2: malformed vendor id %q: %w", parts[0], err)
	}
	p, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("v4l2: malformed product id %q: %w", parts[1], err)
	}
	return uint16(v), uint16(p), nil
}
