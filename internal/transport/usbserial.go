package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/openmuto/mutolink/internal/protocol"
)

// USBSerial talks to the baseboard through a USB-to-serial adapter (or a
// native USB CDC port).
type USBSerial struct {
	portPath string
	baudRate int
	timeout  time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	port serial.Port
}

// USBSerialConfig holds connection configuration for the USB transport.
type USBSerialConfig struct {
	PortPath string        `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0, COM3
	BaudRate int           `yaml:"baud_rate" json:"baudRate"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"` // default read timeout
}

// NewUSBSerial creates a USB serial transport. The port is not opened
// until Open is called.
func NewUSBSerial(cfg USBSerialConfig, log *zap.Logger) *USBSerial {
	if cfg.PortPath == "" {
		cfg.PortPath = "/dev/ttyUSB0"
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaud
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReadTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &USBSerial{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		timeout:  cfg.Timeout,
		log:      log.Named("transport.usb"),
	}
}

// Open opens the serial port 8N1 with no flow control and clears any
// stale bytes from both buffers.
func (u *USBSerial) Open() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.port != nil {
		u.log.Debug("serial port already open", zap.String("port", u.portPath))
		return nil
	}

	port, err := openSerial(u.portPath, u.baudRate, u.timeout)
	if err != nil {
		return err
	}
	u.port = port
	u.log.Info("serial port opened",
		zap.String("port", u.portPath), zap.Int("baud", u.baudRate))
	return nil
}

// Close closes the serial port. Errors are logged and returned only as
// diagnostics; Close on an already-closed transport is a no-op.
func (u *USBSerial) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.port == nil {
		return nil
	}
	err := u.port.Close()
	u.port = nil
	if err != nil {
		u.log.Warn("error closing serial port", zap.Error(err))
		return errors.Wrapf(err, "close %s", u.portPath)
	}
	u.log.Info("serial port closed", zap.String("port", u.portPath))
	return nil
}

// Write sends p and drains the OS buffer so the frame is on the wire
// before the caller starts waiting for the response.
func (u *USBSerial) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.port == nil {
		return 0, protocol.ErrNotOpen
	}
	n, err := u.port.Write(p)
	if err != nil {
		return n, errors.Wrapf(err, "write %s", u.portPath)
	}
	if err := u.port.Drain(); err != nil {
		return n, errors.Wrapf(err, "drain %s", u.portPath)
	}
	u.log.Debug("wrote bytes", zap.Int("count", n))
	return n, nil
}

// Read fills p until it is full or timeout elapses.
func (u *USBSerial) Read(p []byte, timeout time.Duration) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.port == nil {
		return 0, protocol.ErrNotOpen
	}
	if timeout <= 0 {
		timeout = u.timeout
	}
	n, err := readFull(u.port, p, timeout)
	if err != nil {
		return n, errors.Wrapf(err, "read %s", u.portPath)
	}
	u.log.Debug("read bytes", zap.Int("count", n), zap.Int("want", len(p)))
	return n, nil
}

// openSerial opens path 8N1 at the given baud rate, applies the
// per-iteration read timeout, and resets both buffers.
func openSerial(path string, baud int, timeout time.Duration) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", path)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "reset input buffer on %s", path)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "reset output buffer on %s", path)
	}
	return port, nil
}

// readFull reads into p until it is full or the deadline passes. The
// port's own read timeout bounds each iteration, so the loop observes
// the deadline even when the line goes silent mid-frame.
func readFull(port serial.Port, p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	total := 0
	for total < len(p) {
		n, err := port.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if total >= len(p) || !time.Now().Before(deadline) {
			break
		}
	}
	return total, nil
}
