package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/openmuto/mutolink/internal/protocol"
)

// PiUART talks to the baseboard through the Raspberry Pi's hardware UART,
// optionally driving a GPIO pin for the DE/RE line of a half-duplex
// RS-485 transceiver: the pin is held high while transmitting and low
// while receiving.
type PiUART struct {
	portPath string
	baudRate int
	timeout  time.Duration
	dirPin   int // BCM pin number, <= 0 means no direction control
	log      *zap.Logger

	mu   sync.Mutex
	port serial.Port
	dir  gpio.PinIO
}

// PiUARTConfig holds connection configuration for the Pi UART transport.
type PiUARTConfig struct {
	PortPath string        `yaml:"port_path" json:"portPath"` // default /dev/serial0
	BaudRate int           `yaml:"baud_rate" json:"baudRate"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	DirPin   int           `yaml:"dir_pin" json:"dirPin"` // BCM number of the DE/RE pin, 0 = none
}

var hostInit sync.Once

// NewPiUART creates a Pi UART transport. The UART must be enabled in
// raspi-config with the serial console disabled.
func NewPiUART(cfg PiUARTConfig, log *zap.Logger) *PiUART {
	if cfg.PortPath == "" {
		cfg.PortPath = "/dev/serial0"
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
	return &PiUART{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		timeout:  cfg.Timeout,
		dirPin:   cfg.DirPin,
		log:      log.Named("transport.pi"),
	}
}

// Open opens the UART and, when a direction pin is configured, claims it
// and parks it low (receive).
func (p *PiUART) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port != nil {
		p.log.Debug("uart already open", zap.String("port", p.portPath))
		return nil
	}

	if p.dirPin > 0 && p.dir == nil {
		var initErr error
		hostInit.Do(func() {
			_, initErr = host.Init()
		})
		if initErr != nil {
			return errors.Wrap(initErr, "init gpio host")
		}
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", p.dirPin))
		if pin == nil {
			return errors.Errorf("gpio pin GPIO%d not found", p.dirPin)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return errors.Wrapf(err, "configure direction pin GPIO%d", p.dirPin)
		}
		p.dir = pin
		p.log.Info("direction pin configured", zap.Int("pin", p.dirPin))
	}

	port, err := openSerial(p.portPath, p.baudRate, p.timeout)
	if err != nil {
		return err
	}
	p.port = port
	p.log.Info("uart opened",
		zap.String("port", p.portPath), zap.Int("baud", p.baudRate),
		zap.Int("dir_pin", p.dirPin))
	return nil
}

// Close closes the UART and parks the direction pin low. Errors are
// aggregated and logged; Close is idempotent.
func (p *PiUART) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.port != nil {
		err = multierr.Append(err, p.port.Close())
		p.port = nil
	}
	if p.dir != nil {
		err = multierr.Append(err, p.dir.Out(gpio.Low))
		p.dir = nil
	}
	if err != nil {
		p.log.Warn("error closing uart", zap.Error(err))
		return errors.Wrapf(err, "close %s", p.portPath)
	}
	return nil
}

// Write raises the direction pin, sends p, waits for the UART to drain,
// and drops the pin back to receive on every exit path.
func (p *PiUART) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return 0, protocol.ErrNotOpen
	}

	if p.dir != nil {
		if err := p.dir.Out(gpio.High); err != nil {
			return 0, errors.Wrapf(err, "raise direction pin GPIO%d", p.dirPin)
		}
		defer func() {
			if err := p.dir.Out(gpio.Low); err != nil {
				p.log.Warn("error dropping direction pin", zap.Error(err))
			}
		}()
	}

	n, err := p.port.Write(b)
	if err != nil {
		return n, errors.Wrapf(err, "write %s", p.portPath)
	}
	// The transceiver must not switch back to receive until the last
	// stop bit has left the shift register.
	if err := p.port.Drain(); err != nil {
		return n, errors.Wrapf(err, "drain %s", p.portPath)
	}
	return n, nil
}

// Read ensures the link is in receive mode and fills b until it is full
// or timeout elapses.
func (p *PiUART) Read(b []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return 0, protocol.ErrNotOpen
	}
	if p.dir != nil {
		if err := p.dir.Out(gpio.Low); err != nil {
			return 0, errors.Wrapf(err, "drop direction pin GPIO%d", p.dirPin)
		}
	}
	if timeout <= 0 {
		timeout = p.timeout
	}
	n, err := readFull(p.port, b, timeout)
	if err != nil {
		return n, errors.Wrapf(err, "read %s", p.portPath)
	}
	return n, nil
}
