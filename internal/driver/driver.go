package driver

import (
	"go.uber.org/zap"

	"github.com/openmuto/mutolink/internal/protocol"
	"github.com/openmuto/mutolink/internal/transport"
)

// Servo parameter bounds. Angle, speed and deviation values outside
// their ranges are clamped silently before transmission; only an invalid
// servo ID is an error.
const (
	MinServoID = 1
	MaxServoID = 18

	maxAngle     = 180
	maxUint16Arg = 0xFFFF
)

// Driver issues servo control commands to the Muto baseboard.
//
// Typical use:
//
//	d := driver.New(tr, log)
//	if err := d.Open(); err != nil { ... }
//	defer d.Close()
//	d.TorqueOn()
//	d.ServoMove(1, 90, 1000)
type Driver struct {
	link
}

// New creates a Driver over the given transport. The transport is not
// opened until Open is called.
func New(tr transport.Transport, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{link{tr: tr, log: log.Named("driver")}}
}

// TorqueOn enables torque on all servos, making them commandable.
func (d *Driver) TorqueOn() error {
	d.log.Info("enabling servo torque")
	return d.Write(protocol.RegTorqueOn, []byte{0x00})
}

// TorqueOff disables torque on all servos, leaving them freewheeling for
// manual positioning.
func (d *Driver) TorqueOff() error {
	d.log.Info("disabling servo torque")
	return d.Write(protocol.RegTorqueOff, []byte{0x00})
}

// ServoMove moves a servo to angle (degrees, clamped to 0-180) at the
// given speed (clamped to 0-65535).
func (d *Driver) ServoMove(servoID, angle, speed int) error {
	if err := checkServoID(servoID); err != nil {
		return err
	}
	a := clamp(angle, 0, maxAngle)
	s := clamp(speed, 0, maxUint16Arg)
	if a != angle || s != speed {
		d.log.Debug("servo move values clamped",
			zap.Int("angle", a), zap.Int("speed", s))
	}
	speedBytes, err := protocol.PackUint16BE(s)
	if err != nil {
		return err
	}
	d.log.Info("moving servo",
		zap.Int("servo", servoID), zap.Int("angle", a), zap.Int("speed", s))
	return d.Write(protocol.RegServoMove,
		[]byte{byte(servoID), byte(a), speedBytes[0], speedBytes[1]})
}

// ReadServoAngle reads the current angle of a servo. The payload layout
// is firmware-defined; it is returned raw.
func (d *Driver) ReadServoAngle(servoID int) ([]byte, error) {
	if err := checkServoID(servoID); err != nil {
		return nil, err
	}
	return d.Read(protocol.RegServoAngle, []byte{byte(servoID)})
}

// CalibrateServo writes a position deviation (clamped to 0-65535) for a
// servo.
func (d *Driver) CalibrateServo(servoID, deviation int) error {
	if err := checkServoID(servoID); err != nil {
		return err
	}
	dev := clamp(deviation, 0, maxUint16Arg)
	if dev != deviation {
		d.log.Debug("deviation clamped", zap.Int("deviation", dev))
	}
	devBytes, err := protocol.PackUint16BE(dev)
	if err != nil {
		return err
	}
	d.log.Info("calibrating servo",
		zap.Int("servo", servoID), zap.Int("deviation", dev))
	return d.Write(protocol.RegCalibrate,
		[]byte{byte(servoID), devBytes[0], devBytes[1]})
}

// ReadBatteryLevel reads the baseboard battery level. The payload layout
// is firmware-defined; it is returned raw.
func (d *Driver) ReadBatteryLevel() ([]byte, error) {
	return d.Read(protocol.RegBattery, []byte{0x01})
}

func checkServoID(id int) error {
	if id < MinServoID || id > MaxServoID {
		return &protocol.RangeError{What: "servo id", Value: id}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
