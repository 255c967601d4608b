package driver

import (
	"go.uber.org/zap"

	"github.com/openmuto/mutolink/internal/protocol"
	"github.com/openmuto/mutolink/internal/transport"
)

const (
	imuAnglePayloadLen = 7
	imuRawPayloadLen   = 18

	// Request bytes the firmware expects with each telemetry read.
	imuAngleRequest = 0x07
	imuRawRequest   = 0x12
	batteryRequest  = 0x01
)

// IMUAngleData holds the fusion-computed orientation from the onboard
// IMU, in the firmware's raw units.
type IMUAngleData struct {
	Roll        uint16
	Pitch       uint16
	Yaw         uint16
	Temperature uint8
}

// RawIMUData holds the unprocessed 9-axis sensor readings, in the
// firmware's raw units.
type RawIMUData struct {
	AccelX uint16
	AccelY uint16
	AccelZ uint16
	GyroX  uint16
	GyroY  uint16
	GyroZ  uint16
	MagX   uint16
	MagY   uint16
	MagZ   uint16
}

// Sensor reads battery and IMU telemetry from the Muto baseboard. It
// uses the same request/response session as Driver; the Read* methods
// perform serial I/O only and the Decode* functions parse payloads
// without touching the wire.
type Sensor struct {
	link
}

// NewSensor creates a Sensor over the given transport. The transport is
// not opened until Open is called.
func NewSensor(tr transport.Transport, log *zap.Logger) *Sensor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sensor{link{tr: tr, log: log.Named("sensor")}}
}

// ReadIMUAngle reads the raw fused-angle payload from the IMU register.
func (s *Sensor) ReadIMUAngle() ([]byte, error) {
	return s.Read(protocol.RegIMUAngle, []byte{imuAngleRequest})
}

// ReadRawIMUAngle reads the raw 9-axis payload from the IMU register.
func (s *Sensor) ReadRawIMUAngle() ([]byte, error) {
	return s.Read(protocol.RegIMURaw, []byte{imuRawRequest})
}

// ReadBatteryLevel reads the baseboard battery level. The payload layout
// is firmware-defined; it is returned raw.
func (s *Sensor) ReadBatteryLevel() ([]byte, error) {
	return s.Read(protocol.RegBattery, []byte{batteryRequest})
}

// IMUAngle reads and decodes the fused IMU orientation.
func (s *Sensor) IMUAngle() (IMUAngleData, error) {
	raw, err := s.ReadIMUAngle()
	if err != nil {
		return IMUAngleData{}, err
	}
	return DecodeIMUAngle(raw)
}

// RawIMU reads and decodes the 9-axis sensor values.
func (s *Sensor) RawIMU() (RawIMUData, error) {
	raw, err := s.ReadRawIMUAngle()
	if err != nil {
		return RawIMUData{}, err
	}
	return DecodeRawIMU(raw)
}

// DecodeIMUAngle parses a 7-byte fused-angle payload: roll, pitch and
// yaw as big-endian u16 followed by one temperature byte.
func DecodeIMUAngle(p []byte) (IMUAngleData, error) {
	if len(p) != imuAnglePayloadLen {
		return IMUAngleData{}, &protocol.ProtocolError{Reason: "unexpected payload length", Frame: p}
	}
	var d IMUAngleData
	var err error
	if d.Roll, err = protocol.UnpackUint16BE(p[0:2]); err != nil {
		return IMUAngleData{}, err
	}
	if d.Pitch, err = protocol.UnpackUint16BE(p[2:4]); err != nil {
		return IMUAngleData{}, err
	}
	if d.Yaw, err = protocol.UnpackUint16BE(p[4:6]); err != nil {
		return IMUAngleData{}, err
	}
	d.Temperature = p[6]
	return d, nil
}

// DecodeRawIMU parses an 18-byte raw payload: nine big-endian u16 values
// in accelerometer, gyroscope, magnetometer x/y/z order.
func DecodeRawIMU(p []byte) (RawIMUData, error) {
	if len(p) != imuRawPayloadLen {
		return RawIMUData{}, &protocol.ProtocolError{Reason: "unexpected payload length", Frame: p}
	}
	var d RawIMUData
	fields := []*uint16{
		&d.AccelX, &d.AccelY, &d.AccelZ,
		&d.GyroX, &d.GyroY, &d.GyroZ,
		&d.MagX, &d.MagY, &d.MagZ,
	}
	for i, f := range fields {
		v, err := protocol.UnpackUint16BE(p[2*i : 2*i+2])
		if err != nil {
			return RawIMUData{}, err
		}
		*f = v
	}
	return d, nil
}

// Snapshot bundles one battery + IMU poll for telemetry consumers.
type Snapshot struct {
	Battery []byte
	Angle   IMUAngleData
	Raw     RawIMUData
}

// Poll reads battery, fused angle and raw IMU data in one pass. Each
// read is a separate request/response exchange on the half-duplex link.
func (s *Sensor) Poll() (*Snapshot, error) {
	battery, err := s.ReadBatteryLevel()
	if err != nil {
		return nil, err
	}
	angle, err := s.IMUAngle()
	if err != nil {
		return nil, err
	}
	raw, err := s.RawIMU()
	if err != nil {
		return nil, err
	}
	s.log.Debug("telemetry poll completed",
		zap.Uint16("roll", angle.Roll), zap.Uint16("pitch", angle.Pitch),
		zap.Uint16("yaw", angle.Yaw))
	return &Snapshot{Battery: battery, Angle: angle, Raw: raw}, nil
}
