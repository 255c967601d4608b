package transport

import (
	"bytes"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmuto/mutolink/internal/protocol"
)

const loopbackServoCount = 18

// Loopback is an in-memory simulated baseboard for development and
// tests. It consumes command frames written to it and queues well-formed
// response frames for read commands: servo moves are remembered and
// echoed back by the angle register, and battery/IMU registers return
// configurable synthetic readings.
type Loopback struct {
	mu   sync.Mutex
	open bool
	rx   bytes.Buffer

	torque     bool
	angles     [loopbackServoCount + 1]byte
	deviations [loopbackServoCount + 1]uint16

	battery byte
	roll    uint16
	pitch   uint16
	yaw     uint16
	temp    byte
	raw     [9]uint16

	log *zap.Logger
}

// NewLoopback creates a loopback transport with plausible idle readings.
func NewLoopback(log *zap.Logger) *Loopback {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loopback{
		battery: 86,
		roll:    2,
		pitch:   3,
		yaw:     181,
		temp:    27,
		raw:     [9]uint16{12, 8, 1020, 3, 2, 1, 310, 120, 450},
		log:     log.Named("transport.loopback"),
	}
	for i := range l.angles {
		l.angles[i] = 90
	}
	return l
}

func (l *Loopback) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = true
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	l.rx.Reset()
	return nil
}

// Write consumes one or more command frames and queues responses for any
// read instructions among them. Malformed frames are dropped, matching a
// real board that stays silent on garbage.
func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return 0, protocol.ErrNotOpen
	}

	rest := p
	for len(rest) >= protocol.MinFrameLen {
		frameLen, err := protocol.ParseHeader(rest[:protocol.HeaderSize])
		if err != nil || frameLen > len(rest) {
			l.log.Debug("dropping malformed command bytes", zap.Int("count", len(rest)))
			break
		}
		l.handleFrame(rest[:frameLen])
		rest = rest[frameLen:]
	}
	return len(p), nil
}

// Read pops queued response bytes. An empty queue reads as an immediate
// timeout: zero bytes, no error.
func (l *Loopback) Read(p []byte, _ time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return 0, protocol.ErrNotOpen
	}
	if l.rx.Len() == 0 {
		return 0, nil
	}
	return l.rx.Read(p)
}

func (l *Loopback) handleFrame(frame []byte) {
	if protocol.VerifyFrame(frame) != nil {
		l.log.Debug("dropping frame with bad checksum")
		return
	}
	ins, addr := frame[3], frame[4]
	data, err := protocol.Payload(frame)
	if err != nil {
		return
	}

	switch ins {
	case protocol.InsWrite:
		l.handleWrite(addr, data)
	case protocol.InsRead:
		l.handleRead(addr, data)
	}
}

func (l *Loopback) handleWrite(addr byte, data []byte) {
	switch addr {
	case protocol.RegTorqueOn:
		l.torque = true
	case protocol.RegTorqueOff:
		l.torque = false
	case protocol.RegServoMove:
		if len(data) == 4 {
			if id := int(data[0]); id >= 1 && id <= loopbackServoCount {
				l.angles[id] = data[1]
			}
		}
	case protocol.RegCalibrate:
		if len(data) == 3 {
			if id := int(data[0]); id >= 1 && id <= loopbackServoCount {
				l.deviations[id] = uint16(data[1])<<8 | uint16(data[2])
			}
		}
	}
}

func (l *Loopback) handleRead(addr byte, data []byte) {
	var payload []byte
	switch addr {
	case protocol.RegBattery:
		payload = []byte{l.battery}
	case protocol.RegServoAngle:
		if len(data) == 1 {
			if id := int(data[0]); id >= 1 && id <= loopbackServoCount {
				payload = []byte{data[0], l.angles[id]}
			}
		}
	case protocol.RegIMUAngle:
		payload = make([]byte, 0, 7)
		payload = appendUint16(payload, l.roll)
		payload = appendUint16(payload, l.pitch)
		payload = appendUint16(payload, l.yaw)
		payload = append(payload, l.temp)
	case protocol.RegIMURaw:
		payload = make([]byte, 0, 18)
		for _, v := range l.raw {
			payload = appendUint16(payload, v)
		}
	}
	if payload == nil {
		// Unknown register or bad request: stay silent like the board.
		return
	}
	resp, err := protocol.BuildFrame(protocol.InsDataReturn, addr, payload)
	if err != nil {
		return
	}
	l.rx.Write(resp)
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// TorqueEnabled reports the simulated torque state.
func (l *Loopback) TorqueEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.torque
}

// ServoAngle returns the last commanded angle for a servo.
func (l *Loopback) ServoAngle(id int) byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 1 || id > loopbackServoCount {
		return 0
	}
	return l.angles[id]
}

// Deviation returns the last calibration deviation written for a servo.
func (l *Loopback) Deviation(id int) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 1 || id > loopbackServoCount {
		return 0
	}
	return l.deviations[id]
}

// SetBattery sets the battery percentage the battery register reports.
func (l *Loopback) SetBattery(pct byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.battery = pct
}

// SetIMUAngle sets the fused angle reading the IMU register reports.
func (l *Loopback) SetIMUAngle(roll, pitch, yaw uint16, temp byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll, l.pitch, l.yaw, l.temp = roll, pitch, yaw, temp
}

// SetRawIMU sets the nine raw sensor values, in accelerometer,
// gyroscope, magnetometer x/y/z order.
func (l *Loopback) SetRawIMU(values [9]uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raw = values
}
