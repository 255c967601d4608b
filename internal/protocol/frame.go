// Package protocol implements the Muto baseboard wire protocol.
//
// Frame format:
//
//	Byte:   0     1    2    3    4    5..(5+len(DATA)-1)   next    last-2  last-1
//	Field: 0x55  0x00  LEN  INS  ADR  DATA...               CHK     0x00   0xAA
//
// LEN counts every byte of the frame (the data length plus 8 bytes of
// framing overhead), so a response can be read by fetching the first
// three bytes and then LEN-3 more. CHK is the inverted low byte of the
// sum over LEN‖INS‖ADR‖DATA.
package protocol

import "encoding/binary"

// Instructions.
const (
	InsWrite      = 0x01 // write a register, no response
	InsRead       = 0x02 // read a register, response follows
	InsDataReturn = 0x12 // data-return marker used by the baseboard
)

// Register map.
const (
	RegBattery    = 0x01 // read battery level, data=[0x01]
	RegTorqueOn   = 0x26 // write torque on, data=[0x00]
	RegTorqueOff  = 0x27 // write torque off, data=[0x00]
	RegCalibrate  = 0x28 // write calibration, data=[id, devHi, devLo]
	RegServoMove  = 0x40 // write servo move, data=[id, angle, speedHi, speedLo]
	RegServoAngle = 0x50 // read servo angle, data=[id]
	RegIMUAngle   = 0x60 // read fused IMU angles, data=[0x07]
	RegIMURaw     = 0x61 // read raw 9-axis IMU, data=[0x12]
)

const (
	headerByte0 = 0x55
	headerByte1 = 0x00
	tailByte0   = 0x00
	tailByte1   = 0xAA

	// lenOverhead is the protocol-defined framing overhead counted into
	// the LEN byte on top of the data length: header(2) + LEN + INS +
	// ADR + CHK + tail(2). LEN therefore equals the whole frame size,
	// which is what lets a reader fetch 3 bytes and then LEN-3 more.
	lenOverhead = 8

	// MaxDataLen is the largest data payload a frame can carry while
	// keeping LEN within one byte.
	MaxDataLen = 255 - lenOverhead

	// HeaderSize is how many bytes must be read from a response before
	// its total length is known: the two header bytes plus LEN.
	HeaderSize = 3

	// MinFrameLen is the smallest LEN byte a valid response can carry.
	MinFrameLen = 5
)

// BuildFrame assembles a complete frame for the given instruction,
// register address and data payload.
func BuildFrame(ins, addr byte, data []byte) ([]byte, error) {
	if len(data) > MaxDataLen {
		return nil, &RangeError{What: "data length", Value: len(data)}
	}

	frameLen := byte(len(data) + lenOverhead)
	payload := make([]byte, 0, HeaderSize+len(data))
	payload = append(payload, frameLen, ins, addr)
	payload = append(payload, data...)

	chk, err := Checksum(payload)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(data)+lenOverhead)
	frame = append(frame, headerByte0, headerByte1)
	frame = append(frame, payload...)
	frame = append(frame, chk, tailByte0, tailByte1)
	return frame, nil
}

// Checksum computes the frame checksum over LEN‖INS‖ADR‖DATA. The CHK
// byte itself, the header and the tail are never included.
func Checksum(payload []byte) (byte, error) {
	if len(payload) == 0 {
		return 0, &RangeError{What: "checksum payload length", Value: 0}
	}
	sum := 0
	for _, b := range payload {
		sum += int(b)
	}
	return byte((255 - sum%256) % 256), nil
}

// PackUint16BE packs v into two big-endian bytes.
func PackUint16BE(v int) ([]byte, error) {
	if v < 0 || v > 0xFFFF {
		return nil, &RangeError{What: "uint16 value", Value: v}
	}
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b, nil
}

// UnpackUint16BE decodes exactly two big-endian bytes.
func UnpackUint16BE(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, &RangeError{What: "uint16 byte count", Value: len(b)}
	}
	return binary.BigEndian.Uint16(b), nil
}

// ParseHeader validates the first HeaderSize bytes of a response and
// returns the frame length byte, i.e. how many bytes the whole frame
// occupies on the wire.
func ParseHeader(hdr []byte) (int, error) {
	if len(hdr) != HeaderSize {
		return 0, &ProtocolError{Reason: "invalid header", Frame: hdr}
	}
	if hdr[0] != headerByte0 || hdr[1] != headerByte1 {
		return 0, &ProtocolError{Reason: "invalid header", Frame: hdr}
	}
	frameLen := int(hdr[2])
	if frameLen < MinFrameLen {
		return 0, &ProtocolError{Reason: "invalid frame length", Frame: hdr}
	}
	return frameLen, nil
}

// Payload validates the tail of a complete response frame and returns the
// DATA bytes, stripping header, LEN, INS and ADR from the front and CHK
// plus tail from the back. The response checksum is intentionally not
// re-verified here; callers wanting the strict check use VerifyFrame.
func Payload(frame []byte) ([]byte, error) {
	if len(frame) < MinFrameLen {
		return nil, &ProtocolError{Reason: "invalid frame length", Frame: frame}
	}
	if frame[len(frame)-2] != tailByte0 || frame[len(frame)-1] != tailByte1 {
		return nil, &ProtocolError{Reason: "invalid tail", Frame: frame[len(frame)-2:]}
	}
	start, end := 5, len(frame)-3
	if end <= start {
		return nil, nil
	}
	data := make([]byte, end-start)
	copy(data, frame[start:end])
	return data, nil
}

// VerifyFrame checks a complete frame's CHK byte against the checksum of
// its LEN‖INS‖ADR‖DATA bytes.
func VerifyFrame(frame []byte) error {
	if len(frame) < lenOverhead {
		return &ProtocolError{Reason: "invalid frame length", Frame: frame}
	}
	want := frame[len(frame)-3]
	got, err := Checksum(frame[2 : len(frame)-3])
	if err != nil {
		return err
	}
	if got != want {
		return &ProtocolError{Reason: "checksum mismatch", Frame: frame}
	}
	return nil
}
