package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFrameGolden(t *testing.T) {
	tests := []struct {
		name string
		ins  byte
		addr byte
		data []byte
		want []byte
	}{
		{
			name: "torque on",
			ins:  InsWrite,
			addr: RegTorqueOn,
			data: []byte{0x00},
			want: []byte{0x55, 0x00, 0x09, 0x01, 0x26, 0x00, 0xCF, 0x00, 0xAA},
		},
		{
			name: "servo move",
			ins:  InsWrite,
			addr: RegServoMove,
			data: []byte{5, 90, 0x01, 0x90},
			want: []byte{0x55, 0x00, 0x0C, 0x01, 0x40, 0x05, 0x5A, 0x01, 0x90, 0xC2, 0x00, 0xAA},
		},
		{
			name: "read battery",
			ins:  InsRead,
			addr: RegBattery,
			data: []byte{0x01},
			want: []byte{0x55, 0x00, 0x09, 0x02, 0x01, 0x01, 0xF2, 0x00, 0xAA},
		},
		{
			name: "read servo angle",
			ins:  InsRead,
			addr: RegServoAngle,
			data: []byte{5},
			want: []byte{0x55, 0x00, 0x09, 0x02, 0x50, 0x05, 0x9F, 0x00, 0xAA},
		},
		{
			name: "empty data",
			ins:  InsWrite,
			addr: 0x10,
			data: nil,
			want: []byte{0x55, 0x00, 0x08, 0x01, 0x10, 0xE6, 0x00, 0xAA},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildFrame(tt.ins, tt.addr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, frame)
		})
	}
}

func TestBuildFrameDataTooLong(t *testing.T) {
	frame, err := BuildFrame(InsWrite, 0x40, make([]byte, 251))
	assert.Nil(t, frame)
	var rerr *RangeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 251, rerr.Value)
}

func TestBuildFrameMaxData(t *testing.T) {
	frame, err := BuildFrame(InsWrite, 0x40, make([]byte, MaxDataLen))
	require.NoError(t, err)
	assert.Len(t, frame, 255)
	assert.Equal(t, byte(255), frame[2])

	_, err = BuildFrame(InsWrite, 0x40, make([]byte, MaxDataLen+1))
	var rerr *RangeError
	assert.ErrorAs(t, err, &rerr)
}

func TestChecksumRoundTripsWithBuildFrame(t *testing.T) {
	datas := [][]byte{
		nil,
		{0x00},
		{0x01, 0x02, 0x03},
		{0xFF, 0xFF, 0xFF, 0xFF},
		make([]byte, 100),
	}
	for _, data := range datas {
		frame, err := BuildFrame(InsRead, 0x50, data)
		require.NoError(t, err)

		// LEN equals the total frame size; CHK covers LEN through DATA.
		assert.Equal(t, len(frame), int(frame[2]))
		chk, err := Checksum(frame[2 : len(frame)-3])
		require.NoError(t, err)
		assert.Equal(t, frame[len(frame)-3], chk)
		assert.NoError(t, VerifyFrame(frame))
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    byte
	}{
		{"single zero", []byte{0x00}, 0xFF},
		{"buzzer example from the protocol docs", []byte{0x09, 0x01, 0x18, 0xFF}, 0xDE},
		{"torque on payload", []byte{0x09, 0x01, 0x26, 0x00}, 0xCF},
		{"sum wraps past 256", []byte{0xFF, 0xFF, 0x01}, 0x00},
		{"sum exactly 255", []byte{0xFF}, 0x00},
		{"sum 256", []byte{0xFF, 0x01}, 0xFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Checksum(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChecksumEmptyPayload(t *testing.T) {
	_, err := Checksum(nil)
	var rerr *RangeError
	require.ErrorAs(t, err, &rerr)
}

func TestPackUint16BE(t *testing.T) {
	b, err := PackUint16BE(1000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0xE8}, b)

	b, err = PackUint16BE(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, b)

	b, err = PackUint16BE(0xFFFF)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF}, b)

	for _, v := range []int{-1, 0x10000, 1 << 20} {
		_, err := PackUint16BE(v)
		var rerr *RangeError
		assert.ErrorAs(t, err, &rerr, "value %d", v)
	}
}

func TestUnpackUint16BE(t *testing.T) {
	v, err := UnpackUint16BE([]byte{0x03, 0xE8})
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), v)

	for _, b := range [][]byte{nil, {0x01}, {0x01, 0x02, 0x03}} {
		_, err := UnpackUint16BE(b)
		var rerr *RangeError
		assert.ErrorAs(t, err, &rerr, "input % X", b)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 255, 256, 1000, 0x0190, 0x7FFF, 0xFFFE, 0xFFFF} {
		b, err := PackUint16BE(v)
		require.NoError(t, err)
		got, err := UnpackUint16BE(b)
		require.NoError(t, err)
		assert.Equal(t, uint16(v), got)
	}
}

func TestParseHeader(t *testing.T) {
	frameLen, err := ParseHeader([]byte{0x55, 0x00, 0x09})
	require.NoError(t, err)
	assert.Equal(t, 9, frameLen)

	tests := []struct {
		name   string
		hdr    []byte
		reason string
	}{
		{"short header", []byte{0x55, 0x00}, "invalid header"},
		{"wrong second byte", []byte{0x55, 0x01, 0x09}, "invalid header"},
		{"wrong first byte", []byte{0xAA, 0x00, 0x09}, "invalid header"},
		{"length below minimum", []byte{0x55, 0x00, 0x04}, "invalid frame length"},
		{"length zero", []byte{0x55, 0x00, 0x00}, "invalid frame length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.hdr)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.reason, perr.Reason)
		})
	}
}

func TestPayload(t *testing.T) {
	// Frame with a 2-byte data payload.
	frame, err := BuildFrame(InsDataReturn, RegServoAngle, []byte{0x01, 0x5A})
	require.NoError(t, err)
	data, err := Payload(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x5A}, data)

	// Frame with no data yields an empty payload.
	frame, err = BuildFrame(InsDataReturn, RegServoAngle, nil)
	require.NoError(t, err)
	data, err = Payload(frame)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestPayloadInvalidTail(t *testing.T) {
	frame, err := BuildFrame(InsDataReturn, RegBattery, []byte{0x1D, 0x4C})
	require.NoError(t, err)
	frame[len(frame)-1] = 0xAB

	_, err = Payload(frame)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "invalid tail", perr.Reason)
}

func TestPayloadIsACopy(t *testing.T) {
	frame, err := BuildFrame(InsDataReturn, RegBattery, []byte{0x1D, 0x4C})
	require.NoError(t, err)
	data, err := Payload(frame)
	require.NoError(t, err)

	frame[5] = 0x00
	assert.Equal(t, []byte{0x1D, 0x4C}, data)
}

func TestVerifyFrameMismatch(t *testing.T) {
	frame, err := BuildFrame(InsDataReturn, RegBattery, []byte{0x1D, 0x4C})
	require.NoError(t, err)
	frame[len(frame)-3]++

	err = VerifyFrame(frame)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "checksum mismatch", perr.Reason)
}
