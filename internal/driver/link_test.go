package driver

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmuto/mutolink/internal/protocol"
)

// fakeTransport records written frames and replays a scripted byte
// stream on reads.
type fakeTransport struct {
	written  [][]byte
	response bytes.Buffer

	openErr  error
	closeErr error
	writeErr error
	readErr  error

	opens  int
	closes int
}

func (f *fakeTransport) Open() error {
	f.opens++
	return f.openErr
}

func (f *fakeTransport) Close() error {
	f.closes++
	return f.closeErr
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	f.written = append(f.written, frame)
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte, _ time.Duration) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if f.response.Len() == 0 {
		return 0, nil // reads as a timeout
	}
	return f.response.Read(p)
}

// respond queues a well-formed response frame for the given register.
func (f *fakeTransport) respond(t *testing.T, addr byte, payload []byte) {
	t.Helper()
	frame, err := protocol.BuildFrame(protocol.InsDataReturn, addr, payload)
	require.NoError(t, err)
	f.response.Write(frame)
}

func openDriver(t *testing.T, tr *fakeTransport) *Driver {
	t.Helper()
	d := New(tr, nil)
	require.NoError(t, d.Open())
	return d
}

func TestOpenCloseStateMachine(t *testing.T) {
	tr := &fakeTransport{}
	d := New(tr, nil)

	// Operations before Open fail with ErrNotOpen.
	err := d.TorqueOn()
	assert.ErrorIs(t, err, protocol.ErrNotOpen)
	_, err = d.ReadBatteryLevel()
	assert.ErrorIs(t, err, protocol.ErrNotOpen)

	require.NoError(t, d.Open())
	require.NoError(t, d.Open()) // idempotent
	assert.Equal(t, 1, tr.opens)

	d.Close()
	d.Close() // idempotent
	assert.Equal(t, 1, tr.closes)

	err = d.TorqueOn()
	assert.ErrorIs(t, err, protocol.ErrNotOpen)
}

func TestCloseSwallowsTransportError(t *testing.T) {
	tr := &fakeTransport{closeErr: errors.New("device vanished")}
	d := openDriver(t, tr)

	// Close must complete without propagating the error.
	d.Close()
	assert.Equal(t, 1, tr.closes)
}

func TestWriteBuildsWriteFrame(t *testing.T) {
	tr := &fakeTransport{}
	d := openDriver(t, tr)

	require.NoError(t, d.TorqueOn())
	require.Len(t, tr.written, 1)
	assert.Equal(t,
		[]byte{0x55, 0x00, 0x09, 0x01, 0x26, 0x00, 0xCF, 0x00, 0xAA},
		tr.written[0])
}

func TestReadHappyPath(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond(t, protocol.RegBattery, []byte{0x56})
	d := openDriver(t, tr)

	payload, err := d.ReadBatteryLevel()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x56}, payload)

	// The outgoing command is a read frame for the battery register.
	require.Len(t, tr.written, 1)
	assert.Equal(t, byte(protocol.InsRead), tr.written[0][3])
	assert.Equal(t, byte(protocol.RegBattery), tr.written[0][4])
}

func TestReadIncompleteHeader(t *testing.T) {
	tr := &fakeTransport{}
	tr.response.Write([]byte{0x55, 0x00}) // only 2 of 3 header bytes
	d := openDriver(t, tr)

	_, err := d.ReadBatteryLevel()
	var cerr *protocol.CommunicationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "incomplete header", cerr.Op)
}

func TestReadInvalidHeader(t *testing.T) {
	tr := &fakeTransport{}
	tr.response.Write([]byte{0x55, 0x01, 0x09})
	d := openDriver(t, tr)

	_, err := d.ReadBatteryLevel()
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "invalid header", perr.Reason)
}

func TestReadInvalidFrameLength(t *testing.T) {
	tr := &fakeTransport{}
	tr.response.Write([]byte{0x55, 0x00, 0x04})
	d := openDriver(t, tr)

	_, err := d.ReadBatteryLevel()
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "invalid frame length", perr.Reason)
}

func TestReadIncompleteFrame(t *testing.T) {
	tr := &fakeTransport{}
	// Header announces 9 total bytes but only 4 more follow.
	tr.response.Write([]byte{0x55, 0x00, 0x09, 0x12, 0x01, 0x56, 0x8F})
	d := openDriver(t, tr)

	_, err := d.ReadBatteryLevel()
	var cerr *protocol.CommunicationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "incomplete frame", cerr.Op)
}

func TestReadInvalidTail(t *testing.T) {
	tr := &fakeTransport{}
	frame, err := protocol.BuildFrame(protocol.InsDataReturn, protocol.RegBattery, []byte{0x56})
	require.NoError(t, err)
	frame[len(frame)-1] = 0xAB
	tr.response.Write(frame)
	d := openDriver(t, tr)

	_, err = d.ReadBatteryLevel()
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "invalid tail", perr.Reason)
}

func TestReadDoesNotVerifyResponseChecksum(t *testing.T) {
	tr := &fakeTransport{}
	frame, err := protocol.BuildFrame(protocol.InsDataReturn, protocol.RegBattery, []byte{0x56})
	require.NoError(t, err)
	frame[len(frame)-3]++ // corrupt CHK only
	tr.response.Write(frame)
	d := openDriver(t, tr)

	payload, err := d.ReadBatteryLevel()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x56}, payload)
}

func TestReadTransportFailure(t *testing.T) {
	tr := &fakeTransport{readErr: errors.New("port gone")}
	d := openDriver(t, tr)

	_, err := d.ReadBatteryLevel()
	var cerr *protocol.CommunicationError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorContains(t, err, "port gone")
}

func TestWriteTransportFailure(t *testing.T) {
	tr := &fakeTransport{writeErr: errors.New("port gone")}
	d := openDriver(t, tr)

	err := d.TorqueOn()
	var cerr *protocol.CommunicationError
	require.ErrorAs(t, err, &cerr)
}
