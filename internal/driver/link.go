// Package driver implements the command and telemetry layers of the Muto
// baseboard link: Driver issues servo commands, Sensor reads battery and
// IMU telemetry. Both share the same framed request/response session
// over a transport.
package driver

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openmuto/mutolink/internal/protocol"
	"github.com/openmuto/mutolink/internal/transport"
)

// responseTimeout bounds each phase of a response read (header, body).
// A short read within the timeout is a hard failure; the protocol has
// no retries.
const responseTimeout = time.Second

// link owns a transport session: the Closed/Open state machine and the
// write-command / read-command exchanges Driver and Sensor are built on.
type link struct {
	mu   sync.Mutex
	tr   transport.Transport
	log  *zap.Logger
	open bool
}

// Open acquires the transport. Opening an already-open link is a no-op.
func (l *link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open {
		return nil
	}
	if err := l.tr.Open(); err != nil {
		return errors.Wrap(err, "open transport")
	}
	l.open = true
	l.log.Info("link opened")
	return nil
}

// Close releases the transport. It never fails: close errors are logged
// as diagnostics and dropped, so deferred cleanup always completes.
// Close is idempotent.
func (l *link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return
	}
	l.open = false
	if err := l.tr.Close(); err != nil {
		l.log.Warn("error closing transport", zap.Error(err))
		return
	}
	l.log.Info("link closed")
}

// Write sends a write command for the given register. No response is
// expected or consumed.
func (l *link) Write(addr byte, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(protocol.InsWrite, addr, data)
}

// Read sends a read command for the given register and returns the data
// payload of the response frame.
//
// The response is validated structurally (header bytes, length byte,
// tail bytes) but its CHK and INS bytes are not checked, matching the
// baseboard firmware's own leniency.
func (l *link) Read(addr byte, data []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write(protocol.InsRead, addr, data); err != nil {
		return nil, err
	}

	hdr := make([]byte, protocol.HeaderSize)
	n, err := l.tr.Read(hdr, responseTimeout)
	if err != nil {
		return nil, &protocol.CommunicationError{Op: "read response header", Err: err}
	}
	if n < len(hdr) {
		return nil, &protocol.CommunicationError{Op: "incomplete header"}
	}

	frameLen, err := protocol.ParseHeader(hdr)
	if err != nil {
		return nil, err
	}

	rest := make([]byte, frameLen-protocol.HeaderSize)
	n, err = l.tr.Read(rest, responseTimeout)
	if err != nil {
		return nil, &protocol.CommunicationError{Op: "read response frame", Err: err}
	}
	if n < len(rest) {
		return nil, &protocol.CommunicationError{Op: "incomplete frame"}
	}

	payload, err := protocol.Payload(append(hdr, rest...))
	if err != nil {
		return nil, err
	}
	l.log.Debug("read command completed",
		zap.Uint8("addr", addr), zap.Int("response_len", len(payload)))
	return payload, nil
}

// write builds and transmits one frame. Callers hold l.mu.
func (l *link) write(ins, addr byte, data []byte) error {
	if !l.open {
		return protocol.ErrNotOpen
	}
	frame, err := protocol.BuildFrame(ins, addr, data)
	if err != nil {
		return err
	}
	n, err := l.tr.Write(frame)
	if err != nil {
		return &protocol.CommunicationError{Op: "write frame", Err: err}
	}
	if n != len(frame) {
		return &protocol.CommunicationError{Op: "short frame write"}
	}
	l.log.Debug("frame sent",
		zap.Uint8("ins", ins), zap.Uint8("addr", addr), zap.Int("data_len", len(data)))
	return nil
}
