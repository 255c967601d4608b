// Package transport provides the byte channels the Muto driver talks
// over: USB serial adapters, the Raspberry Pi UART with an optional
// RS-485 direction pin, and an in-memory loopback baseboard for demos
// and tests.
package transport

import "time"

// Transport is a half-duplex byte channel to the baseboard. One
// request/response exchange at a time; callers needing multiple devices
// use distinct instances.
type Transport interface {
	// Open establishes the link. Calling Open on an already-open
	// transport is a no-op.
	Open() error

	// Close releases the link. Safe to call multiple times; callers
	// treat a close error as a diagnostic, never a failure.
	Close() error

	// Write sends p and returns the number of bytes written.
	Write(p []byte) (int, error)

	// Read fills p with up to len(p) bytes, waiting at most timeout for
	// the remainder to arrive. A timeout <= 0 uses the transport
	// default. A short read is not an error at this layer; the caller
	// decides whether the count it got is acceptable.
	Read(p []byte, timeout time.Duration) (int, error)
}

const (
	// DefaultBaud matches the baseboard's fixed UART rate.
	DefaultBaud = 115200

	// defaultReadTimeout bounds a Read call when the caller passes no
	// timeout of its own.
	defaultReadTimeout = 50 * time.Millisecond
)
