package protocol

import (
	"errors"
	"fmt"
)

// ErrNotOpen indicates a command was attempted before the link was opened
// (or after it was closed).
var ErrNotOpen = errors.New("protocol: transport not open")

// RangeError reports a parameter outside the protocol-legal bounds:
// servo ID, data byte count, 16-bit values and so on.
type RangeError struct {
	What  string
	Value int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("protocol: %s out of range: %d", e.What, e.Value)
}

// ProtocolError reports received bytes that fail structural validation:
// bad header, bad tail, bad length byte, or a typed decode seeing the
// wrong payload size.
type ProtocolError struct {
	Reason string
	Frame  []byte // offending bytes, if any
}

func (e *ProtocolError) Error() string {
	if len(e.Frame) > 0 {
		return fmt.Sprintf("protocol: %s: % X", e.Reason, e.Frame)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

// CommunicationError reports an underlying transport I/O failure or an
// incomplete read within the response timeout.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Op)
}

func (e *CommunicationError) Unwrap() error { return e.Err }
