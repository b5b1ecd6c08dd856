package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteFrame means more bytes are needed. It is never a protocol
	// violation; the caller retries when the transport has more data.
	ErrIncompleteFrame = errors.New("protocol: incomplete frame")

	ErrUnknownOpcode         = errors.New("protocol: unknown opcode")
	ErrMalformedPayload      = errors.New("protocol: malformed payload")
	ErrFrameTooLarge         = errors.New("protocol: frame exceeds size limit")
	ErrDuplicateRegistration = errors.New("protocol: duplicate opcode registration")
	ErrConnectionTerminated  = errors.New("protocol: connection terminated")
	ErrTableBuilt            = errors.New("protocol: table builder already built")
)

// UnknownOpcodeError reports an opcode with no descriptor on a device.
type UnknownOpcodeError struct {
	Device Device
	Opcode uint8
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("protocol: unknown opcode %d for device %s", e.Opcode, e.Device)
}

func (e *UnknownOpcodeError) Unwrap() error { return ErrUnknownOpcode }

// MalformedPayloadError reports a decode routine that could not satisfy its
// field layout within the bounded payload.
type MalformedPayloadError struct {
	Opcode uint8
	Name   string
	Length int
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("protocol: malformed %s payload (opcode %d, %d bytes): %v", e.Name, e.Opcode, e.Length, e.Err)
}

func (e *MalformedPayloadError) Is(target error) bool { return target == ErrMalformedPayload }

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// FrameTooLargeError reports a declared length beyond the configured cap.
type FrameTooLargeError struct {
	Opcode uint8
	Size   int
	Limit  int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("protocol: opcode %d declares a %d byte frame (limit %d)", e.Opcode, e.Size, e.Limit)
}

func (e *FrameTooLargeError) Unwrap() error { return ErrFrameTooLarge }

// DuplicateRegistrationError reports an opcode claimed by two descriptors.
type DuplicateRegistrationError struct {
	Device   Device
	Opcode   uint8
	Existing string
	New      string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("protocol: opcode %d on %s registered by %s is claimed again by %s",
		e.Opcode, e.Device, e.Existing, e.New)
}

func (e *DuplicateRegistrationError) Unwrap() error { return ErrDuplicateRegistration }

// IsTerminal reports whether err ends the connection.
func IsTerminal(err error) bool {
	if err == nil || errors.Is(err, ErrIncompleteFrame) {
		return false
	}
	return errors.Is(err, ErrUnknownOpcode) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrConnectionTerminated)
}

// ViolationKind returns a short label for a terminal error, used in logs,
// metrics and the audit store.
func ViolationKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownOpcode):
		return "unknown_opcode"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, ErrConnectionTerminated):
		return "terminated"
	default:
		return "other"
	}
}
