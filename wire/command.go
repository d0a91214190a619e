// Package wire implements the CURVE on-the-wire framing: the 1-byte
// length-prefixed command name that begins every handshake frame, and the
// name/value metadata (properties) codec embedded in INITIATE and READY.
package wire

import (
	"errors"
	"fmt"
)

// Command names, exactly as they appear on the wire (ASCII, length-prefixed
// by a single byte).
const (
	CommandHello    = "HELLO"
	CommandWelcome  = "WELCOME"
	CommandInitiate = "INITIATE"
	CommandReady    = "READY"
	CommandError    = "ERROR"
	CommandMessage  = "MESSAGE"
)

// ErrMalformedFrame is returned when a frame is empty or its name length
// prefix runs past the end of the frame. The name bytes themselves are not
// validated here. This is a syntactically invalid input: callers should
// silently discard it, not treat it as a fatal protocol deviation.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// SplitCommand parses the leading 1-byte length-prefixed command name off
// frame and returns the command name and the remaining body.
func SplitCommand(frame []byte) (name string, body []byte, err error) {
	if len(frame) < 1 {
		return "", nil, ErrMalformedFrame
	}
	n := int(frame[0])
	if len(frame) < 1+n {
		return "", nil, ErrMalformedFrame
	}
	return string(frame[1 : 1+n]), frame[1+n:], nil
}

// IsKnownCommand reports whether name is one of the six CURVE command
// names. Used to distinguish an unrecognized command (silently discarded)
// from a recognized command that is simply wrong for the current handshake
// state (a protocol deviation, which is fatal).
func IsKnownCommand(name string) bool {
	switch name {
	case CommandHello, CommandWelcome, CommandInitiate, CommandReady, CommandError, CommandMessage:
		return true
	default:
		return false
	}
}

// BuildCommand prepends the 1-byte length-prefixed command name to body.
func BuildCommand(name string, body []byte) ([]byte, error) {
	if len(name) > 255 {
		return nil, fmt.Errorf("wire: command name %q too long", name)
	}
	out := make([]byte, 0, 1+len(name)+len(body))
	out = append(out, byte(len(name)))
	out = append(out, name...)
	out = append(out, body...)
	return out, nil
}
