package dcep

import (
	"errors"
	"fmt"
)

// ErrShortMessage is returned for control messages too short to hold
// their declared contents.
var ErrShortMessage = errors.New("dcep: message too short")

// UnknownTypeError is returned for an unrecognized msg_type.
type UnknownTypeError struct {
	Type byte
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("dcep: unknown message type 0x%02x", e.Type)
}

// Decode parses a single control message.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrShortMessage
	}

	var msg Message
	switch b[0] {
	case msgOpenRequest:
		req, err := decodeOpenRequest(b)
		if err != nil {
			return nil, err
		}
		msg = req
	case msgOpenAck:
		msg = &OpenAck{}
	default:
		return nil, &UnknownTypeError{Type: b[0]}
	}

	if Debug != nil {
		fmt.Fprintln(Debug, ">>DEC", msg)
	}

	return msg, nil
}
