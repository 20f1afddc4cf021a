// Package dcep implements encoding and decoding of the in-band channel
// establishment messages exchanged on the control payload type.
package dcep

import (
	"fmt"
	"io"
)

var (
	// Debug can be set to get control messages as they're encoded and decoded
	Debug io.Writer
)

// Encode returns the wire form of msg.
func Encode(msg Message) []byte {
	if Debug != nil {
		fmt.Fprintln(Debug, "<<ENC", msg)
	}
	return msg.Bytes()
}
