package mux

import (
	"github.com/progrium/rtcmux/transport"
)

type fragment struct {
	ppid transport.PPID
	data []byte
}

// segment splits a message into fragments of at most size bytes. Empty
// messages become a single placeholder byte under an empty tag.
func segment(data []byte, binary bool, size int) []fragment {
	partial, final, empty := transport.PPIDStringPartial, transport.PPIDString, transport.PPIDStringEmpty
	if binary {
		partial, final, empty = transport.PPIDBinaryPartial, transport.PPIDBinary, transport.PPIDBinaryEmpty
	}
	if len(data) == 0 {
		return []fragment{{ppid: empty, data: []byte{0}}}
	}
	if size <= 0 || len(data) <= size {
		return []fragment{{ppid: final, data: data}}
	}
	frags := make([]fragment, 0, (len(data)+size-1)/size)
	for len(data) > size {
		frags = append(frags, fragment{ppid: partial, data: data[:size]})
		data = data[size:]
	}
	return append(frags, fragment{ppid: final, data: data})
}
