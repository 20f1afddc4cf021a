package transport

import "fmt"

// PPID is the payload protocol identifier attached to every packet.
type PPID uint32

const (
	PPIDControl       PPID = 50
	PPIDString        PPID = 51
	PPIDBinaryPartial PPID = 52
	PPIDBinary        PPID = 53
	PPIDStringPartial PPID = 54
	PPIDStringEmpty   PPID = 56
	PPIDBinaryEmpty   PPID = 57
)

func (p PPID) String() string {
	switch p {
	case PPIDControl:
		return "CONTROL"
	case PPIDString:
		return "STRING"
	case PPIDBinaryPartial:
		return "BINARY_PARTIAL"
	case PPIDBinary:
		return "BINARY"
	case PPIDStringPartial:
		return "STRING_PARTIAL"
	case PPIDStringEmpty:
		return "STRING_EMPTY"
	case PPIDBinaryEmpty:
		return "BINARY_EMPTY"
	default:
		return fmt.Sprintf("PPID(%d)", uint32(p))
	}
}

// IsData reports whether p tags application payload.
func (p PPID) IsData() bool {
	switch p {
	case PPIDString, PPIDBinaryPartial, PPIDBinary, PPIDStringPartial, PPIDStringEmpty, PPIDBinaryEmpty:
		return true
	}
	return false
}

func (p PPID) IsPartial() bool {
	return p == PPIDStringPartial || p == PPIDBinaryPartial
}

func (p PPID) IsBinary() bool {
	return p == PPIDBinary || p == PPIDBinaryPartial || p == PPIDBinaryEmpty
}

func (p PPID) IsEmpty() bool {
	return p == PPIDStringEmpty || p == PPIDBinaryEmpty
}

// ReliabilityKind selects the partial reliability policy of a packet.
type ReliabilityKind uint8

const (
	Reliable ReliabilityKind = iota
	LimitedRetransmits
	LimitedLifetime
)

func (k ReliabilityKind) String() string {
	switch k {
	case Reliable:
		return "reliable"
	case LimitedRetransmits:
		return "rexmit"
	case LimitedLifetime:
		return "timed"
	default:
		return fmt.Sprintf("ReliabilityKind(%d)", uint8(k))
	}
}

// Reliability is a partial reliability policy. Param is a retransmission
// count for LimitedRetransmits and milliseconds for LimitedLifetime.
type Reliability struct {
	Kind  ReliabilityKind
	Param uint32
}

func (r Reliability) String() string {
	if r.Kind == Reliable {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s(%d)", r.Kind, r.Param)
}

// Packet is one transport message on one stream.
type Packet struct {
	Stream      uint16
	PPID        PPID
	Data        []byte
	Unordered   bool
	Reliability Reliability
}

func (p Packet) String() string {
	return fmt.Sprintf("{Packet Stream:%d PPID:%s Length:%d Unordered:%v Reliability:%s}",
		p.Stream, p.PPID, len(p.Data), p.Unordered, p.Reliability)
}
