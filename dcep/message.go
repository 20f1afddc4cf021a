package dcep

const (
	msgOpenAck     = 0x02
	msgOpenRequest = 0x03
)

// Message is a control message carried on the control payload type.
type Message interface {
	String() string
	Bytes() []byte
}

// Reliability kinds carried in the low nibble of a ChannelType.
const (
	KindReliable byte = 0x00
	KindRexmit   byte = 0x01
	KindTimed    byte = 0x02
)

const unorderedBit = 0x80

// ChannelType is the channel_type field of an OpenRequest.
type ChannelType byte

const (
	ChannelReliable                       ChannelType = 0x00
	ChannelReliableUnordered              ChannelType = 0x80
	ChannelPartialReliableRexmit          ChannelType = 0x01
	ChannelPartialReliableRexmitUnordered ChannelType = 0x81
	ChannelPartialReliableTimed           ChannelType = 0x02
	ChannelPartialReliableTimedUnordered  ChannelType = 0x82
)

// NewChannelType builds a ChannelType from a reliability kind and ordering.
func NewChannelType(kind byte, ordered bool) ChannelType {
	t := ChannelType(kind & 0x0f)
	if !ordered {
		t |= unorderedBit
	}
	return t
}

// Valid reports whether t is one of the defined channel types.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelReliable, ChannelReliableUnordered,
		ChannelPartialReliableRexmit, ChannelPartialReliableRexmitUnordered,
		ChannelPartialReliableTimed, ChannelPartialReliableTimedUnordered:
		return true
	}
	return false
}

// Kind returns the reliability kind.
func (t ChannelType) Kind() byte {
	return byte(t) & 0x0f
}

func (t ChannelType) Ordered() bool {
	return byte(t)&unorderedBit == 0
}

func (t ChannelType) String() string {
	var s string
	switch t.Kind() {
	case KindReliable:
		s = "Reliable"
	case KindRexmit:
		s = "PartialReliableRexmit"
	case KindTimed:
		s = "PartialReliableTimed"
	default:
		s = "Unknown"
	}
	if !t.Ordered() {
		s += "Unordered"
	}
	return s
}
