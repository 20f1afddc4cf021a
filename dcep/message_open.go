package dcep

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// openRequestHeaderLen is the fixed part of an OpenRequest, type byte included.
const openRequestHeaderLen = 12

type OpenRequest struct {
	ChannelType      ChannelType
	Priority         uint16
	ReliabilityParam uint32
	Label            string
	Protocol         string
}

func (msg OpenRequest) String() string {
	return fmt.Sprintf("{OpenRequest ChannelType:%s ReliabilityParam:%d Label:%q Protocol:%q}",
		msg.ChannelType, msg.ReliabilityParam, msg.Label, msg.Protocol)
}

func (msg OpenRequest) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(openRequestHeaderLen + len(msg.Label) + len(msg.Protocol))
	buf.WriteByte(msgOpenRequest)
	binary.Write(buf, binary.BigEndian, struct {
		ChannelType      ChannelType
		Priority         uint16
		ReliabilityParam uint32
		LabelLength      uint16
		ProtocolLength   uint16
	}{
		ChannelType:      msg.ChannelType,
		Priority:         msg.Priority,
		ReliabilityParam: msg.ReliabilityParam,
		LabelLength:      uint16(len(msg.Label)),
		ProtocolLength:   uint16(len(msg.Protocol)),
	})
	buf.WriteString(msg.Label)
	buf.WriteString(msg.Protocol)
	return buf.Bytes()
}

func decodeOpenRequest(b []byte) (*OpenRequest, error) {
	if len(b) < openRequestHeaderLen {
		return nil, fmt.Errorf("%w: open request of %d bytes", ErrShortMessage, len(b))
	}
	labelLen := int(binary.BigEndian.Uint16(b[8:10]))
	protoLen := int(binary.BigEndian.Uint16(b[10:12]))
	if len(b) < openRequestHeaderLen+labelLen+protoLen {
		return nil, fmt.Errorf("%w: open request of %d bytes, label %d protocol %d",
			ErrShortMessage, len(b), labelLen, protoLen)
	}
	label := b[openRequestHeaderLen : openRequestHeaderLen+labelLen]
	proto := b[openRequestHeaderLen+labelLen : openRequestHeaderLen+labelLen+protoLen]
	return &OpenRequest{
		ChannelType:      ChannelType(b[1]),
		Priority:         binary.BigEndian.Uint16(b[2:4]),
		ReliabilityParam: binary.BigEndian.Uint32(b[4:8]),
		Label:            string(label),
		Protocol:         string(proto),
	}, nil
}
