package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/progrium/rtcmux/transport"
)

var (
	// Debug can be set to get frames as they're encoded and decoded
	Debug io.Writer
)

const (
	frameHello = iota + 1
	frameData
	frameReset
	frameLimit
)

// maxFrameSize bounds a decoded frame.
const maxFrameSize = 1 << 24

const flagUnordered = 0x01

// Frame is one length-prefixed unit on the byte stream.
type Frame interface {
	String() string
	Bytes() []byte
}

type HelloFrame struct {
	MaxMessageSize uint64
	StreamLimit    uint16
}

func (f HelloFrame) String() string {
	return fmt.Sprintf("{HelloFrame MaxMessageSize:%d StreamLimit:%d}", f.MaxMessageSize, f.StreamLimit)
}

func (f HelloFrame) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(frameHello)
	binary.Write(buf, binary.BigEndian, f)
	return buf.Bytes()
}

type DataFrame struct {
	Stream           uint16
	PPID             uint32
	Flags            uint8
	ReliabilityKind  uint8
	ReliabilityParam uint32
	Data             []byte
}

const dataHeaderLen = 12

func dataFrameFrom(p transport.Packet) DataFrame {
	f := DataFrame{
		Stream:           p.Stream,
		PPID:             uint32(p.PPID),
		ReliabilityKind:  uint8(p.Reliability.Kind),
		ReliabilityParam: p.Reliability.Param,
		Data:             p.Data,
	}
	if p.Unordered {
		f.Flags |= flagUnordered
	}
	return f
}

func (f DataFrame) Packet() transport.Packet {
	return transport.Packet{
		Stream:    f.Stream,
		PPID:      transport.PPID(f.PPID),
		Data:      f.Data,
		Unordered: f.Flags&flagUnordered != 0,
		Reliability: transport.Reliability{
			Kind:  transport.ReliabilityKind(f.ReliabilityKind),
			Param: f.ReliabilityParam,
		},
	}
}

func (f DataFrame) String() string {
	return fmt.Sprintf("{DataFrame Stream:%d PPID:%d Flags:%d Length:%d}", f.Stream, f.PPID, f.Flags, len(f.Data))
}

func (f DataFrame) Bytes() []byte {
	b := make([]byte, 1+dataHeaderLen+len(f.Data))
	b[0] = frameData
	binary.BigEndian.PutUint16(b[1:3], f.Stream)
	binary.BigEndian.PutUint32(b[3:7], f.PPID)
	b[7] = f.Flags
	b[8] = f.ReliabilityKind
	binary.BigEndian.PutUint32(b[9:13], f.ReliabilityParam)
	copy(b[13:], f.Data)
	return b
}

type ResetFrame struct {
	Streams []uint16
}

func (f ResetFrame) String() string {
	return fmt.Sprintf("{ResetFrame Streams:%v}", f.Streams)
}

func (f ResetFrame) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(frameReset)
	binary.Write(buf, binary.BigEndian, uint16(len(f.Streams)))
	binary.Write(buf, binary.BigEndian, f.Streams)
	return buf.Bytes()
}

type LimitFrame struct {
	StreamLimit uint16
}

func (f LimitFrame) String() string {
	return fmt.Sprintf("{LimitFrame StreamLimit:%d}", f.StreamLimit)
}

func (f LimitFrame) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(frameLimit)
	binary.Write(buf, binary.BigEndian, f)
	return buf.Bytes()
}

// Encoder writes length-prefixed frames to an io.Writer
type Encoder struct {
	w io.Writer
	sync.Mutex
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (enc *Encoder) Encode(f Frame) error {
	enc.Lock()
	defer enc.Unlock()

	if Debug != nil {
		fmt.Fprintln(Debug, "<<ENC", f)
	}

	b := f.Bytes()
	prefix := make([]byte, 4, 4+len(b))
	binary.BigEndian.PutUint32(prefix, uint32(len(b)))
	_, err := enc.w.Write(append(prefix, b...))
	return err
}

// Decoder reads length-prefixed frames from an io.Reader
type Decoder struct {
	r io.Reader
	sync.Mutex
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (dec *Decoder) Decode() (Frame, error) {
	dec.Lock()
	defer dec.Unlock()

	var prefix [4]byte
	if _, err := io.ReadFull(dec.r, prefix[:]); err != nil {
		var syscallErr *os.SyscallError
		if errors.As(err, &syscallErr) && syscallErr.Err == syscall.ECONNRESET {
			return nil, io.EOF
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("stream: bad frame size %d", size)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(dec.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	f, err := frameFrom(b)
	if err != nil {
		return nil, err
	}

	if Debug != nil {
		fmt.Fprintln(Debug, ">>DEC", f)
	}

	return f, nil
}

func frameFrom(b []byte) (Frame, error) {
	body := b[1:]
	switch b[0] {
	case frameHello:
		var f HelloFrame
		if err := binary.Read(bytes.NewReader(body), binary.BigEndian, &f); err != nil {
			return nil, fmt.Errorf("stream: hello frame: %w", err)
		}
		return f, nil
	case frameData:
		if len(body) < dataHeaderLen {
			return nil, fmt.Errorf("stream: data frame of %d bytes", len(body))
		}
		return DataFrame{
			Stream:           binary.BigEndian.Uint16(body[0:2]),
			PPID:             binary.BigEndian.Uint32(body[2:6]),
			Flags:            body[6],
			ReliabilityKind:  body[7],
			ReliabilityParam: binary.BigEndian.Uint32(body[8:12]),
			Data:             body[dataHeaderLen:],
		}, nil
	case frameReset:
		if len(body) < 2 {
			return nil, fmt.Errorf("stream: reset frame of %d bytes", len(body))
		}
		n := int(binary.BigEndian.Uint16(body[0:2]))
		if len(body) < 2+2*n {
			return nil, fmt.Errorf("stream: reset frame of %d bytes for %d streams", len(body), n)
		}
		f := ResetFrame{Streams: make([]uint16, n)}
		for i := range f.Streams {
			f.Streams[i] = binary.BigEndian.Uint16(body[2+2*i:])
		}
		return f, nil
	case frameLimit:
		var f LimitFrame
		if err := binary.Read(bytes.NewReader(body), binary.BigEndian, &f); err != nil {
			return nil, fmt.Errorf("stream: limit frame: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("stream: unexpected frame type %d", b[0])
	}
}
