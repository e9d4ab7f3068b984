package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// FLAPMagic is the start-of-frame marker byte. Anything else at a frame
	// boundary means the stream is corrupt beyond recovery.
	FLAPMagic = 0x2A
	// FLAPHeaderSize is the fixed size of the FLAP frame header.
	FLAPHeaderSize = 6
)

// FLAP frame types (channels).
const (
	FLAPFrameSignon    uint8 = 0x01
	FLAPFrameData      uint8 = 0x02
	FLAPFrameError     uint8 = 0x03
	FLAPFrameSignoff   uint8 = 0x04
	FLAPFrameKeepAlive uint8 = 0x05
)

// FLAPSignonVersion is the 4-byte protocol version payload carried by the
// channel-1 hello frame.
var FLAPSignonVersion = []byte{0x00, 0x00, 0x00, 0x01}

// ErrBadFLAPMagic indicates the inbound stream lost framing. The connection
// that produced it must be torn down.
var ErrBadFLAPMagic = errors.New("bad FLAP magic byte")

// FLAPFrame is a single decoded FLAP frame.
type FLAPFrame struct {
	FrameType uint8
	Sequence  uint16
	Payload   []byte
}

// FLAPReassembler incrementally reassembles FLAP frames from an arbitrarily
// chunked inbound byte stream. Feed raw reads with Write, pop complete frames
// with Next.
type FLAPReassembler struct {
	buf []byte
}

// Write appends raw bytes from the wire to the reassembly buffer.
func (r *FLAPReassembler) Write(p []byte) {
	r.buf = append(r.buf, p...)
}

// Next extracts the next complete frame from the buffer. It returns false
// when more bytes are needed. ErrBadFLAPMagic is returned when the buffer
// does not start with the frame marker.
func (r *FLAPReassembler) Next() (FLAPFrame, bool, error) {
	if len(r.buf) < FLAPHeaderSize {
		return FLAPFrame{}, false, nil
	}
	if r.buf[0] != FLAPMagic {
		return FLAPFrame{}, false, ErrBadFLAPMagic
	}
	payloadLen := int(binary.BigEndian.Uint16(r.buf[4:6]))
	total := FLAPHeaderSize + payloadLen
	if len(r.buf) < total {
		return FLAPFrame{}, false, nil
	}
	frame := FLAPFrame{
		FrameType: r.buf[1],
		Sequence:  binary.BigEndian.Uint16(r.buf[2:4]),
		Payload:   append([]byte(nil), r.buf[FLAPHeaderSize:total]...),
	}
	r.buf = r.buf[total:]
	return frame, true, nil
}

// MarshalFLAP builds one FLAP frame ready for the wire.
func MarshalFLAP(frameType uint8, seq uint16, payload []byte) []byte {
	b := make([]byte, FLAPHeaderSize+len(payload))
	b[0] = FLAPMagic
	b[1] = frameType
	binary.BigEndian.PutUint16(b[2:4], seq)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(payload)))
	copy(b[FLAPHeaderSize:], payload)
	return b
}

// FlapClient writes FLAP frames to a connection, maintaining the outbound
// sequence counter. Safe for concurrent use, since handler goroutines and the
// relay loop share one connection.
type FlapClient struct {
	mu       sync.Mutex
	sequence uint16
	w        io.Writer
}

// NewFlapClient creates a FLAP writer starting at the given sequence number.
func NewFlapClient(startSeq uint16, w io.Writer) *FlapClient {
	return &FlapClient{sequence: startSeq, w: w}
}

// SendFLAP writes a single frame with the next sequence number.
func (c *FlapClient) SendFLAP(frameType uint8, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence++ // wraps at 0xFFFF
	if _, err := c.w.Write(MarshalFLAP(frameType, c.sequence, payload)); err != nil {
		return fmt.Errorf("flap write: %w", err)
	}
	return nil
}

// SendSignonFrame sends the channel-1 hello that opens every OSCAR
// conversation, server side first.
func (c *FlapClient) SendSignonFrame() error {
	return c.SendFLAP(FLAPFrameSignon, FLAPSignonVersion)
}

// SendSNAC writes a command frame on the data channel.
func (c *FlapClient) SendSNAC(frame SNACFrame, body []byte) error {
	return c.SendFLAP(FLAPFrameData, frame.Marshal(body))
}

// Signoff sends the graceful close frame. The payload may carry TLVs (used by
// the channel-1 login flow to deliver the login result).
func (c *FlapClient) Signoff(payload []byte) error {
	return c.SendFLAP(FLAPFrameSignoff, payload)
}
