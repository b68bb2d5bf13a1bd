/*
Package ingest provides framing of encoded units sent to a remote
live-streaming endpoint.

Every unit is sent as one or more frames. A frame is a fixed little-endian
header followed by the payload part:

	kind u8 | flags u8 | part u16 | parts u16 | seq u64 | timeUs i64 | len u32 | payload

Transports that have message size limits split the payload into parts.
*/
package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when ingest session can't be established.
	ErrUnavailable = errors.New("ingest unavailable")
	// ErrFrame is returned when frame can't be parsed.
	ErrFrame = errors.New("invalid ingest frame")
)

// HeaderSize is the size of frame header in bytes.
const HeaderSize = 26

// Kind of encoded unit.
type Kind uint8

// kinds
const (
	Audio Kind = iota + 1
	Video
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const flagKeyframe = 1

// Unit is a single encoded unit.
type Unit struct {
	Kind     Kind
	Seq      uint64
	TimeUs   int64
	Keyframe bool
	Payload  []byte
}

// Header is the parsed frame header.
type Header struct {
	Kind     Kind
	Keyframe bool
	Part     uint16
	Parts    uint16
	Seq      uint64
	TimeUs   int64
	Len      uint32
}

// Framer splits units into frames. Frames are written into a single
// reusable buffer, so a frame is valid only until the next call.
type Framer struct {
	maxPayload int
	buf        []byte
}

// NewFramer returns framer that puts at most maxPayload bytes of payload
// into one frame. Non-positive maxPayload means no limit.
func NewFramer(maxPayload int) *Framer {
	f := Framer{maxPayload: maxPayload}
	if maxPayload > 0 {
		f.buf = make([]byte, HeaderSize+maxPayload)
	}
	return &f
}

// Frames calls fn for every frame of the unit.
func (f *Framer) Frames(u Unit, fn func(frame []byte) error) error {
	chunk := len(u.Payload)
	if f.maxPayload > 0 && chunk > f.maxPayload {
		chunk = f.maxPayload
	}
	parts := 1
	if chunk > 0 {
		parts = (len(u.Payload) + chunk - 1) / chunk
	}
	if parts > 0xFFFF {
		return fmt.Errorf("%w: %d bytes need %d parts", ErrFrame, len(u.Payload), parts)
	}
	if len(f.buf) < HeaderSize+chunk {
		f.buf = make([]byte, HeaderSize+chunk)
	}
	for part := 0; part < parts; part++ {
		start := part * chunk
		end := min(start+chunk, len(u.Payload))
		h := Header{
			Kind:     u.Kind,
			Keyframe: u.Keyframe,
			Part:     uint16(part),
			Parts:    uint16(parts),
			Seq:      u.Seq,
			TimeUs:   u.TimeUs,
			Len:      uint32(end - start),
		}
		putHeader(f.buf, h)
		n := copy(f.buf[HeaderSize:], u.Payload[start:end])
		if err := fn(f.buf[:HeaderSize+n]); err != nil {
			return err
		}
	}
	return nil
}

func putHeader(b []byte, h Header) {
	b[0] = byte(h.Kind)
	b[1] = 0
	if h.Keyframe {
		b[1] = flagKeyframe
	}
	binary.LittleEndian.PutUint16(b[2:], h.Part)
	binary.LittleEndian.PutUint16(b[4:], h.Parts)
	binary.LittleEndian.PutUint64(b[6:], h.Seq)
	binary.LittleEndian.PutUint64(b[14:], uint64(h.TimeUs))
	binary.LittleEndian.PutUint32(b[22:], h.Len)
}

// Parse returns header and payload of the frame.
func Parse(frame []byte) (Header, []byte, error) {
	if len(frame) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrFrame, len(frame))
	}
	h := Header{
		Kind:     Kind(frame[0]),
		Keyframe: frame[1]&flagKeyframe != 0,
		Part:     binary.LittleEndian.Uint16(frame[2:]),
		Parts:    binary.LittleEndian.Uint16(frame[4:]),
		Seq:      binary.LittleEndian.Uint64(frame[6:]),
		TimeUs:   int64(binary.LittleEndian.Uint64(frame[14:])),
		Len:      binary.LittleEndian.Uint32(frame[22:]),
	}
	payload := frame[HeaderSize:]
	if int(h.Len) != len(payload) || h.Part >= h.Parts {
		return Header{}, nil, fmt.Errorf("%w: header %+v, payload %d bytes", ErrFrame, h, len(payload))
	}
	return h, payload, nil
}

// Cause returns ctx error if ctx is done, err otherwise.
func Cause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
