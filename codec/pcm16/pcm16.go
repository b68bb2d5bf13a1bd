// Package pcm16 encodes audio blocks as interleaved signed 16 bit
// little-endian PCM.
package pcm16

import (
	"encoding/binary"
	"fmt"

	"pipelined.dev/rtmix/signal"
)

// Encoder is PCM encoder. It's not safe for concurrent use.
type Encoder struct {
	ints []int
}

// New returns PCM encoder.
func New() *Encoder {
	return &Encoder{}
}

// PacketSize returns the size of encoded block.
func (e *Encoder) PacketSize(blockSize, numChannels int) int {
	return blockSize * numChannels * 2
}

// Encode writes samples of the block into the packet.
func (e *Encoder) Encode(in signal.PCM, out *signal.Packet) error {
	n := len(in.Data)
	if len(out.Data) < 2*n {
		return fmt.Errorf("%w: packet of %d bytes for %d samples", signal.ErrSize, len(out.Data), n)
	}
	if cap(e.ints) < n {
		e.ints = make([]int, n)
	}
	ints := e.ints[:n]
	if err := signal.Ints(in.Data, ints, signal.BitDepth16); err != nil {
		return err
	}
	for i, v := range ints {
		binary.LittleEndian.PutUint16(out.Data[2*i:], uint16(int16(v)))
	}
	out.Len = 2 * n
	out.Keyframe = true
	return nil
}
