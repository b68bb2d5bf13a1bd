// Package jpeg encodes video frames as JPEG images. Every frame is intra
// coded, so every packet is a keyframe.
package jpeg

import (
	"fmt"
	"image/jpeg"

	"pipelined.dev/rtmix/signal"
)

// Encoder is JPEG encoder. It's not safe for concurrent use.
type Encoder struct {
	options jpeg.Options
}

// New returns encoder with provided quality in [1, 100].
func New(quality int) (*Encoder, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality must be in [1, 100]: %d", quality)
	}
	return &Encoder{options: jpeg.Options{Quality: quality}}, nil
}

// PacketSize returns the maximum size of encoded frame.
func (e *Encoder) PacketSize(width, height int) int {
	return width*height*4 + 4096
}

// Encode writes the frame into the packet.
func (e *Encoder) Encode(in signal.Frame, out *signal.Packet, _ bool) error {
	if err := jpeg.Encode(out, in, &e.options); err != nil {
		return err
	}
	out.Keyframe = true
	return nil
}
