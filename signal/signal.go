// Package signal provides payload types exchanged by pipeline stages and
// pure converters between them:
//	- planar float32 blocks rendered by effects
//	- interleaved PCM consumed by encoders and output devices
//	- encoded packets handed to ingest
//	- video frames rendered by visualizers
package signal

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"
)

// ErrSize is returned when output is not large enough for the conversion.
var ErrSize = errors.New("output buffer too small")

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// BitDepth contains values required for float-to-int conversion.
type BitDepth int

// multiplier is used when float to int conversion is done.
func (bitDepth BitDepth) multiplier() float64 {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// DurationOf returns time duration of passed samples for this sample rate.
func DurationOf(sampleRate int, samples int64) time.Duration {
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// Planar is a non-interleaved float32 block, one slice per channel.
type Planar [][]float32

// NewPlanar allocates a planar block of provided dimensions.
func NewPlanar(numChannels, size int) Planar {
	data := make([]float32, numChannels*size)
	p := make(Planar, numChannels)
	for i := range p {
		p[i] = data[i*size : (i+1)*size : (i+1)*size]
	}
	return p
}

// NumChannels returns number of channels in the block.
func (p Planar) NumChannels() int {
	return len(p)
}

// Size returns number of samples per channel.
func (p Planar) Size() int {
	if len(p) == 0 {
		return 0
	}
	return len(p[0])
}

// Zero sets all samples to zero.
func (p Planar) Zero() {
	for _, ch := range p {
		clear(ch)
	}
}

// PCM is an interleaved float32 block.
type PCM struct {
	Data        []float32
	NumChannels int
}

// NewPCM allocates interleaved block of provided dimensions.
func NewPCM(numChannels, size int) PCM {
	return PCM{
		Data:        make([]float32, numChannels*size),
		NumChannels: numChannels,
	}
}

// Size returns number of samples per channel.
func (p PCM) Size() int {
	if p.NumChannels == 0 {
		return 0
	}
	return len(p.Data) / p.NumChannels
}

// Interleave writes planar block into interleaved output. It retains no
// state between calls.
func Interleave(in Planar, out PCM) error {
	numChannels, size := in.NumChannels(), in.Size()
	if out.NumChannels != numChannels || len(out.Data) < numChannels*size {
		return fmt.Errorf("%w: need %d channels of %d samples, got %d of %d",
			ErrSize, numChannels, size, out.NumChannels, out.Size())
	}
	for c := range in {
		for i, v := range in[c] {
			out.Data[i*numChannels+c] = v
		}
	}
	return nil
}

// Ints converts float samples into ints of provided bit depth. Samples are
// clipped to [-1, 1].
func Ints(in []float32, out []int, bitDepth BitDepth) error {
	if len(out) < len(in) {
		return fmt.Errorf("%w: need %d samples, got %d", ErrSize, len(in), len(out))
	}
	m := bitDepth.multiplier()
	for i, v := range in {
		out[i] = int(float64(clip(v)) * m)
	}
	return nil
}

func clip(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

// Packet is an encoded unit. Data is preallocated with the maximum size,
// Len is the number of valid bytes.
type Packet struct {
	Data     []byte
	Len      int
	Keyframe bool
}

// NewPacket allocates packet with provided capacity.
func NewPacket(capacity int) Packet {
	return Packet{Data: make([]byte, capacity)}
}

// Bytes returns valid bytes of the packet.
func (p *Packet) Bytes() []byte {
	return p.Data[:p.Len]
}

// Write appends bytes to the packet. It fails with ErrSize if packet is
// full.
func (p *Packet) Write(b []byte) (int, error) {
	n := copy(p.Data[p.Len:], b)
	p.Len += n
	if n < len(b) {
		return n, fmt.Errorf("%w: packet of %d bytes is full", ErrSize, len(p.Data))
	}
	return n, nil
}

// Reset marks packet empty.
func (p *Packet) Reset() {
	p.Len = 0
	p.Keyframe = false
}

// Frame is a video frame.
type Frame = *image.RGBA

// NewFrame allocates a frame of provided dimensions.
func NewFrame(width, height int) Frame {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}
