// Package mp3 encodes audio blocks with LAME. It requires libmp3lame.
package mp3

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/viert/lame"

	"pipelined.dev/rtmix/signal"
)

// Encoder is MP3 encoder. It's not safe for concurrent use.
type Encoder struct {
	wr   *lame.LameWriter
	out  target
	raw  []byte
	ints []int
}

// target forwards encoded bytes into the current packet. Bytes flushed
// outside of Encode call are dropped.
type target struct {
	pk *signal.Packet
}

func (t *target) Write(p []byte) (int, error) {
	if t.pk == nil {
		return io.Discard.Write(p)
	}
	return t.pk.Write(p)
}

// New returns encoder. Bit rate is in bits per second.
func New(sampleRate, numChannels, bitRate, quality int) (*Encoder, error) {
	if numChannels < 1 || numChannels > 2 {
		return nil, fmt.Errorf("mp3 supports mono and stereo only: %d channels", numChannels)
	}
	e := &Encoder{}
	e.wr = lame.NewWriter(&e.out)
	e.wr.Encoder.SetBitrate(bitRate / 1000)
	e.wr.Encoder.SetQuality(quality)
	e.wr.Encoder.SetNumChannels(numChannels)
	e.wr.Encoder.SetInSamplerate(sampleRate)
	if numChannels == 2 {
		e.wr.Encoder.SetMode(lame.JOINT_STEREO)
	}
	e.wr.Encoder.InitParams()
	return e, nil
}

// PacketSize returns the worst case size of encoded block.
func (e *Encoder) PacketSize(blockSize, numChannels int) int {
	return 5*blockSize/4 + 7200
}

// Encode writes encoded block into the packet. The encoder has a delay,
// so first packets might be empty.
func (e *Encoder) Encode(in signal.PCM, out *signal.Packet) error {
	n := len(in.Data)
	if cap(e.ints) < n {
		e.ints = make([]int, n)
		e.raw = make([]byte, 2*n)
	}
	ints, raw := e.ints[:n], e.raw[:2*n]
	if err := signal.Ints(in.Data, ints, signal.BitDepth16); err != nil {
		return err
	}
	for i, v := range ints {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(int16(v)))
	}
	e.out.pk = out
	defer func() {
		e.out.pk = nil
	}()
	_, err := e.wr.Write(raw)
	return err
}

// Close flushes and releases the encoder.
func (e *Encoder) Close() error {
	return e.wr.Close()
}
