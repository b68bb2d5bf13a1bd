// Package wav records audio blocks into wav file.
package wav

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/rtmix/signal"
)

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")

const formatPCM = 1

// Recorder writes blocks into wav file.
type Recorder struct {
	bitDepth signal.BitDepth
	file     *os.File
	encoder  *wav.Encoder
	ib       *audio.IntBuffer
}

// NewRecorder creates wav file and returns its recorder.
func NewRecorder(path string, sampleRate, numChannels int, bitDepth signal.BitDepth) (*Recorder, error) {
	if bitDepth != signal.BitDepth16 && bitDepth != signal.BitDepth32 {
		return nil, ErrUnsupportedBitDepth
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	return &Recorder{
		bitDepth: bitDepth,
		file:     f,
		encoder:  wav.NewEncoder(f, sampleRate, int(bitDepth), numChannels, formatPCM),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: numChannels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: int(bitDepth),
		},
	}, nil
}

// Write appends the block to the file.
func (r *Recorder) Write(pcm signal.PCM) error {
	if cap(r.ib.Data) < len(pcm.Data) {
		r.ib.Data = make([]int, len(pcm.Data))
	}
	r.ib.Data = r.ib.Data[:len(pcm.Data)]
	if err := signal.Ints(pcm.Data, r.ib.Data, r.bitDepth); err != nil {
		return err
	}
	return r.encoder.Write(r.ib)
}

// Close finalizes wav header and closes the file.
func (r *Recorder) Close() error {
	if err := r.encoder.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
