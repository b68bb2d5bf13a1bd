// Package viz renders audio spectrum and active MIDI notes into video
// frames.
package viz

import (
	"fmt"
	"image/color"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"

	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/signal"
)

const (
	numKeys = 128
	// decay of spectrum bars per rendered frame.
	decay = 0.85
	// floor is the lowest displayed level, dBFS.
	floor = -90.0
)

var (
	background = color.RGBA{A: 0xff}
	bar        = color.RGBA{R: 0x2e, G: 0xc4, B: 0xb6, A: 0xff}
	key        = color.RGBA{R: 0xff, G: 0x9f, B: 0x1c, A: 0xff}
)

// Spectrum is the visualizer. Audio is downmixed to mono and the latest
// window of samples is transformed on every rendered frame. It's safe for
// concurrent use.
type Spectrum struct {
	mu    sync.Mutex
	fft   *fourier.FFT
	ring  []float64
	pos   int
	seq   []float64
	coeff []complex128
	level []float64
	notes [numKeys]uint8
}

// New returns visualizer with FFT of provided size.
func New(size int) (*Spectrum, error) {
	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("fft size must be a power of two: %d", size)
	}
	return &Spectrum{
		fft:   fourier.NewFFT(size),
		ring:  make([]float64, size),
		seq:   make([]float64, size),
		coeff: make([]complex128, size/2+1),
		level: make([]float64, size/2+1),
	}, nil
}

// Accumulate appends the block to the analysis window.
func (s *Spectrum) Accumulate(pcm signal.PCM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := pcm.NumChannels
	if n == 0 {
		return
	}
	for i := 0; i+n <= len(pcm.Data); i += n {
		var sum float32
		for _, v := range pcm.Data[i : i+n] {
			sum += v
		}
		s.ring[s.pos] = float64(sum) / float64(n)
		s.pos = (s.pos + 1) % len(s.ring)
	}
}

// Note tracks note on and off events.
func (s *Spectrum) Note(e midi.Event) {
	var ch, k, vel uint8
	msg := e.Message()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case msg.GetNoteStart(&ch, &k, &vel):
		s.notes[k] = vel
	case msg.GetNoteEnd(&ch, &k):
		s.notes[k] = 0
	}
}

// Active returns number of notes being played.
func (s *Spectrum) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.notes {
		if v > 0 {
			n++
		}
	}
	return n
}

// Levels returns spectrum levels in [0, 1] per FFT bin, as of the last
// rendered frame.
func (s *Spectrum) Levels() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.level...)
}

// analyze updates smoothed levels. Must be called under the mutex.
func (s *Spectrum) analyze() {
	copy(s.seq, s.ring[s.pos:])
	copy(s.seq[len(s.ring)-s.pos:], s.ring[:s.pos])
	window.Hann(s.seq)
	s.fft.Coefficients(s.coeff, s.seq)
	scale := 4 / float64(len(s.seq))
	for i, c := range s.coeff {
		db := 20 * math.Log10(math.Max(cmplxAbs(c)*scale, 1e-9))
		v := math.Max(0, 1-db/floor)
		s.level[i] = math.Max(v, s.level[i]*decay)
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// Render draws spectrum bars over the frame and marks active notes in the
// top row.
func (s *Spectrum) Render(f signal.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyze()

	b := f.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}
	keyHeight := h / 16
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			f.SetRGBA(x, y, background)
		}
	}

	// bins are spread logarithmically, low frequencies get more room.
	bins := len(s.level) - 1
	logBins := math.Log2(float64(bins))
	for x := 0; x < w; x++ {
		lo := int(math.Exp2(logBins * float64(x) / float64(w)))
		hi := int(math.Exp2(logBins * float64(x+1) / float64(w)))
		if hi <= lo {
			hi = lo + 1
		}
		v := floats.Max(s.level[lo:min(hi, bins)+1])
		top := h - int(v*float64(h-keyHeight))
		for y := top; y < h; y++ {
			f.SetRGBA(b.Min.X+x, b.Min.Y+y, bar)
		}
	}

	for k, vel := range s.notes {
		if vel == 0 {
			continue
		}
		x0, x1 := k*w/numKeys, (k+1)*w/numKeys
		for y := 0; y < keyHeight; y++ {
			for x := x0; x < max(x1, x0+1); x++ {
				f.SetRGBA(b.Min.X+x, b.Min.Y+y, key)
			}
		}
	}
}
