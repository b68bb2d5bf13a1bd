/*
Package shm provides named shared memory segments used to exchange audio
buffers with the out-of-process plugin host.

A segment is partitioned into fixed-size slots. The slot index, not the
address, is the identity shared by both processes: slot i starts at byte
i*SlotSize of the segment. Slot views are bounds-checked, a view never
reaches beyond its slot.
*/
package shm

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/google/uuid"

	"pipelined.dev/rtmix/pool"
	"pipelined.dev/rtmix/signal"
)

var (
	// ErrSegmentUnavailable is returned when segment cannot be created or
	// opened.
	ErrSegmentUnavailable = errors.New("shared segment unavailable")
	// ErrSlotRange is the panic value when slot index is out of range.
	ErrSlotRange = errors.New("slot index out of range")
)

// DefaultDir is the directory where segments are created.
const DefaultDir = "/dev/shm"

// sampleBytes is the size of float32 sample.
const sampleBytes = 4

// Layout is the slot layout of audio segment. Both processes must agree
// on it.
type Layout struct {
	Channels  int
	BlockSize int
	SlotCount int
}

// SlotSize returns the size of a single slot in bytes: Channels planes of
// BlockSize float32 samples.
func (l Layout) SlotSize() int {
	return l.Channels * l.BlockSize * sampleBytes
}

// Size returns total size of the segment in bytes.
func (l Layout) Size() int {
	return l.SlotSize() * l.SlotCount
}

// PlaneOffset returns the byte offset of channel plane within a slot.
func (l Layout) PlaneOffset(channel int) int {
	return channel * l.BlockSize * sampleBytes
}

// Validate checks that layout describes non-empty segment.
func (l Layout) Validate() error {
	if l.Channels <= 0 || l.BlockSize <= 0 || l.SlotCount <= 0 {
		return fmt.Errorf("%w: invalid layout %+v", ErrSegmentUnavailable, l)
	}
	return nil
}

// UniqueName returns segment name with random suffix, so stale segments
// never collide with a new run.
func UniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: invalid name %q", ErrSegmentUnavailable, name)
	}
	return nil
}

// Option configures segment.
type Option func(*options)

type options struct {
	dir string
}

// WithDir sets directory of the segment file.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// Segment is a named memory region mapped into this process.
type Segment struct {
	name     string
	path     string
	data     []byte
	slotSize int
	owner    bool
}

// Name returns the name of the segment.
func (s *Segment) Name() string {
	return s.name
}

// Size returns total size of the segment in bytes.
func (s *Segment) Size() int {
	return len(s.data)
}

// SlotSize returns size of a single slot.
func (s *Segment) SlotSize() int {
	return s.slotSize
}

// SlotCount returns number of slots.
func (s *Segment) SlotCount() int {
	if s.slotSize == 0 {
		return 0
	}
	return len(s.data) / s.slotSize
}

// Slot returns the view of slot i. The view capacity is limited to the
// slot. Out of range index panics with ErrSlotRange.
func (s *Segment) Slot(i int) []byte {
	if i < 0 || i >= s.SlotCount() {
		panic(fmt.Errorf("%w: %d of %d", ErrSlotRange, i, s.SlotCount()))
	}
	start, end := i*s.slotSize, (i+1)*s.slotSize
	return s.data[start:end:end]
}

// Planar returns float32 channel planes over the slot i.
func (s *Segment) Planar(i int, l Layout) signal.Planar {
	if l.SlotSize() != s.slotSize {
		panic(fmt.Errorf("%w: layout slot size %d, segment slot size %d", ErrSlotRange, l.SlotSize(), s.slotSize))
	}
	slot := s.Slot(i)
	samples := unsafe.Slice((*float32)(unsafe.Pointer(&slot[0])), l.Channels*l.BlockSize)
	p := make(signal.Planar, l.Channels)
	for c := range p {
		start, end := c*l.BlockSize, (c+1)*l.BlockSize
		p[c] = samples[start:end:end]
	}
	return p
}

// PlanarFactory returns pool factory that builds planar buffers over the
// segment slots. Pool index is the slot index.
func PlanarFactory(s *Segment, l Layout) pool.Factory[signal.Planar] {
	return func(slot int) (signal.Planar, error) {
		if slot >= s.SlotCount() {
			return nil, fmt.Errorf("%w: pool is larger than segment: slot %d of %d", ErrSegmentUnavailable, slot, s.SlotCount())
		}
		return s.Planar(slot, l), nil
	}
}
