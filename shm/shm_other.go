//go:build !unix

package shm

import "fmt"

// Create is not supported on this platform.
func Create(name string, l Layout, opts ...Option) (*Segment, error) {
	return nil, fmt.Errorf("%w: shared memory is not supported", ErrSegmentUnavailable)
}

// Open is not supported on this platform.
func Open(name string, l Layout, opts ...Option) (*Segment, error) {
	return nil, fmt.Errorf("%w: shared memory is not supported", ErrSegmentUnavailable)
}

// Close is a no-op on this platform.
func (s *Segment) Close() error {
	return nil
}
