//go:build unix

package shm

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Create creates or opens the named segment of provided layout and maps
// it. Existing segment of different size is not reused. Only a segment
// created by this call is removed on Close.
func Create(name string, l Layout, opts ...Option) (*Segment, error) {
	return mmap(name, l, true, opts)
}

// Open maps an existing segment created by the other process.
func Open(name string, l Layout, opts ...Option) (*Segment, error) {
	return mmap(name, l, false, opts)
}

func mmap(name string, l Layout, create bool, opts []Option) (*Segment, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	o := options{dir: DefaultDir}
	for _, option := range opts {
		option(&o)
	}
	path := filepath.Join(o.dir, name)
	size := l.Size()

	fd, created, err := openFile(path, create)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSegmentUnavailable, path, err)
	}
	defer unix.Close(fd)

	if created {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Unlink(path)
			return nil, fmt.Errorf("%w: truncate %s: %v", ErrSegmentUnavailable, path, err)
		}
	} else {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", ErrSegmentUnavailable, path, err)
		}
		if st.Size != int64(size) {
			return nil, fmt.Errorf("%w: %s has size %d, expected %d", ErrSegmentUnavailable, path, st.Size, size)
		}
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if created {
			_ = unix.Unlink(path)
		}
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrSegmentUnavailable, path, err)
	}
	return &Segment{
		name:     name,
		path:     path,
		data:     data,
		slotSize: l.SlotSize(),
		owner:    created,
	}, nil
}

// openFile opens the segment file. If create is set, the file is created
// exclusively when it doesn't exist yet and created is true then.
func openFile(path string, create bool) (fd int, created bool, err error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if create {
		fd, err = unix.Open(path, flags|unix.O_CREAT|unix.O_EXCL, 0o600)
		if err == nil {
			return fd, true, nil
		}
		if err != unix.EEXIST {
			return -1, false, err
		}
	}
	fd, err = unix.Open(path, flags, 0o600)
	return fd, false, err
}

// Close unmaps the segment. Segment created by this process is also
// removed. Slot views must not be used after Close.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if s.owner {
		if rmErr := unix.Unlink(s.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	if err != nil {
		return fmt.Errorf("close segment %s: %w", s.name, err)
	}
	return nil
}
