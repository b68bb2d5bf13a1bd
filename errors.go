package rtmix

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/ingest"
	"pipelined.dev/rtmix/shm"
)

var (
	// ErrConfiguration is returned when required parameter is missing or
	// invalid. It's fatal at construction.
	ErrConfiguration = config.ErrConfiguration
	// ErrSegmentUnavailable is returned when shared segment can't be
	// created. It's fatal at pipeline build.
	ErrSegmentUnavailable = shm.ErrSegmentUnavailable
	// ErrIngestUnavailable is returned when ingest session can't be
	// established. It's fatal at pipeline build.
	ErrIngestUnavailable = ingest.ErrUnavailable
	// ErrNotRunning is returned when operation requires running engine.
	ErrNotRunning = errors.New("engine is not running")
	// ErrNoEditor is returned when effect doesn't provide editor.
	ErrNoEditor = errors.New("effect has no editor")
)

// StageFault is the terminal error of a stage. It cancels the whole run.
type StageFault struct {
	Stage string
	Run   xid.ID
	At    int64 // µs on the pipeline clock
	Err   error
}

func (f *StageFault) Error() string {
	return fmt.Sprintf("stage %s fault at %v: %v", f.Stage, time.Duration(f.At)*time.Microsecond, f.Err)
}

// Unwrap returns the cause of the fault.
func (f *StageFault) Unwrap() error {
	return f.Err
}

// teardownErrors wraps errors that might occur when multiple resources
// fail to close.
type teardownErrors []error

func (e teardownErrors) Error() string {
	s := make([]string, 0, len(e))
	for _, te := range e {
		s = append(s, te.Error())
	}
	return strings.Join(s, ", ")
}

// Unwrap allows to match any of the wrapped errors.
func (e teardownErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error list is empty.
func (e teardownErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
