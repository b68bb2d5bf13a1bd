//go:build !linux

package sched

import "errors"

func setPriority(int) error {
	return errors.New("thread priority is not supported on this platform")
}
