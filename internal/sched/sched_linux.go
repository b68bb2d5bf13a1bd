//go:build linux

package sched

import (
	"golang.org/x/sys/unix"
)

// setPriority sets nice value of the current thread. On linux priority is
// a per-thread attribute addressed by thread id.
func setPriority(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}
