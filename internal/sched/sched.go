// Package sched provides scheduling classes for stage goroutines.
package sched

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Class is a scheduling class of a stage.
type Class int

const (
	// Background is the class of video and visualization stages.
	Background Class = iota
	// RealTime is the elevated class of the audio path.
	RealTime
)

func (c Class) String() string {
	switch c {
	case Background:
		return "background"
	case RealTime:
		return "realtime"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// nice values applied to the thread of the class
var nice = map[Class]int{
	Background: 5,
	RealTime:   -10,
}

// Enter binds the calling goroutine to its OS thread and applies the
// priority of the class to that thread. The goroutine is never unlocked:
// when it exits, the thread is terminated instead of being returned to the
// scheduler with altered priority. Failure to change priority is logged and
// ignored, the stage runs with default priority then.
func Enter(c Class, l logrus.FieldLogger) {
	runtime.LockOSThread()
	if err := setPriority(nice[c]); err != nil {
		l.WithFields(logrus.Fields{
			"class": c,
			"nice":  nice[c],
		}).Debugf("priority not applied: %v", err)
	}
}
