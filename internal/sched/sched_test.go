package sched_test

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"pipelined.dev/rtmix/internal/sched"
)

func TestEnter(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var wg sync.WaitGroup
	for _, c := range []sched.Class{sched.RealTime, sched.Background} {
		wg.Add(1)
		go func(c sched.Class) {
			defer wg.Done()
			// raising priority without privileges must not fail the caller
			assert.NotPanics(t, func() { sched.Enter(c, logger) })
		}(c)
	}
	wg.Wait()
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "realtime", sched.RealTime.String())
	assert.Equal(t, "background", sched.Background.String())
	assert.Equal(t, "class(9)", sched.Class(9).String())
}
