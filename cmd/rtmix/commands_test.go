package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rtmix/config"
	"pipelined.dev/rtmix/midi"
)

func TestParseMIDI(t *testing.T) {
	ev, err := parseMIDI(42, "90 3c 64")
	require.NoError(t, err)
	assert.Equal(t, int64(42), ev.ReceivedUs)
	assert.Equal(t, 3, ev.Len())

	_, err = parseMIDI(0, "zz")
	assert.ErrorIs(t, err, midi.ErrMessage)
}

func TestLockInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtmix.lock")
	unlock, err := lockInstance(path)
	require.NoError(t, err)

	_, err = lockInstance(path)
	assert.EqualError(t, err, "another rtmix instance is already running")

	require.NoError(t, unlock())
	unlock, err = lockInstance(path)
	require.NoError(t, err)
	assert.NoError(t, unlock())

	unlock, err = lockInstance("")
	require.NoError(t, err)
	assert.NoError(t, unlock())
}

func TestRenderLayout(t *testing.T) {
	cfg := config.Default()
	cfg.BufferCount = 2
	out := renderLayout(cfg)

	// 480 samples of float32 per plane.
	assert.Contains(t, out, "2 slots of 3840 bytes")
	assert.Contains(t, out, "1920")
	assert.Contains(t, out, "7680")
	assert.Equal(t, 1, strings.Count(out, "Channel 1"))
}
