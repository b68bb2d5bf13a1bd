package ingest_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rtmix/ingest"
)

func TestFrames(t *testing.T) {
	tests := []struct {
		maxPayload int
		payload    int
		parts      int
	}{
		{maxPayload: 0, payload: 1000, parts: 1},
		{maxPayload: 100, payload: 100, parts: 1},
		{maxPayload: 100, payload: 250, parts: 3},
		{maxPayload: 100, payload: 0, parts: 1},
	}
	for _, test := range tests {
		payload := bytes.Repeat([]byte{7}, test.payload)
		f := ingest.NewFramer(test.maxPayload)
		var (
			got     []byte
			headers []ingest.Header
		)
		err := f.Frames(ingest.Unit{
			Kind:     ingest.Video,
			Seq:      42,
			TimeUs:   -5,
			Keyframe: true,
			Payload:  payload,
		}, func(frame []byte) error {
			h, p, err := ingest.Parse(frame)
			require.NoError(t, err)
			headers = append(headers, h)
			got = append(got, p...)
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, headers, test.parts)
		assert.Equal(t, len(payload), len(got))
		for i, h := range headers {
			assert.Equal(t, ingest.Video, h.Kind)
			assert.True(t, h.Keyframe)
			assert.Equal(t, uint64(42), h.Seq)
			assert.Equal(t, int64(-5), h.TimeUs)
			assert.Equal(t, uint16(i), h.Part)
			assert.Equal(t, uint16(test.parts), h.Parts)
		}
	}
}

func TestFramesError(t *testing.T) {
	errSend := errors.New("send")
	calls := 0
	err := ingest.NewFramer(10).Frames(ingest.Unit{Payload: make([]byte, 30)}, func([]byte) error {
		calls++
		return errSend
	})
	assert.ErrorIs(t, err, errSend)
	assert.Equal(t, 1, calls)
}

func TestParseInvalid(t *testing.T) {
	_, _, err := ingest.Parse([]byte{1, 2})
	assert.ErrorIs(t, err, ingest.ErrFrame)

	var frame []byte
	_ = ingest.NewFramer(0).Frames(ingest.Unit{Kind: ingest.Audio, Payload: []byte{1, 2, 3}}, func(b []byte) error {
		frame = append(frame, b...)
		return nil
	})
	_, _, err = ingest.Parse(frame[:len(frame)-1])
	assert.ErrorIs(t, err, ingest.ErrFrame)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "audio", ingest.Audio.String())
	assert.Equal(t, "video", ingest.Video.String())
	assert.Equal(t, "kind(9)", ingest.Kind(9).String())
}
