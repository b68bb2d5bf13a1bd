package jpeg_test

import (
	"bytes"
	"image/color"
	stdjpeg "image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rtmix/codec/jpeg"
	"pipelined.dev/rtmix/signal"
)

func TestEncode(t *testing.T) {
	e, err := jpeg.New(75)
	require.NoError(t, err)
	f := signal.NewFrame(64, 32)
	for x := 0; x < 64; x++ {
		f.SetRGBA(x, x%32, color.RGBA{R: 0xff, A: 0xff})
	}
	pk := signal.NewPacket(e.PacketSize(64, 32))
	require.NoError(t, e.Encode(f, &pk, false))
	assert.True(t, pk.Keyframe)
	assert.Positive(t, pk.Len)

	img, err := stdjpeg.Decode(bytes.NewReader(pk.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, f.Bounds(), img.Bounds())

	small := signal.NewPacket(16)
	assert.ErrorIs(t, e.Encode(f, &small, true), signal.ErrSize)
}

func TestQuality(t *testing.T) {
	_, err := jpeg.New(0)
	assert.Error(t, err)
	_, err = jpeg.New(101)
	assert.Error(t, err)
}
