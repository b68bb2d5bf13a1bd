//go:build lame

package mp3_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rtmix/codec/mp3"
	"pipelined.dev/rtmix/signal"
)

func TestEncode(t *testing.T) {
	const blockSize = 480
	e, err := mp3.New(48000, 2, 128000, 5)
	require.NoError(t, err)
	pcm := signal.NewPCM(2, blockSize)
	pk := signal.NewPacket(e.PacketSize(blockSize, 2))

	total := 0
	for block := 0; block < 100; block++ {
		for i := range pcm.Data {
			pcm.Data[i] = float32(math.Sin(float64(block*blockSize+i/2) * 2 * math.Pi * 440 / 48000))
		}
		pk.Reset()
		require.NoError(t, e.Encode(pcm, &pk))
		total += pk.Len
	}
	assert.Positive(t, total)
	assert.NoError(t, e.Close())
}

func TestChannels(t *testing.T) {
	_, err := mp3.New(48000, 3, 128000, 5)
	assert.Error(t, err)
}
