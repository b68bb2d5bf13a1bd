package udp_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/rtmix/ingest"
	"pipelined.dev/rtmix/ingest/udp"
	"pipelined.dev/rtmix/log"
)

func TestSend(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	i := udp.New(pc.LocalAddr().String(), time.Second, log.Discard())
	require.NoError(t, i.Connect(context.Background()))
	defer i.Close()

	payload := bytes.Repeat([]byte{1, 2, 3}, udp.MaxPayload)
	require.NoError(t, i.Send(context.Background(), ingest.Unit{
		Kind:     ingest.Video,
		Seq:      9,
		Keyframe: true,
		Payload:  payload,
	}))

	var got []byte
	buf := make([]byte, 2*udp.MaxPayload)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second)))
	for parts := 1; parts > 0; parts-- {
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		h, p, err := ingest.Parse(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, uint64(9), h.Seq)
		assert.True(t, h.Keyframe)
		assert.LessOrEqual(t, len(p), udp.MaxPayload)
		if h.Part == 0 {
			parts = int(h.Parts)
		}
		got = append(got, p...)
	}
	assert.Equal(t, payload, got)
}

func TestConnectUnavailable(t *testing.T) {
	i := udp.New("not a host:port", time.Second, log.Discard())
	assert.ErrorIs(t, i.Connect(context.Background()), ingest.ErrUnavailable)
	assert.ErrorIs(t, i.Send(context.Background(), ingest.Unit{}), ingest.ErrUnavailable)
	assert.NoError(t, i.Close())
}

func TestSendCancelled(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	i := udp.New(pc.LocalAddr().String(), time.Second, log.Discard())
	require.NoError(t, i.Connect(context.Background()))
	defer i.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, i.Send(ctx, ingest.Unit{Kind: ingest.Audio, Payload: []byte{1}}), context.Canceled)
}
