package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/rtmix/ingest"
	"pipelined.dev/rtmix/midi"
	"pipelined.dev/rtmix/mock"
	"pipelined.dev/rtmix/pool"
	"pipelined.dev/rtmix/signal"
)

var errTest = errors.New("test error")

func planarPool(t *testing.T) *pool.Pool[signal.Planar] {
	t.Helper()
	p, err := pool.New(1, func(int) (signal.Planar, error) {
		return signal.NewPlanar(2, 4), nil
	})
	assert.NoError(t, err)
	return p
}

func TestEffect(t *testing.T) {
	testEffect := func(e *mock.Effect, calls int, expected error) func(*testing.T) {
		return func(t *testing.T) {
			p := planarPool(t)
			var err error
			for i := 0; i < calls && err == nil; i++ {
				b, _ := p.TryReceive()
				b.Seq = uint64(i)
				err = e.ProcessReplacing(context.Background(), 0, b)
				if err == nil && e.Stamp {
					assert.Equal(t, float32(i), b.Payload()[1][3])
				}
				p.Post(b)
			}
			assert.Equal(t, expected, err)
			messages, samples := e.Count()
			assert.Equal(t, calls, messages)
			assert.Equal(t, calls*4, samples)
		}
	}
	t.Run("stamp", testEffect(&mock.Effect{Stamp: true}, 3, nil))
	t.Run("error after", testEffect(&mock.Effect{
		Hooks: mock.Hooks{Fail: mock.Fail{ErrorOnCall: errTest, ErrorAfter: 2}},
	}, 3, errTest))
}

func TestEffectEvents(t *testing.T) {
	q := midi.NewQueue(4)
	q.Post(midi.Event{ReceivedUs: 10})
	q.Post(midi.Event{ReceivedUs: 20})
	e := &mock.Effect{}

	assert.NoError(t, e.ProcessEvent(15, q))
	assert.Len(t, e.Events(), 1)
	assert.NoError(t, e.ProcessEvent(25, q))
	assert.Len(t, e.Events(), 2)
}

func TestEditor(t *testing.T) {
	e := &mock.Effect{}
	assert.NoError(t, e.OpenEditor())
	assert.True(t, e.EditorOpen())
	assert.NoError(t, e.CloseEditor())
	assert.False(t, e.EditorOpen())
}

func TestIngest(t *testing.T) {
	i := &mock.Ingest{}
	payload := []byte{1, 2}
	assert.NoError(t, i.Send(context.Background(), ingest.Unit{Kind: ingest.Audio, Payload: payload}))
	assert.NoError(t, i.Send(context.Background(), ingest.Unit{Kind: ingest.Video, Payload: payload}))
	payload[0] = 9

	units := i.Units(ingest.Audio)
	assert.Len(t, units, 1)
	assert.Equal(t, []byte{1, 2}, units[0].Payload)
	assert.NoError(t, i.Close())
	assert.True(t, i.Closed())
}

func TestOutput(t *testing.T) {
	o := &mock.Output{Hooks: mock.Hooks{Fail: mock.Fail{ErrorOnCall: errTest, ErrorAfter: 1}}}
	pcm := signal.NewPCM(2, 2)
	pcm.Data[0] = 0.5
	assert.NoError(t, o.Write(pcm))
	assert.Equal(t, errTest, o.Write(pcm))
	assert.Equal(t, []float32{0.5, 0.5}, o.Values())
}
