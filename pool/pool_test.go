package pool_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/rtmix/pool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func floats(size int) pool.Factory[[]float32] {
	return func(int) ([]float32, error) {
		return make([]float32, size), nil
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		capacity int
		err      error
	}{
		{capacity: 1},
		{capacity: 4},
		{capacity: 0, err: pool.ErrCapacity},
		{capacity: -1, err: pool.ErrCapacity},
	}
	for _, test := range tests {
		p, err := pool.New(test.capacity, floats(8))
		if test.err != nil {
			assert.ErrorIs(t, err, test.err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, test.capacity, p.Cap())
		assert.Equal(t, test.capacity, p.Free())
		assert.Equal(t, 0, p.Borrowed())
	}
}

func TestFactoryError(t *testing.T) {
	errFactory := errors.New("factory")
	_, err := pool.New(3, func(slot int) (int, error) {
		if slot == 2 {
			return 0, errFactory
		}
		return slot, nil
	})
	assert.ErrorIs(t, err, errFactory)
}

func TestCapacityInvariant(t *testing.T) {
	const capacity = 4
	p, err := pool.New(capacity, floats(16), pool.WithDebug(true))
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	var held []*pool.Buffer[[]float32]
	for i := 0; i < 1000; i++ {
		if len(held) < capacity && r.Intn(2) == 0 {
			b, ok := p.TryReceive()
			require.True(t, ok)
			for _, h := range held {
				assert.NotSame(t, h, b)
			}
			held = append(held, b)
		} else if len(held) > 0 {
			j := r.Intn(len(held))
			p.Post(held[j])
			held = append(held[:j], held[j+1:]...)
		}
		assert.Equal(t, capacity, p.Free()+p.Borrowed())
		assert.Equal(t, len(held), p.Borrowed())
	}
}

func TestSlotsAreStable(t *testing.T) {
	p, err := pool.New(3, func(slot int) (int, error) { return slot * 10, nil })
	require.NoError(t, err)
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		b, ok := p.TryReceive()
		require.True(t, ok)
		assert.Equal(t, b.Slot*10, b.Payload())
		assert.Same(t, b, p.Buffer(b.Slot))
		seen[b.Slot] = true
	}
	assert.Len(t, seen, 3)
	_, ok := p.TryReceive()
	assert.False(t, ok)
}

func TestReceiveBlocks(t *testing.T) {
	p, err := pool.New(1, floats(1))
	require.NoError(t, err)
	b, err := p.Receive(context.Background())
	require.NoError(t, err)

	got := make(chan *pool.Buffer[[]float32])
	go func() {
		b, err := p.Receive(context.Background())
		assert.NoError(t, err)
		got <- b
	}()
	select {
	case <-got:
		t.Fatal("receive must block on empty pool")
	case <-time.After(20 * time.Millisecond):
	}
	p.Post(b)
	assert.Same(t, b, <-got)
}

func TestReceiveCancel(t *testing.T) {
	p, err := pool.New(1, floats(1))
	require.NoError(t, err)
	_, err = p.Receive(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	b, err := p.Receive(ctx)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoublePostDebug(t *testing.T) {
	p, err := pool.New(2, floats(1), pool.WithDebug(true), pool.WithName("audio"))
	require.NoError(t, err)
	b, _ := p.TryReceive()
	p.Post(b)
	assert.PanicsWithError(t, "pool audio: slot 0: buffer posted twice", func() {
		p.Post(b)
	})
	assert.Equal(t, 2, p.Free())
}

func TestUseAfterPostDebug(t *testing.T) {
	p, err := pool.New(1, floats(1), pool.WithDebug(true))
	require.NoError(t, err)
	b, _ := p.TryReceive()
	p.Post(b)
	assert.Panics(t, func() {
		_ = b.Payload()
	})
}

func TestMisuseRelease(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p, err := pool.New(1, floats(1), pool.WithDebug(false), pool.WithLogger(logger))
	require.NoError(t, err)
	other, err := pool.New(1, floats(1), pool.WithDebug(false), pool.WithLogger(logger))
	require.NoError(t, err)

	b, _ := p.TryReceive()
	other.Post(b)
	assert.Equal(t, pool.ErrForeignBuffer.Error(), hook.LastEntry().Message)
	p.Post(b)
	p.Post(b)
	assert.Equal(t, pool.ErrDoublePost.Error(), hook.LastEntry().Message)
	_ = b.Payload()
	assert.Equal(t, pool.ErrUseAfterPost.Error(), hook.LastEntry().Message)
	assert.Equal(t, 1, p.Free())
	assert.Equal(t, 1, other.Free())
}

func TestTraceClearedOnReceive(t *testing.T) {
	p, err := pool.New(1, floats(1))
	require.NoError(t, err)
	b, _ := p.TryReceive()
	b.Trace.Add("source", 1)
	p.Post(b)
	b, _ = p.TryReceive()
	assert.Equal(t, 0, b.Trace.Len())
}

func TestClose(t *testing.T) {
	p, err := pool.New(2, floats(1))
	require.NoError(t, err)
	b, _ := p.TryReceive()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		p.Post(b)
	}()
	assert.NoError(t, p.Close(context.Background()))
	wg.Wait()

	_, err = p.Receive(context.Background())
	assert.ErrorIs(t, err, pool.ErrClosed)
}

func TestCloseOutstanding(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p, err := pool.New(2, floats(1), pool.WithLogger(logger))
	require.NoError(t, err)
	_, _ = p.TryReceive()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = p.Close(ctx)
	assert.ErrorIs(t, err, pool.ErrOutstanding)
	assert.Equal(t, int64(1), hook.LastEntry().Data["outstanding"])
}

func TestFreeGauge(t *testing.T) {
	var free []int
	p, err := pool.New(2, floats(1), pool.WithFreeGauge(func(n int) { free = append(free, n) }))
	require.NoError(t, err)
	b, _ := p.TryReceive()
	p.Post(b)
	assert.Equal(t, []int{1, 2}, free)
}

func TestTrace(t *testing.T) {
	p, err := pool.New(2, floats(1))
	require.NoError(t, err)
	in, _ := p.TryReceive()
	out, _ := p.TryReceive()

	_, ok := in.Trace.First()
	assert.False(t, ok)
	in.Trace.Add("source", 100)
	in.Trace.Add("effect", 350)
	out.Trace.Add("stale", 1)
	out.Trace.Merge(&in.Trace)
	out.Trace.Add("output", 600)

	first, ok := out.Trace.First()
	assert.True(t, ok)
	assert.Equal(t, pool.Mark{Label: "source", At: 100}, first)
	assert.Equal(t, int64(500), out.Trace.Spent())
	var labels []string
	out.Trace.Each(func(label string, _ int64) { labels = append(labels, label) })
	assert.Equal(t, []string{"source", "effect", "output"}, labels)
	assert.Equal(t, 2, in.Trace.Len())
}
