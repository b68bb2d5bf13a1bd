package runtime_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/rtmix/internal/runtime"
)

type executor struct {
	start   func(context.Context) error
	flush   func(context.Context) error
	limit   int
	calls   int
	flushed bool
	execute func(context.Context, int) error
}

func (e *executor) Execute(ctx context.Context) error {
	e.calls++
	if e.execute != nil {
		return e.execute(ctx, e.calls)
	}
	if e.calls == e.limit {
		return io.EOF
	}
	return nil
}

func (e *executor) Start(ctx context.Context) error {
	if e.start == nil {
		return nil
	}
	return e.start(ctx)
}

func (e *executor) Flush(ctx context.Context) error {
	e.flushed = true
	if e.flush == nil {
		return nil
	}
	return e.flush(ctx)
}

func TestRun(t *testing.T) {
	errTest := errors.New("test")
	tests := []struct {
		description string
		e           *executor
		err         error
		calls       int
		flushed     bool
	}{
		{
			description: "eof",
			e:           &executor{limit: 10},
			calls:       10,
			flushed:     true,
		},
		{
			description: "start error",
			e: &executor{
				start: func(context.Context) error { return errTest },
			},
			err: errTest,
		},
		{
			description: "execute error",
			e: &executor{
				execute: func(_ context.Context, call int) error {
					if call == 3 {
						return errTest
					}
					return nil
				},
			},
			err:     errTest,
			calls:   3,
			flushed: true,
		},
		{
			description: "flush error",
			e: &executor{
				limit: 1,
				flush: func(context.Context) error { return errTest },
			},
			err:     errTest,
			calls:   1,
			flushed: true,
		},
		{
			description: "panic",
			e: &executor{
				execute: func(context.Context, int) error { panic(errTest) },
			},
			err:     errTest,
			calls:   1,
			flushed: true,
		},
	}
	for _, test := range tests {
		err := runtime.Run(context.Background(), test.e)
		if test.err != nil {
			assert.ErrorIs(t, err, test.err, test.description)
		} else {
			assert.NoError(t, err, test.description)
		}
		assert.Equal(t, test.calls, test.e.calls, test.description)
		assert.Equal(t, test.flushed, test.e.flushed, test.description)
	}
}

func TestRunPanicValue(t *testing.T) {
	err := runtime.Run(context.Background(), &executor{
		execute: func(context.Context, int) error { panic("boom") },
	})
	var p *runtime.PanicError
	assert.ErrorAs(t, err, &p)
	assert.Equal(t, "boom", p.Value)
	assert.NotEmpty(t, p.Stack)
}

func TestRunCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := &executor{
		execute: func(ctx context.Context, call int) error {
			if call == 5 {
				cancel()
			}
			return ctx.Err()
		},
		// flush context is never cancelled
		flush: func(ctx context.Context) error { return ctx.Err() },
	}
	assert.NoError(t, runtime.Run(ctx, e))
	assert.Equal(t, 5, e.calls)
	assert.True(t, e.flushed)
}
