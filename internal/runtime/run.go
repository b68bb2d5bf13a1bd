// Package runtime provides the executor loop shared by all stages.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
)

type (
	// Executor executes a single stage invocation.
	Executor interface {
		Execute(context.Context) error
		Start(context.Context) error
		Flush(context.Context) error
	}
)

// PanicError is returned when executor panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it's an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Run calls Execute until it returns an error. Start hook is called before
// the first execution and Flush hook after the last one, even if the run
// failed. io.EOF and cancellation of ctx mean normal completion and nil is
// returned. Panics are recovered and returned as *PanicError.
func Run(ctx context.Context, e Executor) (err error) {
	if err := Protect(ctx, e.Start); err != nil {
		return fmt.Errorf("error starting stage: %w", err)
	}
	defer func() {
		// flush must complete even if run is cancelled
		if flushErr := Protect(context.WithoutCancel(ctx), e.Flush); flushErr != nil {
			err = errors.Join(err, fmt.Errorf("error flushing stage: %w", flushErr))
		}
	}()

	for err == nil {
		err = Protect(ctx, e.Execute)
	}
	if errors.Is(err, io.EOF) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	return fmt.Errorf("error running stage: %w", err)
}

// Protect calls fn and converts its panic into *PanicError.
func Protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
