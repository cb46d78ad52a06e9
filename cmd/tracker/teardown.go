package main

import (
	"context"
	"errors"
	"fmt"
)

// teardown stops started components in reverse start order.
type teardown []func(context.Context) error

func (t *teardown) add(stop func(context.Context) error) {
	*t = append(*t, stop)
}

func (t teardown) run(ctx context.Context) error {
	var errs []error
	for i := len(t) - 1; i >= 0; i-- {
		if err := t[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// abort stops everything in t and returns cause joined with any stop errors.
func (t teardown) abort(cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(cause, t.run(ctx))
}

type startable interface {
	recorder
	Start(ctx context.Context) error
}

// startAll starts ws in order. If one fails, those already running are
// stopped again.
func startAll(ctx context.Context, ws []startable) ([]recorder, error) {
	var (
		started []recorder
		undo    teardown
	)
	for _, w := range ws {
		if err := w.Start(ctx); err != nil {
			return nil, undo.abort(fmt.Errorf("start writer: %w", err))
		}
		undo.add(w.Stop)
		started = append(started, w)
	}
	return started, nil
}
