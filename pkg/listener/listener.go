// Package listener is the generic channel-consumer loop lsmcloud's
// background workers are built from: one goroutine reading off a
// channel, a handler called per value, graceful drain on Stop. Shared by
// pkg/tailer (checkpoint batching) and usable by anything else with the
// same "one channel, one background consumer" shape.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var errListenerStopped = errors.New("listener stopped")

// Job is the minimal lifecycle any background worker exposes.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener drives handler over every value received on in until Stop is
// called, then runs stopHandler once the goroutine has exited.
//
// A handler error does not crash the process: unlike a bug in the
// handler's own logic (a programmer error, which should still panic),
// handler failures here are expected to be transient conditions the
// caller has already decided are safe to skip past (e.g. one
// checkpoint-persist write failing doesn't need to take the tailer
// down) — so they're logged and the loop continues rather than
// propagated. Callers that need a failure to surface in a different way
// should fold that into handler itself (e.g. record it for a later
// LastError()-style getter, as pkg/tailer's checkpoint handler does).
type Listener[T any] struct {
	handler     func(input T) error
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

// New returns a Listener over in. stopHandler, if given, runs once after
// the consuming goroutine has fully exited.
func New[T any](
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
	}
}

// Start begins consuming in the background.
func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			err := l.run(ctx)
			switch {
			case errors.Is(err, errListenerStopped):
				return
			case err != nil:
				slog.Warn("listener: handler error, continuing", "error", err)
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp := <-l.in:
		if err := l.handler(inp); err != nil {
			return fmt.Errorf("failed to handle input: %w", err)
		}
	case <-ctx.Done():
		// Drain values already queued before stopping.
		for {
			select {
			case inp := <-l.in:
				if err := l.handler(inp); err != nil {
					slog.Warn("listener: handler error while draining", "error", err)
				}
			default:
				return errListenerStopped
			}
		}
	}
	return nil
}

// Stop cancels the consuming goroutine, waits for it to drain, then runs
// stopHandler.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
