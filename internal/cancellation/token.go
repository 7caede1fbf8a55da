// Package cancellation provides the cooperative stop flag shared by every
// stage of a run.
package cancellation

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// Token is a one-way flag observed through its context. Components receive
// Context() and check ctx.Err() at each file or directory entry.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	set    atomic.Bool
	once   sync.Once
}

// New creates a token derived from parent. Cancelling parent also sets it.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	t := &Token{ctx: ctx, cancel: cancel}
	context.AfterFunc(ctx, func() { t.set.Store(true) })
	return t
}

// Set raises the flag. Safe to call more than once and from any goroutine.
func (t *Token) Set() {
	t.once.Do(func() {
		t.set.Store(true)
		t.cancel()
	})
}

// IsSet reports whether the flag has been raised
func (t *Token) IsSet() bool {
	return t.set.Load()
}

// Context returns the context cancelled when the flag is raised
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is closed once the flag is raised
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// NotifyOnSignal raises the flag on the first of sigs. Every later signal
// is passed to repeat, which may be nil. The returned function stops
// signal delivery.
func (t *Token) NotifyOnSignal(repeat func(os.Signal), sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				if !t.IsSet() {
					t.Set()
					continue
				}
				if repeat != nil {
					repeat(sig)
				}
			}
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

// IsCancelled reports whether err stems from a raised flag
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
