package session

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// ShutdownFlag is the cancellation token shared by the run loops. It moves
// from unset to set once and never back.
type ShutdownFlag struct {
	set atomic.Bool
}

func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{}
}

// Set raises the flag and reports whether this call did it.
func (f *ShutdownFlag) Set() bool {
	return f.set.CompareAndSwap(false, true)
}

func (f *ShutdownFlag) IsSet() bool {
	return f.set.Load()
}

// BindContext raises the flag when ctx is done. The returned func detaches
// the binding.
func (f *ShutdownFlag) BindContext(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() { f.Set() })
}

// NotifyOnSignal raises the flag on SIGINT or SIGTERM. Call it once, before
// initialization; the returned func restores default signal handling.
func NotifyOnSignal(f *ShutdownFlag) (stop func()) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	unbind := f.BindContext(ctx)
	return func() {
		unbind()
		cancel()
	}
}
