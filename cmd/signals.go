package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/thatcatdev/tether/internal/chat"
)

// interrupter routes Ctrl+C: while an interruptible reply is streaming it
// stops the reply, otherwise it cancels the command.
type interrupter struct {
	streaming atomic.Bool
	conv      atomic.Pointer[chat.Conversation]
}

// interrupt stops the streaming reply and reports whether it did.
func (in *interrupter) interrupt() bool {
	if !in.streaming.Load() {
		return false
	}
	c := in.conv.Load()
	if c == nil || !c.Interruptible() {
		return false
	}
	c.Stop()
	return true
}

// watchSignals returns a context canceled by SIGTERM, or by SIGINT unless
// it stopped a streaming reply. The returned func releases the signal
// handler.
func watchSignals(parent context.Context) (context.Context, *interrupter, func()) {
	ctx, cancel := context.WithCancel(parent)
	in := &interrupter{}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == os.Interrupt && in.interrupt() {
					continue
				}
				cancel()
				return
			}
		}
	}()

	return ctx, in, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
