package chat

import (
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
)

// Reply is a streamed response. It is pulled one fragment at a time with
// Next or ranged over with All, and can be consumed only once.
//
// Every fragment handed out is buffered. When the stream drains, is stopped,
// is closed or fails, the buffered text is committed exactly once: for chat
// replies that appends the assistant message to the conversation history.
type Reply struct {
	next          func() (string, error)
	closeBody     func() error
	finish        func(r *Reply, text string)
	interruptible bool

	stopped atomic.Bool

	mu   sync.Mutex
	buf  strings.Builder
	done bool
}

func newReply(next func() (string, error), closeBody func() error, interruptible bool, finish func(*Reply, string)) *Reply {
	return &Reply{
		next:          next,
		closeBody:     closeBody,
		finish:        finish,
		interruptible: interruptible,
	}
}

// Next returns the next non-empty fragment. It returns io.EOF once the
// reply has finished for any reason, including Stop and Close.
func (r *Reply) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.done {
			return "", io.EOF
		}
		if r.stopped.Load() {
			r.end()
			return "", io.EOF
		}

		frag, err := r.next()
		if err == io.EOF {
			r.end()
			return "", io.EOF
		}
		if err != nil {
			r.end()
			return "", err
		}
		if frag == "" {
			continue
		}
		r.buf.WriteString(frag)
		return frag, nil
	}
}

// All returns an iterator over the remaining fragments. Breaking out of the
// loop closes the reply. A stream error is yielded once as the last pair.
func (r *Reply) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			frag, err := r.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(frag, nil) {
				r.Close()
				return
			}
		}
	}
}

// Stop asks the reply to end at the next pull. It is safe to call from
// another goroutine and does nothing on a reply that cannot be interrupted.
func (r *Reply) Stop() {
	if !r.interruptible {
		return
	}
	r.stopped.Store(true)
}

// Stopped reports whether Stop took effect.
func (r *Reply) Stopped() bool {
	return r.stopped.Load()
}

// Close ends the reply, committing whatever was received. It is idempotent.
func (r *Reply) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		r.end()
	}
	return nil
}

// Text returns the text received so far.
func (r *Reply) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// end must be called with r.mu held.
func (r *Reply) end() {
	r.done = true
	if r.closeBody != nil {
		r.closeBody()
	}
	if r.finish != nil {
		r.finish(r, r.buf.String())
	}
}
