package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrExecutableNotFound is returned when the daemon binary cannot be launched.
var ErrExecutableNotFound = errors.New("ollama executable not found")

// InstallHint is appended to ErrExecutableNotFound errors.
const InstallHint = "install ollama from https://ollama.com/download"

// ConnErrorKind distinguishes the two ways the daemon can be unreachable.
type ConnErrorKind int

const (
	// Refused means nothing accepted the connection.
	Refused ConnErrorKind = iota
	// ReadInterrupted means the connection was accepted but dropped mid-exchange.
	ReadInterrupted
)

func (k ConnErrorKind) String() string {
	switch k {
	case Refused:
		return "connection refused"
	case ReadInterrupted:
		return "read interrupted"
	default:
		return fmt.Sprintf("ConnErrorKind(%d)", int(k))
	}
}

// ConnError wraps a transport failure talking to the daemon.
type ConnError struct {
	Kind ConnErrorKind
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("ollama daemon %s: %v", e.Kind, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// StatusError is returned when the daemon answers with a non-200 status
// or reports an error inline in a stream.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("ollama: %s", e.Message)
	}
	return fmt.Sprintf("ollama returned %d: %s", e.StatusCode, e.Message)
}

// IsUnreachable reports whether err means the daemon is not (yet) serving.
// Refused and read-interrupted connections are treated the same.
func IsUnreachable(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

// classify wraps transport errors from http.Client.Do or a body read in a
// ConnError. Context cancellation and non-network errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &ConnError{Kind: Refused, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return &ConnError{Kind: Refused, Err: err}
		}
		return &ConnError{Kind: ReadInterrupted, Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return &ConnError{Kind: ReadInterrupted, Err: err}
	}
	return err
}
