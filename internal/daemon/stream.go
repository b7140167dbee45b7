package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/thatcatdev/tether/pkg/api"
)

// Stream reads newline-delimited JSON values from a streaming daemon
// response. Decoding happens on the caller's goroutine in Next, so nothing
// is read from the connection until the caller asks for it.
type Stream[T any] struct {
	body   io.ReadCloser
	dec    *json.Decoder
	closed bool
}

func openStream[T any](ctx context.Context, c *Client, path string, reqBody any) (*Stream[T], error) {
	resp, err := c.send(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, err
	}
	return newStream[T](resp.Body), nil
}

func newStream[T any](body io.ReadCloser) *Stream[T] {
	return &Stream[T]{body: body, dec: json.NewDecoder(body)}
}

// Next decodes the next value. It returns io.EOF once the body is exhausted
// or the stream was closed. An inline {"error": "..."} line is returned as
// a *StatusError.
func (s *Stream[T]) Next() (T, error) {
	var zero T
	if s.closed {
		return zero, io.EOF
	}

	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		if err == io.EOF {
			s.Close()
			return zero, io.EOF
		}
		if cerr := classify(err); cerr != err {
			return zero, cerr
		}
		return zero, fmt.Errorf("decode stream: %w", err)
	}

	if bytes.Contains(raw, []byte(`"error"`)) {
		var apiErr api.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return zero, &StatusError{Message: apiErr.Error}
		}
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("decode stream: %w", err)
	}
	return v, nil
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *Stream[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
