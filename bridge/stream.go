// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import "io"

// PullStream is a server-side iterator driven by three independent calls.
// The sequence is non-restartable: every Next advances state owned by the
// handler. The browser is expected to call open, nextValue and close strictly
// in order; a Next before Open or after Close is the handler's to reject,
// typically by returning an error.
type PullStream interface {
	// Open prepares the sequence, for example by starting a capture pipeline.
	Open(call *CallContext, args []Value) error
	// Next produces the next value or values.
	Next(call *CallContext, args []Value) ([]Value, error)
	// Close releases resources. It should be idempotent.
	Close(call *CallContext)
}

// PushStream delivers values to the browser over channels paired with
// WebSocket connections on the persistent transport.
type PushStream interface {
	// OpenStream starts the underlying resource.
	OpenStream(call *CallContext, args []Value) error
	// OpenChannel creates a channel, normally with call.NewChannel(name, ...).
	// The bridge returns the socket URL and the channel id to the browser.
	OpenChannel(call *CallContext, args []Value, name string) (*Channel, error)
	// Close stops the API. Channels of this API still registered when Close
	// returns are closed by the bridge.
	Close(call *CallContext)
}

// RawStream answers a general call with a streamed byte body instead of a
// JSON envelope. OpenStream runs on the serial executor; the returned reader
// is drained on the request goroutine and closed afterwards.
type RawStream interface {
	OpenStream(call *CallContext, args []Value) (io.ReadCloser, error)
}

// RawStreamFunc adapts a function to a RawStream.
type RawStreamFunc func(call *CallContext, args []Value) (io.ReadCloser, error)

// OpenStream implements RawStream.
func (f RawStreamFunc) OpenStream(call *CallContext, args []Value) (io.ReadCloser, error) {
	return f(call, args)
}
