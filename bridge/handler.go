// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import "sync"

// GeneralHandler serves one-shot calls. Call runs on the serial executor and
// should return promptly; the outcome is delivered through resp, possibly
// later and from another goroutine.
type GeneralHandler interface {
	Call(call *CallContext, args []Value, resp *Responder)
}

// GeneralFunc adapts a synchronous function to a GeneralHandler.
type GeneralFunc func(call *CallContext, args []Value) ([]Value, error)

// Call implements GeneralHandler.
func (f GeneralFunc) Call(call *CallContext, args []Value, resp *Responder) {
	values, err := f(call, args)
	if err != nil {
		resp.Fail(err)
		return
	}
	resp.Reply(values...)
}

// AsyncFunc adapts a function that completes resp on its own schedule.
type AsyncFunc func(call *CallContext, args []Value, resp *Responder)

// Call implements GeneralHandler.
func (f AsyncFunc) Call(call *CallContext, args []Value, resp *Responder) {
	f(call, args, resp)
}

// Responder carries the single outcome of a call. Only the first Reply or
// Fail takes effect; later ones report false.
type Responder struct {
	once   sync.Once
	done   chan struct{}
	values []Value
	err    error
}

// NewResponder returns an incomplete Responder. The dispatcher creates one
// per call; handlers only need it to be driven outside a Server.
func NewResponder() *Responder {
	return &Responder{done: make(chan struct{})}
}

// Reply completes the call successfully.
func (r *Responder) Reply(values ...Value) bool {
	return r.complete(values, nil)
}

// Fail completes the call with an error. A nil error counts as an empty reply.
func (r *Responder) Fail(err error) bool {
	return r.complete(nil, err)
}

func (r *Responder) complete(values []Value, err error) bool {
	completed := false
	r.once.Do(func() {
		r.values = values
		r.err = err
		completed = true
		close(r.done)
	})
	return completed
}

// Done is closed once the call has an outcome.
func (r *Responder) Done() <-chan struct{} {
	return r.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (r *Responder) Result() ([]Value, error) {
	return r.values, r.err
}
