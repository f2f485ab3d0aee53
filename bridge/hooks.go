// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import "context"

// DispatchHook provides observability callpoints around API dispatch.
// Implementations must be safe for concurrent use: hooks run on request
// goroutines, not on the serial executor.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks.
type DispatchInfo struct {
	API               string            // registered name, or the raw name for misses
	Kind              Kind              // registry the handler came from
	CallType          CallType          // shape decided by the router
	Action            string            // pull/push action, "" for general calls
	RequestID         string            // per-request identifier
	TransportMetadata map[string]string // HTTP headers plus remote_addr and user_agent
}

// CallStatistics holds per-call counters.
type CallStatistics struct {
	InputArgs    int64
	OutputValues int64
	InputBytes   int64
	OutputBytes  int64
	Streamed     bool
}

// RecordInput records decoded arguments.
func (s *CallStatistics) RecordInput(args []Value) {
	s.InputArgs += int64(len(args))
	s.InputBytes += valuesSize(args)
}

// RecordOutput records handler results.
func (s *CallStatistics) RecordOutput(values []Value) {
	s.OutputValues += int64(len(values))
	s.OutputBytes += valuesSize(values)
}

func valuesSize(values []Value) int64 {
	var total int64
	for _, v := range values {
		switch v.Type() {
		case ValueBytes:
			total += int64(len(v.Blob()))
		case ValueString:
			total += int64(len(v.Str()))
		case ValueNumber:
			total += 8
		}
	}
	return total
}
