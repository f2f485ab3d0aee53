// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/Query-farm/native-bridge/bridge"
)

var errGenerateNotOpen = bridge.NewAPIError("generate not open")

// GenerateState is a pull-stream yielding {i, value} with value = i * 10,
// Count times after open(Count); afterwards nextValue returns no values.
type GenerateState struct {
	Count   int
	Current int
	open    bool
}

// Open implements bridge.PullStream.
func (s *GenerateState) Open(_ *bridge.CallContext, args []bridge.Value) error {
	s.Count = int(number(args, 0))
	s.Current = 0
	s.open = true
	return nil
}

// Next implements bridge.PullStream.
func (s *GenerateState) Next(_ *bridge.CallContext, _ []bridge.Value) ([]bridge.Value, error) {
	if !s.open {
		return nil, errGenerateNotOpen
	}
	if s.Current >= s.Count {
		return nil, nil
	}
	idx := float64(s.Current)
	s.Current++
	return []bridge.Value{bridge.Number(idx), bridge.Number(idx * 10)}, nil
}

// Close implements bridge.PullStream.
func (s *GenerateState) Close(_ *bridge.CallContext) {
	s.open = false
}

// transform streams args[0] little-endian float64 values 0..n-1, each scaled
// by args[1].
func transform(_ *bridge.CallContext, args []bridge.Value) (io.ReadCloser, error) {
	n := int(number(args, 0))
	factor := number(args, 1)
	if n < 0 {
		return nil, bridge.NewAPIError("negative count")
	}

	buf := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(float64(i)*factor))
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}
