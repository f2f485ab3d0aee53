// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark holds fixture APIs for measuring bridge dispatch and
// transport overhead.
package benchmark

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Query-farm/native-bridge/bridge"
)

// RegisterMethods registers the benchmark fixture APIs on the server.
func RegisterMethods(server *bridge.Server) error {
	generals := []struct {
		name string
		fn   bridge.GeneralFunc
	}{
		{"noop", noop},
		{"add", add},
		{"greet", greet},
		{"roundtrip_types", roundtripTypes},
		{"blob", blob},
	}
	for _, g := range generals {
		if err := server.RegisterGeneral(g.name, g.fn); err != nil {
			return err
		}
	}
	if err := server.RegisterPullStream("generate", &GenerateState{}); err != nil {
		return err
	}
	return server.RegisterRawStream("transform", bridge.RawStreamFunc(transform))
}

// Handler implementations

func noop(_ *bridge.CallContext, _ []bridge.Value) ([]bridge.Value, error) {
	return nil, nil
}

func number(args []bridge.Value, i int) float64 {
	if i >= len(args) {
		return 0
	}
	n, _ := args[i].AsNumber()
	return n
}

func add(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	return []bridge.Value{bridge.Number(number(args, 0) + number(args, 1))}, nil
}

func greet(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	name := "world"
	if len(args) > 0 {
		name, _ = args[0].AsString()
	}
	return []bridge.Value{bridge.String("Hello, " + name + "!")}, nil
}

// roundtripTypes echoes one argument of every kind in a canonical text form:
// "<string>:<number>:<sorted array>:<byte count>".
func roundtripTypes(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	if len(args) < 4 {
		return nil, bridge.NewAPIError("roundtrip_types needs 4 arguments, got %d", len(args))
	}
	s, _ := args[0].AsString()
	n, _ := args[1].AsNumber()

	tags := make([]string, 0, len(args[2].Elems()))
	for _, e := range args[2].Elems() {
		tags = append(tags, fmt.Sprint(e))
	}
	sort.Strings(tags)

	b, _ := args[3].AsBytes()
	return []bridge.Value{
		bridge.String(fmt.Sprintf("%s:%g:[%s]:%d", s, n, strings.Join(tags, ", "), len(b))),
	}, nil
}

// blob returns args[0] zero bytes through the side-store.
func blob(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
	n := int(number(args, 0))
	if n < 0 {
		return nil, bridge.NewAPIError("negative size")
	}
	return []bridge.Value{bridge.Bytes(make([]byte, n))}, nil
}
