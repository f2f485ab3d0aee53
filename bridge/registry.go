// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Kind identifies which registry a handler lives in.
type Kind int

const (
	KindGeneral Kind = iota
	KindPullStream
	KindPushStream
	KindRawStream
)

func (k Kind) String() string {
	switch k {
	case KindGeneral:
		return "general"
	case KindPullStream:
		return "pull_stream"
	case KindPushStream:
		return "push_stream"
	case KindRawStream:
		return "raw_stream"
	default:
		return "unknown"
	}
}

// registry holds one name space per handler kind. It is written during setup
// and read without locks once sealed.
type registry struct {
	general map[string]GeneralHandler
	pull    map[string]PullStream
	push    map[string]PushStream
	raw     map[string]RawStream
	sealed  atomic.Bool
}

func newRegistry() *registry {
	return &registry{
		general: make(map[string]GeneralHandler),
		pull:    make(map[string]PullStream),
		push:    make(map[string]PushStream),
		raw:     make(map[string]RawStream),
	}
}

func (r *registry) check(kind Kind, name string, taken bool) error {
	if r.sealed.Load() {
		return fmt.Errorf("registering %s %q: %w", kind, name, ErrRegistrySealed)
	}
	if name == "" {
		return fmt.Errorf("registering %s: empty name", kind)
	}
	if taken {
		return fmt.Errorf("registering %s %q: %w", kind, name, ErrNameInUse)
	}
	return nil
}

// APIInfo describes one registered handler.
type APIInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// MarshalText lets Kind render by name in JSON catalogues.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, c := range []Kind{KindGeneral, KindPullStream, KindPushStream, KindRawStream} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown API kind %q", text)
}

func (r *registry) list() []APIInfo {
	infos := make([]APIInfo, 0, len(r.general)+len(r.pull)+len(r.push)+len(r.raw))
	for name := range r.general {
		infos = append(infos, APIInfo{Name: name, Kind: KindGeneral})
	}
	for name := range r.pull {
		infos = append(infos, APIInfo{Name: name, Kind: KindPullStream})
	}
	for name := range r.push {
		infos = append(infos, APIInfo{Name: name, Kind: KindPushStream})
	}
	for name := range r.raw {
		infos = append(infos, APIInfo{Name: name, Kind: KindRawStream})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}
