// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"strings"
)

// CallType is the shape of an inbound call, decided from the path alone.
type CallType int

const (
	// CallGeneral is a one-shot call (or a raw stream under the same name).
	CallGeneral CallType = iota
	// CallPullStream is an open/nextValue/close action on a pull-stream.
	CallPullStream
	// CallPushStream is an open/connect/close action on a push-stream.
	CallPushStream
)

func (t CallType) String() string {
	switch t {
	case CallGeneral:
		return "general"
	case CallPullStream:
		return "pull_stream"
	case CallPushStream:
		return "push_stream"
	default:
		return "unknown"
	}
}

// Reserved path segments.
const (
	segPushStream = "pushStream"
	segOpen       = "open"
	segNextValue  = "nextValue"
	segClose      = "close"
	segConnect    = "connect"
)

// PullAction is one step of the pull-stream protocol.
type PullAction string

const (
	PullOpen  PullAction = segOpen
	PullNext  PullAction = segNextValue
	PullClose PullAction = segClose
)

// PushAction is one step of the push-stream protocol.
type PushAction string

const (
	PushOpen    PushAction = segOpen
	PushConnect PushAction = segConnect
	PushClose   PushAction = segClose
)

// Call is a routed request. For CallPushStream with PushConnect, StreamID
// names the push-stream API and Channel the channel to open; API is set to
// StreamID as well.
type Call struct {
	Type       CallType
	API        string
	PullAction PullAction
	PushAction PushAction
	StreamID   string
	Channel    string
}

// Action returns the pull or push action as a string, or "" for general calls.
func (c Call) Action() string {
	switch c.Type {
	case CallPullStream:
		return string(c.PullAction)
	case CallPushStream:
		return string(c.PushAction)
	}
	return ""
}

func (c Call) String() string {
	switch c.Type {
	case CallPullStream:
		return fmt.Sprintf("pull %s/%s", c.API, c.PullAction)
	case CallPushStream:
		if c.PushAction == PushConnect {
			return fmt.Sprintf("push %s/connect/%s", c.StreamID, c.Channel)
		}
		return fmt.Sprintf("push %s/%s", c.API, c.PushAction)
	}
	return "general " + c.API
}

// ParseCall routes a request path. A path containing a pushStream segment is
// only ever a push-stream call; otherwise a trailing open, nextValue or close
// marks a pull-stream action; anything else is a general call named by the
// last segment.
func ParseCall(path string) (Call, error) {
	segs := splitPath(path)
	n := len(segs)
	if n == 0 {
		return Call{}, ErrUnroutable
	}
	last := segs[n-1]

	if containsSegment(segs, segPushStream) {
		switch {
		case n >= 2 && segs[n-2] == segOpen && last != segOpen:
			return Call{Type: CallPushStream, API: last, PushAction: PushOpen}, nil
		case n >= 3 && segs[n-3] == segConnect:
			return Call{
				Type:       CallPushStream,
				API:        segs[n-2],
				PushAction: PushConnect,
				StreamID:   segs[n-2],
				Channel:    last,
			}, nil
		case n >= 2 && segs[n-2] == segClose && last != segClose:
			return Call{Type: CallPushStream, API: last, PushAction: PushClose}, nil
		}
		return Call{}, ErrUnroutable
	}

	if n >= 2 {
		switch last {
		case segOpen, segNextValue, segClose:
			return Call{Type: CallPullStream, API: segs[n-2], PullAction: PullAction(last)}, nil
		}
	}

	return Call{Type: CallGeneral, API: last}, nil
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

func containsSegment(segs []string, want string) bool {
	for _, s := range segs {
		if s == want {
			return true
		}
	}
	return false
}
