// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"log/slog"
)

// CallContext provides request-scoped information to handlers.
type CallContext struct {
	// Ctx is the request-scoped context. It is cancelled when the browser
	// goes away, but handlers may keep replying to a Responder regardless.
	Ctx context.Context
	// RequestID identifies the inbound request in logs and traces.
	RequestID string
	// API is the registered name being invoked.
	API string
	// Kind is the registry the handler was found in.
	Kind Kind
	// Call is the routed request.
	Call Call
	// Logger is pre-populated with api, kind and request_id attributes.
	Logger *slog.Logger

	server *Server
}

// NewChannel registers a push channel with id "<API>-<name>". Peer data
// received on the paired connection is passed to onPeerData, which may be nil.
func (c *CallContext) NewChannel(name string, onPeerData PeerDataFunc) (*Channel, error) {
	ch := newChannel(c.API, name, onPeerData, c.server.logger)
	if err := c.server.channels.add(ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Channels returns the live channels registered under this call's API.
func (c *CallContext) Channels() []*Channel {
	return c.server.channels.byAPI(c.API)
}

// SocketURL returns the URL of the persistent transport, or "" when none is
// attached.
func (c *CallContext) SocketURL() string {
	return c.server.SocketURL()
}
