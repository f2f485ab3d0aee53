// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// PeerDataFunc receives frames the browser sends on a paired connection.
// It runs on that connection's read goroutine, not on the serial executor.
type PeerDataFunc func(ch *Channel, data []byte)

type frameKind int

const (
	frameBinary frameKind = iota
	frameText
)

// frameSink is the outbound half of a paired connection.
type frameSink interface {
	writeFrame(kind frameKind, data []byte, final bool) error
	close()
}

// Channel is the delivery endpoint of a push-stream. It is paired with at
// most one WebSocket connection at a time.
type Channel struct {
	id         string
	api        string
	name       string
	onPeerData PeerDataFunc
	logger     *slog.Logger
	registry   *ChannelRegistry

	mu     sync.Mutex
	sink   frameSink
	closed bool
}

// ChannelID returns the id under which a channel of api named name is
// registered.
func ChannelID(api, name string) string {
	return api + "-" + name
}

func newChannel(api, name string, onPeerData PeerDataFunc, logger *slog.Logger) *Channel {
	id := ChannelID(api, name)
	return &Channel{
		id:         id,
		api:        api,
		name:       name,
		onPeerData: onPeerData,
		logger:     logger.With("channel", id),
	}
}

// ID returns "<api>-<name>".
func (c *Channel) ID() string { return c.id }

// API returns the push-stream API that owns the channel.
func (c *Channel) API() string { return c.api }

// Name returns the channel name chosen by the browser.
func (c *Channel) Name() string { return c.name }

// Paired reports whether a connection is currently attached.
func (c *Channel) Paired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink != nil
}

// SendData pushes a binary frame. When final is false the WebSocket message
// stays open and the next push continues it, so a width, a height and a
// pixel buffer can travel as one logical message.
func (c *Channel) SendData(data []byte, final bool) error {
	return c.send(frameBinary, data, final)
}

// SendText pushes a text frame, with the same framing rules as SendData.
func (c *Channel) SendText(text string, final bool) error {
	return c.send(frameText, []byte(text), final)
}

func (c *Channel) send(kind frameKind, data []byte, final bool) error {
	c.mu.Lock()
	sink, closed := c.sink, c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	if sink == nil {
		return ErrNotPaired
	}
	return sink.writeFrame(kind, data, final)
}

// Close unregisters the channel and closes its connection, if any.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sink := c.sink
	c.sink = nil
	c.mu.Unlock()

	if c.registry != nil {
		c.registry.remove(c)
	}
	if sink != nil {
		sink.close()
	}
}

// attach pairs sink with the channel and returns the sink it replaced.
func (c *Channel) attach(sink frameSink) (frameSink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	prev := c.sink
	c.sink = sink
	return prev, nil
}

// detach unpairs sink if it is still the current one.
func (c *Channel) detach(sink frameSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == sink {
		c.sink = nil
	}
}

func (c *Channel) deliver(data []byte) {
	if c.onPeerData == nil {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			c.logger.Error("peer data handler panic", "err", rv)
		}
	}()
	c.onPeerData(c, data)
}

// ChannelRegistry maps live channel ids to channels. It is written from call
// handling and read from the persistent transport.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewChannelRegistry returns an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]*Channel)}
}

func (r *ChannelRegistry) add(ch *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[ch.id]; ok {
		return fmt.Errorf("channel %q: %w", ch.id, ErrChannelExists)
	}
	ch.registry = r
	r.channels[ch.id] = ch
	return nil
}

// Lookup returns the live channel with the given id.
func (r *ChannelRegistry) Lookup(id string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

func (r *ChannelRegistry) remove(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels[ch.id] == ch {
		delete(r.channels, ch.id)
	}
}

func (r *ChannelRegistry) byAPI(api string) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Channel
	for _, ch := range r.channels {
		if ch.api == api {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// closeAPI closes every channel owned by api and reports how many there were.
func (r *ChannelRegistry) closeAPI(api string) int {
	chans := r.byAPI(api)
	for _, ch := range chans {
		ch.Close()
	}
	return len(chans)
}

func (r *ChannelRegistry) closeAll() {
	r.mu.RLock()
	chans := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.RUnlock()
	for _, ch := range chans {
		ch.Close()
	}
}

// Len reports the number of live channels.
func (r *ChannelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
