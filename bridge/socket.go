// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultSocketWriteTimeout = 10 * time.Second
	maxPeerMessageSize        = 16 << 20
)

// SocketServer is the persistent transport for push-streams. Each connection
// names its channel in its first message; afterwards the channel's pushes are
// written to it and its inbound messages are handed to the channel.
type SocketServer struct {
	server       *Server
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu      sync.Mutex
	url     string
	httpSrv *http.Server
	conns   map[*wsConn]struct{}
}

// NewSocketServer creates the persistent transport for server.
func NewSocketServer(server *Server) *SocketServer {
	return &SocketServer{
		server: server,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			// The listener is loopback-only and the embedded browser's origin
			// varies by platform.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: defaultSocketWriteTimeout,
		conns:        make(map[*wsConn]struct{}),
	}
}

// SetWriteTimeout bounds each push. Zero disables the deadline.
func (s *SocketServer) SetWriteTimeout(d time.Duration) {
	s.writeTimeout = d
}

// URL returns the ws:// URL handed out by connect calls.
func (s *SocketServer) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Serve accepts WebSocket connections on l until Shutdown is called. It
// publishes the listener URL to the dispatcher.
func (s *SocketServer) Serve(l net.Listener) error {
	url := "ws://" + l.Addr().String()
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.url = url
	s.httpSrv = srv
	s.mu.Unlock()
	s.server.SetSocketURL(url)

	s.server.logger.Info("socket transport listening", "url", url)
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes the open ones. Channels
// stay registered; their pushes return ErrNotPaired.
func (s *SocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range conns {
		c.close()
	}
	return err
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (s *SocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.server.logger.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(maxPeerMessageSize)

	c := &wsConn{ws: ws, writeTimeout: s.writeTimeout}
	s.track(c)
	defer s.untrack(c)
	defer c.close()

	s.serveConn(c)
}

func (s *SocketServer) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *SocketServer) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *SocketServer) serveConn(c *wsConn) {
	_, first, err := c.ws.ReadMessage()
	if err != nil {
		return
	}
	id := string(first)
	logger := s.server.logger.With("channel", id)

	ch, ok := s.server.channels.Lookup(id)
	if !ok {
		logger.Debug("handshake names no live channel; connection left inert")
		c.discard()
		return
	}
	if err := c.pair(ch); err != nil {
		logger.Debug("pairing failed", "err", err)
		c.discard()
		return
	}
	defer ch.detach(c)
	logger.Debug("channel paired", "remote_addr", c.ws.RemoteAddr().String())

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("connection dropped", "err", err)
			}
			return
		}
		ch.deliver(data)
	}
}

// wsConn is the frameSink of one WebSocket connection. Writes are serialised
// by mu; a message started with final=false stays open in pending until a
// final write of the same frame kind.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu          sync.Mutex
	pending     io.WriteCloser
	pendingKind frameKind
	closed      bool
}

func messageType(kind frameKind) int {
	if kind == frameText {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

// pair attaches c to ch and sends the READY message. The write lock is held
// across both steps so no push can overtake READY.
func (c *wsConn) pair(ch *Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, err := ch.attach(c)
	if err != nil {
		return err
	}
	if prev != nil {
		go prev.close()
	}
	if err := c.writeLocked(frameText, []byte(ReadyMessage), true); err != nil {
		ch.detach(c)
		return err
	}
	return nil
}

// discard reads and drops messages until the peer goes away.
func (c *wsConn) discard() {
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return
		}
	}
}

func (c *wsConn) writeFrame(kind frameKind, data []byte, final bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(kind, data, final)
}

func (c *wsConn) writeLocked(kind frameKind, data []byte, final bool) error {
	if c.closed {
		return ErrChannelClosed
	}
	if c.pending != nil && c.pendingKind != kind {
		return ErrMessageInProgress
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	if c.pending == nil {
		if final {
			return c.ws.WriteMessage(messageType(kind), data)
		}
		w, err := c.ws.NextWriter(messageType(kind))
		if err != nil {
			return err
		}
		c.pending, c.pendingKind = w, kind
	}

	if _, err := c.pending.Write(data); err != nil {
		c.pending = nil
		return err
	}
	if final {
		err := c.pending.Close()
		c.pending = nil
		return err
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.pending != nil {
		_ = c.pending.Close()
		c.pending = nil
	}
	c.mu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.ws.Close()
}
