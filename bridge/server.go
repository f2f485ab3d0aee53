// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Server is the dispatcher. It owns the handler registries, the byte
// side-store, the push channel registry and the serial executor every
// handler runs on.
type Server struct {
	reg      *registry
	store    *ByteStore
	channels *ChannelRegistry
	exec     *executor
	hooks    []DispatchHook
	logger   *slog.Logger
	serverID string

	mu        sync.RWMutex
	socketURL string

	closeOnce sync.Once
}

// NewServer creates a dispatcher with empty registries.
func NewServer() *Server {
	return &Server{
		reg:      newRegistry(),
		store:    NewByteStore(),
		channels: NewChannelRegistry(),
		exec:     newExecutor(),
		logger:   slog.Default(),
	}
}

// SetServerID sets an identifier included in logs and the describe catalogue.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// ServerID returns the identifier set by SetServerID.
func (s *Server) ServerID() string {
	return s.serverID
}

// SetLogger replaces the logger. A nil logger restores slog.Default().
func (s *Server) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	s.logger = l
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetDispatchHook replaces all hooks with hook.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.hooks = []DispatchHook{hook}
}

// AddDispatchHook appends a hook. Hooks start in order and end in reverse.
func (s *Server) AddDispatchHook(hook DispatchHook) {
	s.hooks = append(s.hooks, hook)
}

// SetSocketURL records the URL of the persistent transport returned by
// connect calls.
func (s *Server) SetSocketURL(u string) {
	s.mu.Lock()
	s.socketURL = u
	s.mu.Unlock()
}

// SocketURL returns the URL set by SetSocketURL.
func (s *Server) SocketURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.socketURL
}

// Store returns the byte side-store.
func (s *Server) Store() *ByteStore {
	return s.store
}

// Channels returns the live push channel registry.
func (s *Server) Channels() *ChannelRegistry {
	return s.channels
}

// RegisterGeneral registers a one-shot handler.
func (s *Server) RegisterGeneral(name string, h GeneralHandler) error {
	_, taken := s.reg.general[name]
	if err := s.reg.check(KindGeneral, name, taken); err != nil {
		return err
	}
	s.reg.general[name] = h
	return nil
}

// RegisterPullStream registers a pull-stream handler.
func (s *Server) RegisterPullStream(name string, h PullStream) error {
	_, taken := s.reg.pull[name]
	if err := s.reg.check(KindPullStream, name, taken); err != nil {
		return err
	}
	s.reg.pull[name] = h
	return nil
}

// RegisterPushStream registers a push-stream handler.
func (s *Server) RegisterPushStream(name string, h PushStream) error {
	_, taken := s.reg.push[name]
	if err := s.reg.check(KindPushStream, name, taken); err != nil {
		return err
	}
	s.reg.push[name] = h
	return nil
}

// RegisterRawStream registers a raw byte-stream handler. It is reached
// through a general call when no general handler has the same name.
func (s *Server) RegisterRawStream(name string, h RawStream) error {
	_, taken := s.reg.raw[name]
	if err := s.reg.check(KindRawStream, name, taken); err != nil {
		return err
	}
	s.reg.raw[name] = h
	return nil
}

// Seal forbids further registration. Transports call it before serving.
func (s *Server) Seal() {
	s.reg.sealed.Store(true)
}

// APIs lists every registered handler sorted by name, then kind.
func (s *Server) APIs() []APIInfo {
	return s.reg.list()
}

// Close stops the executor and closes every live channel. Calls in flight
// on the executor finish first; later dispatches fail with ErrServerClosed.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.exec.close()
		s.channels.closeAll()
	})
}

// Request is one routed, decoded call.
type Request struct {
	Call      Call
	Args      []Value
	RequestID string
	Metadata  map[string]string
}

// Outcome is the result of a dispatch. Exactly one of Err, Stream or Values
// is meaningful; Values may be empty on success.
type Outcome struct {
	Values []Value
	Stream io.ReadCloser
	Err    error
}

// Dispatch resolves req against the registries, runs the handler on the
// serial executor and waits for its outcome. There is no timeout: the wait
// ends when the handler replies or ctx is cancelled.
func (s *Server) Dispatch(ctx context.Context, req *Request) Outcome {
	kind, ok := s.resolve(req.Call)
	if !ok {
		s.logger.Debug("no such API", "call", req.Call.String(), "request_id", req.RequestID)
		return Outcome{Err: ErrNoSuchAPI}
	}

	info := DispatchInfo{
		API:               req.Call.API,
		Kind:              kind,
		CallType:          req.Call.Type,
		Action:            req.Call.Action(),
		RequestID:         req.RequestID,
		TransportMetadata: req.Metadata,
	}
	stats := &CallStatistics{}
	stats.RecordInput(req.Args)

	ctx, tokens := s.startHooks(ctx, info)

	callCtx := &CallContext{
		Ctx:       ctx,
		RequestID: req.RequestID,
		API:       req.Call.API,
		Kind:      kind,
		Call:      req.Call,
		Logger: s.logger.With(
			"api", req.Call.API,
			"kind", kind.String(),
			"request_id", req.RequestID,
		),
		server: s,
	}

	out := s.invoke(ctx, callCtx, kind, req.Args)
	if out.Err == nil {
		stats.RecordOutput(out.Values)
		stats.Streamed = out.Stream != nil
	}

	s.endHooks(ctx, tokens, info, stats, out.Err)
	return out
}

func (s *Server) resolve(call Call) (Kind, bool) {
	switch call.Type {
	case CallGeneral:
		if _, ok := s.reg.general[call.API]; ok {
			return KindGeneral, true
		}
		if _, ok := s.reg.raw[call.API]; ok {
			return KindRawStream, true
		}
	case CallPullStream:
		if _, ok := s.reg.pull[call.API]; ok {
			return KindPullStream, true
		}
	case CallPushStream:
		if _, ok := s.reg.push[call.API]; ok {
			return KindPushStream, true
		}
	}
	return 0, false
}

// invoke runs the handler on the executor and waits for the responder.
func (s *Server) invoke(ctx context.Context, call *CallContext, kind Kind, args []Value) Outcome {
	resp := NewResponder()
	var stream io.ReadCloser

	job := func() {
		defer func() {
			if rv := recover(); rv != nil {
				call.Logger.Error("handler panic", "err", rv, "stack", string(debug.Stack()))
				resp.Fail(NewAPIError("%v", rv))
			}
		}()
		switch kind {
		case KindGeneral:
			s.reg.general[call.API].Call(call, args, resp)
		case KindRawStream:
			rc, err := s.reg.raw[call.API].OpenStream(call, args)
			if err != nil {
				resp.Fail(err)
				return
			}
			stream = rc
			if !resp.Reply() && rc != nil {
				_ = rc.Close()
			}
		case KindPullStream:
			s.invokePull(call, args, resp)
		case KindPushStream:
			s.invokePush(call, args, resp)
		}
	}

	if err := s.exec.submit(ctx, job); err != nil {
		return Outcome{Err: err}
	}

	select {
	case <-resp.Done():
	case <-ctx.Done():
		go func() {
			<-resp.Done()
			if stream != nil {
				_ = stream.Close()
			}
		}()
		return Outcome{Err: ctx.Err()}
	}

	values, err := resp.Result()
	if err != nil {
		return Outcome{Err: err}
	}
	if kind == KindRawStream {
		if stream == nil {
			return Outcome{Err: fmt.Errorf("raw stream %q returned no reader", call.API)}
		}
		return Outcome{Stream: stream}
	}
	return Outcome{Values: values}
}

func (s *Server) invokePull(call *CallContext, args []Value, resp *Responder) {
	h := s.reg.pull[call.API]
	switch call.Call.PullAction {
	case PullOpen:
		resp.Fail(h.Open(call, args))
	case PullNext:
		values, err := h.Next(call, args)
		if err != nil {
			resp.Fail(err)
			return
		}
		resp.Reply(values...)
	case PullClose:
		h.Close(call)
		resp.Reply()
	default:
		resp.Fail(ErrUnroutable)
	}
}

func (s *Server) invokePush(call *CallContext, args []Value, resp *Responder) {
	h := s.reg.push[call.API]
	switch call.Call.PushAction {
	case PushOpen:
		resp.Fail(h.OpenStream(call, args))
	case PushConnect:
		ch, err := h.OpenChannel(call, args, call.Call.Channel)
		if err != nil {
			resp.Fail(err)
			return
		}
		if ch == nil {
			resp.Fail(NewAPIError("channel %s was not created", ChannelID(call.API, call.Call.Channel)))
			return
		}
		url := s.SocketURL()
		if url == "" {
			call.Logger.Warn("channel opened without a persistent transport", "channel", ch.ID())
		}
		resp.Reply(String(url), String(ch.ID()))
	case PushClose:
		h.Close(call)
		if n := s.channels.closeAPI(call.API); n > 0 {
			call.Logger.Debug("closed channels left open by handler", "count", n)
		}
		resp.Reply()
	default:
		resp.Fail(ErrUnroutable)
	}
}

type hookState struct {
	hook  DispatchHook
	token HookToken
}

func (s *Server) startHooks(ctx context.Context, info DispatchInfo) (context.Context, []hookState) {
	if len(s.hooks) == 0 {
		return ctx, nil
	}
	states := make([]hookState, 0, len(s.hooks))
	for _, h := range s.hooks {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					s.logger.Error("dispatch hook start panic", "err", rv)
				}
			}()
			hookCtx, token := h.OnDispatchStart(ctx, info)
			if hookCtx != nil {
				ctx = hookCtx
			}
			states = append(states, hookState{hook: h, token: token})
		}()
	}
	return ctx, states
}

func (s *Server) endHooks(ctx context.Context, states []hookState, info DispatchInfo, stats *CallStatistics, err error) {
	for i := len(states) - 1; i >= 0; i-- {
		st := states[i]
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					s.logger.Error("dispatch hook end panic", "err", rv)
				}
			}()
			st.hook.OnDispatchEnd(ctx, st.token, info, stats, err)
		}()
	}
}
