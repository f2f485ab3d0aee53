// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
)

const streamChunkSize = 32 << 10

// HttpServer is the primary transport: one POST per call, GET for side-stored
// bytes, OPTIONS for preflight.
type HttpServer struct {
	server   *Server
	auth     *Authorizer
	router   chi.Router
	handler  http.Handler
	title    string
	compress bool

	notFoundHTML []byte

	mu       sync.RWMutex
	baseURL  string
	httpSrv  *http.Server
	prepared sync.Once
}

// NewHttpServer creates a transport for server. Configure it with the
// setters before the first request; the registry is sealed when serving
// starts.
func NewHttpServer(server *Server) *HttpServer {
	h := &HttpServer{
		server:       server,
		auth:         &Authorizer{},
		title:        "native bridge",
		notFoundHTML: buildNotFoundHTML(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)
	r.NotFound(h.handleNotFound)
	r.MethodNotAllowed(h.handleNotFound)

	r.Options("/*", h.handlePreflight)
	r.Get("/", h.handleLandingPage)
	r.Get(RetrievePath, h.handleRetrieve)
	r.Get(DescribePath, h.handleDescribe)
	r.Post("/*", h.handleCall)

	h.router = r
	return h
}

// SetAuthorizer installs the cookie check. A nil Authorizer disables it.
func (h *HttpServer) SetAuthorizer(a *Authorizer) {
	if a == nil {
		a = &Authorizer{}
	}
	h.auth = a
}

// SetBaseURL sets the origin prepended to retrieval paths, e.g.
// "http://127.0.0.1:8080". Serve sets it from the listener when unset.
func (h *HttpServer) SetBaseURL(u string) {
	h.mu.Lock()
	h.baseURL = strings.TrimSuffix(u, "/")
	h.mu.Unlock()
}

// BaseURL returns the origin used in retrieval paths.
func (h *HttpServer) BaseURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.baseURL
}

// SetCompression enables gzip responses for clients that accept them.
func (h *HttpServer) SetCompression(enabled bool) {
	h.compress = enabled
}

// SetTitle sets the heading of the landing page.
func (h *HttpServer) SetTitle(title string) {
	h.title = title
}

// Mount attaches a diagnostic GET handler, such as a metrics endpoint.
func (h *HttpServer) Mount(pattern string, handler http.Handler) {
	h.router.Method(http.MethodGet, pattern, handler)
}

func (h *HttpServer) prepare() {
	h.prepared.Do(func() {
		h.server.Seal()
		var handler http.Handler = h.router
		if h.compress {
			handler = gzhttp.GzipHandler(handler)
		}
		h.handler = handler
	})
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.prepare()
	h.handler.ServeHTTP(w, r)
}

// Serve accepts connections on l until Shutdown is called.
func (h *HttpServer) Serve(l net.Listener) error {
	if h.BaseURL() == "" {
		h.SetBaseURL("http://" + l.Addr().String())
	}
	h.prepare()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.mu.Lock()
	h.httpSrv = srv
	h.mu.Unlock()

	h.server.logger.Info("http transport listening", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (h *HttpServer) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	srv := h.httpSrv
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ListenLocal binds the first free TCP port in [first, last] on host. A zero
// range asks the kernel for any free port.
func ListenLocal(host string, first, last int) (net.Listener, error) {
	if first == 0 && last == 0 {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}
	if last < first {
		return nil, fmt.Errorf("port range %d-%d is empty", first, last)
	}
	for port := first; port <= last; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%s ports %d-%d: %w", host, first, last, ErrNoFreePort)
}

// --- Middleware ---

func (h *HttpServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", h.auth.allowOrigin())
		hdr.Set("Access-Control-Allow-Methods", "*")
		hdr.Set("Access-Control-Allow-Headers", "*")
		hdr.Set("Access-Control-Allow-Credentials", "true")
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// transportMetadata flattens request headers for dispatch hooks.
func transportMetadata(r *http.Request) map[string]string {
	md := make(map[string]string, len(r.Header)+2)
	for k, v := range r.Header {
		if len(v) > 0 && k != "Cookie" {
			md[strings.ToLower(k)] = v[0]
		}
	}
	md["remote_addr"] = r.RemoteAddr
	md["user_agent"] = r.UserAgent()
	return md
}

// --- Handlers ---

func (h *HttpServer) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleCall routes, decodes and dispatches one API call.
func (h *HttpServer) handleCall(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	w.Header().Set(HeaderRequestID, id)
	logger := h.server.logger.With("request_id", id)

	if !h.auth.authorize(r, logger) {
		h.writeError(w, ErrUnauthorized)
		return
	}

	call, err := ParseCall(r.URL.Path)
	if err != nil {
		logger.Debug("unroutable call", "path", r.URL.Path)
		h.writeError(w, err)
		return
	}

	args, err := decodeArgs(r)
	if err != nil {
		logger.Warn("argument decoding failed", "call", call.String(), "err", err)
		h.writeError(w, NewAPIError("malformed arguments"))
		return
	}

	out := h.server.Dispatch(r.Context(), &Request{
		Call:      call,
		Args:      args,
		RequestID: id,
		Metadata:  transportMetadata(r),
	})
	switch {
	case out.Err != nil:
		h.writeError(w, out.Err)
	case out.Stream != nil:
		h.writeStream(w, r, out.Stream, logger)
	default:
		body, err := marshalResult(out.Values, h.server.store, h.BaseURL())
		if err != nil {
			logger.Error("result encoding failed", "call", call.String(), "err", err)
			h.writeError(w, NewAPIError("unencodable result"))
			return
		}
		h.writeJSON(w, body)
	}
}

// handleRetrieve serves and consumes one side-stored blob. A miss is an
// empty 200.
func (h *HttpServer) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if !h.auth.authorize(r, h.server.logger) {
		w.WriteHeader(http.StatusOK)
		return
	}
	blob, ok := h.server.store.Take(r.URL.Query().Get("id"))
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

// handleDescribe serves the API catalogue as JSON, or as an Arrow IPC stream
// when the client asks for one.
func (h *HttpServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), ArrowContentType) {
		data, err := h.server.DescribeArrow()
		if err != nil {
			h.server.logger.Error("describe failed", "err", err)
			h.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", ArrowContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	body, err := json.Marshal(h.server.Describe())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, body)
}

// --- Helpers ---

// writeStream copies a raw stream to the client, flushing after every chunk
// so the browser can read incrementally.
func (h *HttpServer) writeStream(w http.ResponseWriter, r *http.Request, stream io.ReadCloser, logger *slog.Logger) {
	defer stream.Close()

	w.Header().Set(HeaderNativeStream, "1")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	buf := make([]byte, streamChunkSize)
	for {
		if r.Context().Err() != nil {
			logger.Debug("raw stream abandoned by client")
			return
		}
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			_ = rc.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("raw stream ended with error", "err", err)
			}
			return
		}
	}
}

func (h *HttpServer) writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", JSONContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeError reports err in the JSON envelope. Application failures never
// change the status code.
func (h *HttpServer) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, marshalError(err))
}
