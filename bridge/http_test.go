package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// frameStream is a pull-stream returning one fixed frame per nextValue.
type frameStream struct {
	format string
	open   bool
}

func (f *frameStream) Open(_ *CallContext, args []Value) error {
	if len(args) != 2 {
		return NewAPIError("bad arguments")
	}
	format, ok := args[0].AsString()
	if !ok {
		return NewAPIError("bad format")
	}
	if fps, ok := args[1].AsNumber(); !ok || fps != 5 {
		return NewAPIError("bad fps")
	}
	f.format, f.open = format, true
	return nil
}

func (f *frameStream) Next(_ *CallContext, _ []Value) ([]Value, error) {
	if !f.open {
		return nil, NewAPIError("stream not open")
	}
	return []Value{Bytes([]byte(f.format + "-frame"))}, nil
}

func (f *frameStream) Close(_ *CallContext) { f.open = false }

func newTestHTTP(t *testing.T) (*Server, *HttpServer) {
	t.Helper()
	s := NewServer()
	s.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(s.Close)

	_ = s.RegisterGeneral("dataMatrixScan", GeneralFunc(func(*CallContext, []Value) ([]Value, error) {
		return []Value{String("ABC123")}, nil
	}))
	_ = s.RegisterGeneral("echo", GeneralFunc(func(_ *CallContext, args []Value) ([]Value, error) {
		return args, nil
	}))
	_ = s.RegisterGeneral("fail", GeneralFunc(func(*CallContext, []Value) ([]Value, error) {
		return nil, NewAPIError("camera unavailable")
	}))
	_ = s.RegisterPullStream("photoStream", &frameStream{})
	_ = s.RegisterRawStream("noise", RawStreamFunc(func(_ *CallContext, args []Value) (io.ReadCloser, error) {
		n := 100000
		if len(args) > 0 {
			n = int(args[0].Num())
		}
		return io.NopCloser(bytes.NewReader(bytes.Repeat([]byte{'n'}, n))), nil
	}))

	return s, NewHttpServer(s)
}

// formBody encodes args as multipart fields named by index. []byte values
// become file parts.
func formBody(t *testing.T, args ...any) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, a := range args {
		name := strconv.Itoa(i)
		switch v := a.(type) {
		case string:
			if err := mw.WriteField(name, v); err != nil {
				t.Fatal(err)
			}
		case []byte:
			fw, err := mw.CreateFormFile(name, "blob")
			if err != nil {
				t.Fatal(err)
			}
			_, _ = fw.Write(v)
		default:
			t.Fatalf("unsupported arg %T", a)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, h http.Handler, path string, args ...any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if len(args) == 0 {
		req = httptest.NewRequest(http.MethodPost, path, nil)
	} else {
		body, ct := formBody(t, args...)
		req = httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", ct)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHTTPGeneralCall(t *testing.T) {
	_, h := newTestHTTP(t)
	rec := post(t, h, "/dataMatrixScan")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got, want := rec.Body.String(), `{"result":[{"type":"string","value":"ABC123"}]}`; got != want {
		t.Fatalf("body = %s, want %s", got, want)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatal("missing request id header")
	}
}

func TestHTTPPullStreamScenario(t *testing.T) {
	_, h := newTestHTTP(t)

	rec := post(t, h, "/photoStream/open", "bgra", "5")
	if got := rec.Body.String(); got != `{"result":[]}` {
		t.Fatalf("open body = %s", got)
	}

	rec = post(t, h, "/photoStream/nextValue")
	if got, want := rec.Body.String(), `{"result":[{"type":"bytes","path":"/retrieve-resource?id=0"}]}`; got != want {
		t.Fatalf("nextValue body = %s, want %s", got, want)
	}

	rec = get(t, h, "/retrieve-resource?id=0")
	if rec.Code != http.StatusOK || rec.Body.String() != "bgra-frame" {
		t.Fatalf("first retrieve = %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("retrieve content type = %q", ct)
	}

	rec = get(t, h, "/retrieve-resource?id=0")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("second retrieve = %d %q, want empty 200", rec.Code, rec.Body.String())
	}

	rec = post(t, h, "/photoStream/close")
	if got := rec.Body.String(); got != `{"result":[]}` {
		t.Fatalf("close body = %s", got)
	}
}

func TestHTTPArgumentDecoding(t *testing.T) {
	_, h := newTestHTTP(t)
	rec := post(t, h, "/echo", "42", "42abc", []byte{0, 1}, `["a",2]`)

	var env struct {
		Result []struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
			Path  string          `json:"path"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	if len(env.Result) != 4 {
		t.Fatalf("result = %s", rec.Body.String())
	}
	checks := []struct{ typ, value string }{
		{"number", "42"},
		{"string", `"42abc"`},
		{"bytes", ""},
		{"array", `["a",2]`},
	}
	for i, c := range checks {
		r := env.Result[i]
		if r.Type != c.typ {
			t.Errorf("arg %d type = %s, want %s", i, r.Type, c.typ)
		}
		if c.value != "" && string(r.Value) != c.value {
			t.Errorf("arg %d value = %s, want %s", i, r.Value, c.value)
		}
	}
	if env.Result[2].Path != "/retrieve-resource?id=0" {
		t.Fatalf("bytes path = %q", env.Result[2].Path)
	}
}

func TestHTTPURLEncodedArguments(t *testing.T) {
	_, h := newTestHTTP(t)
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("1=b&0=a&x=ignored"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	want := `{"result":[{"type":"string","value":"a"},{"type":"string","value":"b"}]}`
	if rec.Body.String() != want {
		t.Fatalf("body = %s, want %s", rec.Body.String(), want)
	}
}

func TestHTTPErrors(t *testing.T) {
	_, h := newTestHTTP(t)
	tests := []struct {
		path string
		want string
	}{
		{"/fail", `{"error":"camera unavailable"}`},
		{"/nobody", `{"error":"no such API"}`},
		{"/nobody/nextValue", `{"error":"no such API"}`},
		{"/photoStream/nextValue", `{"error":"stream not open"}`},
		{"/", `{"error":"unroutable call"}`},
		{"/pushStream/photoStream/open", `{"error":"unroutable call"}`},
	}
	for _, tt := range tests {
		rec := post(t, h, tt.path)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", tt.path, rec.Code)
		}
		if rec.Body.String() != tt.want {
			t.Errorf("%s: body = %s, want %s", tt.path, rec.Body.String(), tt.want)
		}
	}
}

func TestHTTPCORS(t *testing.T) {
	_, h := newTestHTTP(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/anything/at/all", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("preflight = %d %q", rec.Code, rec.Body.String())
	}
	want := map[string]string{
		"Access-Control-Allow-Origin":      "*",
		"Access-Control-Allow-Methods":     "*",
		"Access-Control-Allow-Headers":     "*",
		"Access-Control-Allow-Credentials": "true",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	h.SetAuthorizer(&Authorizer{Origin: "app://local"})
	rec = post(t, h, "/dataMatrixScan")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "app://local" {
		t.Fatalf("origin = %q", got)
	}
}

func TestHTTPCookieCheck(t *testing.T) {
	_, h := newTestHTTP(t)
	auth := &Authorizer{Name: "bridge", Token: "s3cret"}
	h.SetAuthorizer(auth)

	// Advisory by default: a missing cookie is served.
	rec := post(t, h, "/dataMatrixScan")
	if !strings.Contains(rec.Body.String(), "ABC123") {
		t.Fatalf("advisory check blocked call: %s", rec.Body.String())
	}

	auth.Enforce = true
	rec = post(t, h, "/dataMatrixScan")
	if rec.Body.String() != `{"error":"unauthorized"}` {
		t.Fatalf("enforced without cookie: %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/dataMatrixScan", nil)
	req.AddCookie(&http.Cookie{Name: "bridge", Value: "s3cret"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "ABC123") {
		t.Fatalf("enforced with cookie: %s", rec.Body.String())
	}
}

func TestHTTPRawStream(t *testing.T) {
	_, h := newTestHTTP(t)
	rec := post(t, h, "/noise", "70000")
	if rec.Header().Get(HeaderNativeStream) != "1" {
		t.Fatalf("missing %s header", HeaderNativeStream)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Body.Len() != 70000 {
		t.Fatalf("streamed %d bytes, want 70000", rec.Body.Len())
	}
	if !rec.Flushed {
		t.Fatal("raw stream was not flushed")
	}
}

func TestHTTPRawStreamOverNetwork(t *testing.T) {
	_, h := newTestHTTP(t)
	h.SetCompression(true)
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/noise", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 100000 || resp.Header.Get(HeaderNativeStream) != "1" {
		t.Fatalf("got %d bytes, header %q", len(body), resp.Header.Get(HeaderNativeStream))
	}
}

func TestHTTPServeSealsRegistry(t *testing.T) {
	s, h := newTestHTTP(t)
	post(t, h, "/dataMatrixScan")
	err := s.RegisterGeneral("late", GeneralFunc(func(*CallContext, []Value) ([]Value, error) { return nil, nil }))
	if err == nil {
		t.Fatal("registration after serving started succeeded")
	}
}

func TestHTTPDescribe(t *testing.T) {
	s, h := newTestHTTP(t)
	s.SetServerID("test-host")

	rec := get(t, h, DescribePath)
	var cat Catalogue
	if err := json.Unmarshal(rec.Body.Bytes(), &cat); err != nil {
		t.Fatalf("decode catalogue %s: %v", rec.Body.String(), err)
	}
	if cat.ServerID != "test-host" || len(cat.APIs) != 5 {
		t.Fatalf("catalogue = %+v", cat)
	}
	if !strings.Contains(rec.Body.String(), `"kind":"pull_stream"`) {
		t.Fatalf("kind not rendered by name: %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, DescribePath, nil)
	req.Header.Set("Accept", ArrowContentType)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != ArrowContentType {
		t.Fatalf("content type = %q", ct)
	}
	rdr, err := ipc.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("ipc reader: %v", err)
	}
	defer rdr.Release()
	if id, ok := rdr.Schema().Metadata().GetValue(MetaServerID); !ok || id != "test-host" {
		t.Fatalf("server id metadata = %q, %v", id, ok)
	}
	var rows int64
	for rdr.Next() {
		rows += rdr.RecordBatch().NumRows()
	}
	if rows != 5 {
		t.Fatalf("describe rows = %d, want 5", rows)
	}
}

func TestHTTPLandingAndNotFound(t *testing.T) {
	_, h := newTestHTTP(t)
	rec := get(t, h, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "photoStream") {
		t.Fatalf("landing = %d", rec.Code)
	}
	rec = get(t, h, "/no/such/page")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("not found = %d", rec.Code)
	}
}

func TestHTTPMount(t *testing.T) {
	_, h := newTestHTTP(t)
	h.Mount("/__metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	rec := get(t, h, "/__metrics")
	if rec.Body.String() != "ok" {
		t.Fatalf("mounted handler = %q", rec.Body.String())
	}
}

func TestListenLocal(t *testing.T) {
	l, err := ListenLocal("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	n := l.Addr().(*net.TCPAddr).Port

	// The only port in range is taken.
	if _, err := ListenLocal("127.0.0.1", n, n); err == nil {
		t.Fatal("ListenLocal on a busy port succeeded")
	} else if !strings.Contains(err.Error(), ErrNoFreePort.Error()) {
		t.Fatalf("err = %v", err)
	}

	l2, err := ListenLocal("127.0.0.1", n, n+50)
	if err != nil {
		t.Fatalf("ListenLocal range: %v", err)
	}
	l2.Close()
}
