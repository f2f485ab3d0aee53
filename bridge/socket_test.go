package bridge

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// capturePush is a push-stream whose channels report peer data on a Go
// channel.
type capturePush struct {
	peer chan string
}

func (p *capturePush) OpenStream(*CallContext, []Value) error { return nil }

func (p *capturePush) OpenChannel(call *CallContext, _ []Value, name string) (*Channel, error) {
	return call.NewChannel(name, func(_ *Channel, data []byte) {
		p.peer <- string(data)
	})
}

func (p *capturePush) Close(*CallContext) {}

type socketFixture struct {
	server *Server
	socket *SocketServer
	push   *capturePush
	wsURL  string
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()
	s := NewServer()
	s.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	push := &capturePush{peer: make(chan string, 8)}
	if err := s.RegisterPushStream("photoCapturePushStream", push); err != nil {
		t.Fatal(err)
	}

	sock := NewSocketServer(s)
	ts := httptest.NewServer(sock)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	s.SetSocketURL(wsURL)

	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return &socketFixture{server: s, socket: sock, push: push, wsURL: wsURL}
}

func (f *socketFixture) connect(t *testing.T, channel string) *Channel {
	t.Helper()
	out := dispatch(t, f.server, "/pushStream/connect/photoCapturePushStream/"+channel)
	if out.Err != nil {
		t.Fatalf("connect: %v", out.Err)
	}
	if len(out.Values) != 2 || out.Values[0].Str() != f.wsURL {
		t.Fatalf("connect values = %+v", out.Values)
	}
	ch, ok := f.server.Channels().Lookup(out.Values[1].Str())
	if !ok {
		t.Fatalf("channel %q not registered", out.Values[1].Str())
	}
	return ch
}

func (f *socketFixture) dial(t *testing.T, handshake string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(handshake)); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return typ, string(data)
}

func expectReady(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	typ, msg := readMessage(t, conn)
	if typ != websocket.TextMessage || msg != ReadyMessage {
		t.Fatalf("first message = %d %q, want READY", typ, msg)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSocketPairing(t *testing.T) {
	f := newSocketFixture(t)
	ch := f.connect(t, "main")
	if ch.ID() != "photoCapturePushStream-main" {
		t.Fatalf("channel id = %q", ch.ID())
	}
	if err := ch.SendData([]byte("early"), true); !errors.Is(err, ErrNotPaired) {
		t.Fatalf("push before pairing err = %v, want ErrNotPaired", err)
	}

	conn := f.dial(t, ch.ID())
	expectReady(t, conn)

	if err := ch.SendData([]byte("one"), true); err != nil {
		t.Fatal(err)
	}
	if err := ch.SendText("two", true); err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{"w", "h", "pixels"} {
		if err := ch.SendData([]byte(part), part == "pixels"); err != nil {
			t.Fatal(err)
		}
	}

	want := []struct {
		typ int
		msg string
	}{
		{websocket.BinaryMessage, "one"},
		{websocket.TextMessage, "two"},
		{websocket.BinaryMessage, "whpixels"},
	}
	for _, w := range want {
		typ, msg := readMessage(t, conn)
		if typ != w.typ || msg != w.msg {
			t.Fatalf("got %d %q, want %d %q", typ, msg, w.typ, w.msg)
		}
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("capture")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-f.push.peer:
		if got != "capture" {
			t.Fatalf("peer data = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer data not delivered")
	}
}

func TestSocketFrameKindSwitchMidMessage(t *testing.T) {
	f := newSocketFixture(t)
	ch := f.connect(t, "main")
	conn := f.dial(t, ch.ID())
	expectReady(t, conn)

	if err := ch.SendData([]byte("a"), false); err != nil {
		t.Fatal(err)
	}
	if err := ch.SendText("b", true); !errors.Is(err, ErrMessageInProgress) {
		t.Fatalf("err = %v, want ErrMessageInProgress", err)
	}
	if err := ch.SendData([]byte("c"), true); err != nil {
		t.Fatal(err)
	}
	if typ, msg := readMessage(t, conn); typ != websocket.BinaryMessage || msg != "ac" {
		t.Fatalf("got %d %q", typ, msg)
	}
}

func TestSocketOrphanHandshake(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, "photoCapturePushStream-ghost")

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("orphan connection received %q", data)
	}
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("orphan read err = %v, want timeout", err)
	}

	// The transport keeps serving.
	ch := f.connect(t, "main")
	expectReady(t, f.dial(t, ch.ID()))
}

func TestSocketDropKeepsChannel(t *testing.T) {
	f := newSocketFixture(t)
	ch := f.connect(t, "main")
	conn := f.dial(t, ch.ID())
	expectReady(t, conn)
	waitFor(t, "pairing", ch.Paired)

	conn.Close()
	waitFor(t, "detach", func() bool { return !ch.Paired() })
	if err := ch.SendText("x", true); !errors.Is(err, ErrNotPaired) {
		t.Fatalf("push after drop err = %v, want ErrNotPaired", err)
	}
	if _, ok := f.server.Channels().Lookup(ch.ID()); !ok {
		t.Fatal("channel evicted on connection drop")
	}

	// A new connection can pair with the surviving channel.
	conn2 := f.dial(t, ch.ID())
	expectReady(t, conn2)

	if out := dispatch(t, f.server, "/pushStream/close/photoCapturePushStream"); out.Err != nil {
		t.Fatal(out.Err)
	}
	if _, ok := f.server.Channels().Lookup(ch.ID()); ok {
		t.Fatal("channel survived API close")
	}
	if err := ch.SendText("x", true); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("push after close err = %v, want ErrChannelClosed", err)
	}
	_ = conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn2.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read after channel close err = %v, want normal close", err)
	}
}

func TestSocketRehandshakeReplacesConnection(t *testing.T) {
	f := newSocketFixture(t)
	ch := f.connect(t, "main")
	first := f.dial(t, ch.ID())
	expectReady(t, first)

	second := f.dial(t, ch.ID())
	expectReady(t, second)

	if err := ch.SendText("latest", true); err != nil {
		t.Fatal(err)
	}
	if _, msg := readMessage(t, second); msg != "latest" {
		t.Fatalf("second connection got %q", msg)
	}
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("replaced connection still open")
	}
}

func TestSocketDuplicateChannel(t *testing.T) {
	f := newSocketFixture(t)
	f.connect(t, "main")
	out := dispatch(t, f.server, "/pushStream/connect/photoCapturePushStream/main")
	if !errors.Is(out.Err, ErrChannelExists) {
		t.Fatalf("duplicate connect err = %v, want ErrChannelExists", out.Err)
	}
}
