package blive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/blive-ingest/event"
	"github.com/onnwee/blive-ingest/packet"
	"github.com/onnwee/blive-ingest/telemetry"
)

func TestHostIndexRoundRobin(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		for retry := 0; retry < 2*n; retry++ {
			want := retry % n
			if got := hostIndex(retry, n); got != want {
				t.Errorf("hostIndex(%d, %d) = %d, want %d", retry, n, got, want)
			}
		}
	}
	if hostIndex(7, 0) != 0 {
		t.Error("empty host list must index 0")
	}
}

func TestShouldRebootstrap(t *testing.T) {
	// With 5 hosts: after every full sweep.
	for retry := 0; retry <= 16; retry++ {
		want := retry == 5 || retry == 10 || retry == 15
		if got := shouldRebootstrap(retry, 5); got != want {
			t.Errorf("shouldRebootstrap(%d, 5) = %v, want %v", retry, got, want)
		}
	}
	// Small host lists still wait at least 3 retries.
	if shouldRebootstrap(1, 1) || shouldRebootstrap(2, 1) {
		t.Error("single-host list must not rebootstrap before retry 3")
	}
	if !shouldRebootstrap(3, 1) {
		t.Error("single-host list should rebootstrap at retry 3")
	}
	if shouldRebootstrap(0, 5) {
		t.Error("retry 0 never rebootstraps (first start handles it)")
	}
}

func TestBackoffDelayBounded(t *testing.T) {
	if backoffDelay(1) != time.Second {
		t.Errorf("backoffDelay(1) = %v", backoffDelay(1))
	}
	if backoffDelay(2) != 2*time.Second {
		t.Errorf("backoffDelay(2) = %v", backoffDelay(2))
	}
	prev := time.Duration(0)
	for retry := 1; retry < 100; retry++ {
		d := backoffDelay(retry)
		if d < time.Second || d > maxBackoff {
			t.Fatalf("backoffDelay(%d) = %v out of bounds", retry, d)
		}
		if d < prev {
			t.Fatalf("backoffDelay(%d) = %v shrank from %v", retry, d, prev)
		}
		prev = d
	}
}

func TestStateString(t *testing.T) {
	states := []State{StateIdle, StateBootstrapping, StateConnecting, StateAuthenticating, StateLive, StateClosing, StateStopped}
	seen := map[string]bool{}
	for _, s := range states {
		str := s.String()
		if str == "" || str == "unknown" || seen[str] {
			t.Errorf("State(%d).String() = %q", s, str)
		}
		seen[str] = true
	}
}

// fakeSession satisfies the session interface with a fixed endpoint,
// standing in for a bootstrapped web session.
type fakeSession struct {
	url        string
	bootstraps atomic.Int32
}

func (f *fakeSession) Platform() string { return event.PlatformWeb }
func (f *fakeSession) Bootstrap(ctx context.Context) bool {
	f.bootstraps.Add(1)
	return true
}
func (f *fakeSession) RoomID() int64          { return 1000 }
func (f *fakeSession) HostCount() int         { return 1 }
func (f *fakeSession) WSURL(retry int) string { return f.url }
func (f *fakeSession) AuthBody() ([]byte, error) {
	return json.Marshal(map[string]any{"uid": 0, "roomid": 1000, "protover": 3})
}

// danmakuServer accepts one websocket client, answers its auth frame, and
// then replays the given command bodies.
func danmakuServer(t *testing.T, commands ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, err := packet.Decode(data)
		if err != nil || len(frames) != 1 || frames[0].Op != packet.OpAuth {
			t.Errorf("first frame should be auth, got %v (err %v)", frames, err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, packet.Encode(packet.OpAuthReply, []byte(`{"code":0}`))); err != nil {
			return
		}
		for _, cmd := range commands {
			if err := conn.WriteMessage(websocket.BinaryMessage, packet.Encode(packet.OpCommand, []byte(cmd))); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientDeliversEvents(t *testing.T) {
	telemetry.Init()
	danmaku := `{"cmd":"DANMU_MSG","info":[[0,1,25,0,1691234567890,"r1"],"hello",[42,"bob",0]]}`
	srv := danmakuServer(t, danmaku)
	defer srv.Close()

	sess := &fakeSession{url: wsURL(srv)}
	c := newClient(sess, time.Minute)
	c.Start()

	select {
	case ev := <-c.Events():
		if ev.Type != event.TypeDanmaku || ev.Danmaku.Content != "hello" || ev.UserName != "bob" {
			t.Fatalf("got %+v payload %+v", ev, ev.Danmaku)
		}
		if ev.Platform != event.PlatformWeb || ev.RoomID != 1000 {
			t.Errorf("envelope = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}

	if got := c.State(); got != StateLive {
		t.Errorf("State() = %v after delivery, want live", got)
	}
	if sess.bootstraps.Load() != 1 {
		t.Errorf("bootstraps = %d, want exactly 1 on first start", sess.bootstraps.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.StopAndClose(ctx); err != nil {
		t.Fatalf("StopAndClose: %v", err)
	}
	if got := c.State(); got != StateStopped {
		t.Errorf("State() = %v after stop", got)
	}

	// The event sequence terminates after shutdown.
	select {
	case _, ok := <-c.Events():
		if ok {
			// Events enqueued before the stop may still drain; keep reading.
			for range c.Events() {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Events() did not close after stop")
	}
}

func TestClientStopBeforeStart(t *testing.T) {
	telemetry.Init()
	sess := &fakeSession{url: "ws://127.0.0.1:1/sub"}
	c := newClient(sess, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.StopAndClose(ctx); err != nil {
		t.Fatalf("StopAndClose: %v", err)
	}
	if err := c.StopAndClose(ctx); err != nil {
		t.Fatalf("second StopAndClose: %v", err)
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v", c.State())
	}

	// Start after stop is a no-op.
	c.Start()
	if c.State() != StateStopped {
		t.Errorf("State() = %v after post-stop Start", c.State())
	}
}

func TestClientStopDuringBackoff(t *testing.T) {
	telemetry.Init()
	// Nothing listens here; every dial fails and the client sits in backoff.
	sess := &fakeSession{url: "ws://127.0.0.1:1/sub"}
	c := newClient(sess, time.Minute)
	c.Start()
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.StopAndClose(ctx); err != nil {
		t.Fatalf("StopAndClose during backoff: %v", err)
	}
}

func TestClientRejectedAuthRetries(t *testing.T) {
	telemetry.Init()
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, packet.Encode(packet.OpAuthReply, []byte(`{"code":-1}`)))
	}))
	defer srv.Close()

	sess := &fakeSession{url: wsURL(srv)}
	c := newClient(sess, time.Minute)
	c.Start()

	deadline := time.Now().Add(5 * time.Second)
	for dials.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if dials.Load() < 2 {
		t.Fatalf("dials = %d, expected reconnect after auth rejection", dials.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.StopAndClose(ctx)
}
