package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/onnwee/blive-ingest/telemetry"
)

func newTestWebDispatcher(t *testing.T) (*Dispatcher, *Queue) {
	t.Helper()
	telemetry.Init()
	q := NewQueue()
	t.Cleanup(q.Close)
	return NewWebDispatcher(q, func() int64 { return 1000 }), q
}

func expectNoEvent(t *testing.T, q *Queue) {
	t.Helper()
	select {
	case e := <-q.Out():
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchWebDanmaku(t *testing.T) {
	d, q := newTestWebDispatcher(t)

	info := []any{
		[]any{0, 1, 25, 0, int64(1691234567890), "r1"},
		"hello", []any{int64(42), "bob", 0},
	}
	frame, _ := json.Marshal(map[string]any{"cmd": "DANMU_MSG", "info": info})
	d.Dispatch(frame)

	ev := recvOne(t, q)
	if ev.Type != TypeDanmaku || ev.Platform != PlatformWeb {
		t.Fatalf("got %s/%s", ev.Type, ev.Platform)
	}
	if ev.Danmaku.Content != "hello" || ev.UserName != "bob" || ev.RoomID != 1000 {
		t.Errorf("event = %+v payload = %+v", ev, ev.Danmaku)
	}
	if len(ev.Raw) == 0 {
		t.Error("raw body not attached")
	}
}

func TestDispatchUnknownCommandIgnored(t *testing.T) {
	d, q := newTestWebDispatcher(t)
	d.Dispatch([]byte(`{"cmd":"WIDGET_BANNER","data":{"x":1}}`))
	d.Dispatch([]byte(`{"cmd":"_HEARTBEAT"}`))
	expectNoEvent(t, q)
}

func TestDispatchMalformedFrameIsIsolated(t *testing.T) {
	d, q := newTestWebDispatcher(t)

	d.Dispatch([]byte(`{not json`))
	d.Dispatch([]byte(`{"cmd":"DANMU_MSG","info":"not an array"}`))
	d.Dispatch([]byte(`{"cmd":"SEND_GIFT","data":[1,2,3]}`))
	expectNoEvent(t, q)

	// The dispatcher still works after bad frames.
	gift := `{"cmd":"SEND_GIFT","data":{"uid":5,"uname":"alice","giftId":1,"giftName":"flower","num":1,"price":100,"coin_type":"gold","timestamp":1,"rnd":1234}}`
	d.Dispatch([]byte(gift))
	ev := recvOne(t, q)
	if ev.Type != TypeGift || ev.MsgID != "1234" {
		t.Fatalf("got %+v", ev)
	}
}

func TestDispatchDroppedInteractProducesNothing(t *testing.T) {
	d, q := newTestWebDispatcher(t)
	d.Dispatch([]byte(`{"cmd":"INTERACT_WORD","data":{"msg_type":2,"uid":1,"uname":"x","timestamp":1}}`))
	expectNoEvent(t, q)

	d.Dispatch([]byte(`{"cmd":"INTERACT_WORD","data":{"msg_type":1,"uid":1,"uname":"x","uface":"f","timestamp":1}}`))
	ev := recvOne(t, q)
	if ev.Type != TypeEnterRoom {
		t.Fatalf("got %s", ev.Type)
	}
}

func TestDispatchOpenLive(t *testing.T) {
	telemetry.Init()
	q := NewQueue()
	t.Cleanup(q.Close)
	d := NewOpenLiveDispatcher(q)

	dm := map[string]any{
		"cmd": "LIVE_OPEN_PLATFORM_DM",
		"data": map[string]any{
			"room_id": 2000, "open_id": "oid-1", "uname": "frank", "uface": "f",
			"msg": "hi", "msg_id": "m-1", "timestamp": 1691234567,
			"fans_medal_level": 3, "fans_medal_name": "club", "guard_level": 0,
		},
	}
	frame, _ := json.Marshal(dm)
	d.Dispatch(frame)

	ev := recvOne(t, q)
	if ev.Platform != PlatformOpenLive || ev.Type != TypeDanmaku {
		t.Fatalf("got %s/%s", ev.Platform, ev.Type)
	}
	if ev.RoomID != 2000 || ev.UserID != "oid-1" || ev.Danmaku.Content != "hi" {
		t.Errorf("event = %+v payload = %+v", ev, ev.Danmaku)
	}

	// Web namespace commands mean nothing to the open-live table.
	d.Dispatch([]byte(`{"cmd":"DANMU_MSG","info":[]}`))
	expectNoEvent(t, q)
}
