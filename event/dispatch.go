package event

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/onnwee/blive-ingest/telemetry"
)

// handler parses one command body into an event, or nil for commands that
// carry nothing to forward (dropped interact sub-types).
type handler func(d *Dispatcher, cmd *Command) (*Event, error)

// Dispatcher maps decoded server commands onto the queue through a closed
// per-platform handler table. Unrecognized commands are ignored; a failure
// while handling one frame never escapes the dispatch loop.
type Dispatcher struct {
	queue    *Queue
	handlers map[string]handler
	roomID   func() int64
	log      *slog.Logger
}

// NewWebDispatcher builds a dispatcher for the web command namespace.
// roomID supplies the canonical room id resolved during bootstrap; web
// command bodies do not repeat it.
func NewWebDispatcher(q *Queue, roomID func() int64) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		roomID:   roomID,
		log:      slog.Default().With(slog.String("component", "dispatch"), slog.String("platform", PlatformWeb)),
		handlers: webHandlers,
	}
}

// NewOpenLiveDispatcher builds a dispatcher for the open-platform command
// namespace. Open-live bodies carry their own room id.
func NewOpenLiveDispatcher(q *Queue) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		roomID:   func() int64 { return 0 },
		log:      slog.Default().With(slog.String("component", "dispatch"), slog.String("platform", PlatformOpenLive)),
		handlers: openLiveHandlers,
	}
}

// Dispatch handles one server-command frame body. It never panics and
// never returns an error: anything wrong with this frame is logged with
// the offending payload and the loop moves on.
func (d *Dispatcher) Dispatch(body []byte) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.DispatchErrors.Inc()
			d.log.Error("panic while handling command", slog.Any("panic", r), slog.String("frame", string(body)))
		}
	}()

	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		telemetry.DispatchErrors.Inc()
		d.log.Warn("undecodable command frame", slog.Any("err", err), slog.String("frame", string(body)))
		return
	}
	if cmd.Cmd == "_HEARTBEAT" {
		return
	}
	h, ok := d.handlers[cmd.Cmd]
	if !ok {
		return
	}
	ev, err := h(d, &cmd)
	if err != nil {
		telemetry.DispatchErrors.Inc()
		d.log.Warn("failed to handle command", slog.String("cmd", cmd.Cmd), slog.Any("err", err), slog.String("frame", string(body)))
		return
	}
	if ev == nil {
		return
	}
	ev.Raw = append(json.RawMessage(nil), body...)
	d.queue.Put(ev)
	telemetry.EventsDispatched.WithLabelValues(string(ev.Type)).Inc()
	telemetry.SetQueueDepth(d.queue.Len())
}

var webHandlers = map[string]handler{
	"DANMU_MSG": func(d *Dispatcher, cmd *Command) (*Event, error) {
		dm, err := parseWebDanmaku(cmd.Info)
		if err != nil {
			return nil, fmt.Errorf("DANMU_MSG: %w", err)
		}
		return dm.normalize(d.roomID(), nil), nil
	},
	"SEND_GIFT": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var g webGift
		if err := json.Unmarshal(cmd.Data, &g); err != nil {
			return nil, fmt.Errorf("SEND_GIFT: %w", err)
		}
		return g.normalize(d.roomID(), nil), nil
	},
	"SUPER_CHAT_MESSAGE": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var sc webSuperChat
		if err := json.Unmarshal(cmd.Data, &sc); err != nil {
			return nil, fmt.Errorf("SUPER_CHAT_MESSAGE: %w", err)
		}
		return sc.normalize(d.roomID(), nil), nil
	},
	"GUARD_BUY": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var g webGuardBuy
		if err := json.Unmarshal(cmd.Data, &g); err != nil {
			return nil, fmt.Errorf("GUARD_BUY: %w", err)
		}
		return g.normalize(d.roomID(), nil), nil
	},
	"INTERACT_WORD": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var iw webInteract
		if err := json.Unmarshal(cmd.Data, &iw); err != nil {
			return nil, fmt.Errorf("INTERACT_WORD: %w", err)
		}
		return iw.normalize(d.roomID(), nil), nil
	},
}

var openLiveHandlers = map[string]handler{
	"LIVE_OPEN_PLATFORM_DM": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var dm openLiveDanmaku
		if err := json.Unmarshal(cmd.Data, &dm); err != nil {
			return nil, fmt.Errorf("LIVE_OPEN_PLATFORM_DM: %w", err)
		}
		return dm.normalize(nil), nil
	},
	"LIVE_OPEN_PLATFORM_SEND_GIFT": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var g openLiveGift
		if err := json.Unmarshal(cmd.Data, &g); err != nil {
			return nil, fmt.Errorf("LIVE_OPEN_PLATFORM_SEND_GIFT: %w", err)
		}
		return g.normalize(nil), nil
	},
	"LIVE_OPEN_PLATFORM_SUPER_CHAT": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var sc openLiveSuperChat
		if err := json.Unmarshal(cmd.Data, &sc); err != nil {
			return nil, fmt.Errorf("LIVE_OPEN_PLATFORM_SUPER_CHAT: %w", err)
		}
		return sc.normalize(nil), nil
	},
	"LIVE_OPEN_PLATFORM_GUARD": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var g openLiveGuard
		if err := json.Unmarshal(cmd.Data, &g); err != nil {
			return nil, fmt.Errorf("LIVE_OPEN_PLATFORM_GUARD: %w", err)
		}
		return g.normalize(nil), nil
	},
	"LIVE_OPEN_PLATFORM_LIKE": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var l openLiveLike
		if err := json.Unmarshal(cmd.Data, &l); err != nil {
			return nil, fmt.Errorf("LIVE_OPEN_PLATFORM_LIKE: %w", err)
		}
		return l.normalize(nil), nil
	},
	"LIVE_OPEN_PLATFORM_LIVE_ROOM_ENTER": func(d *Dispatcher, cmd *Command) (*Event, error) {
		var e openLiveEnterRoom
		if err := json.Unmarshal(cmd.Data, &e); err != nil {
			return nil, fmt.Errorf("LIVE_OPEN_PLATFORM_LIVE_ROOM_ENTER: %w", err)
		}
		return e.normalize(nil), nil
	},
}
