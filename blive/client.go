package blive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/blive-ingest/event"
	"github.com/onnwee/blive-ingest/packet"
	"github.com/onnwee/blive-ingest/telemetry"
	"github.com/onnwee/blive-ingest/wbi"
)

// State is the connection lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateBootstrapping
	StateConnecting
	StateAuthenticating
	StateLive
	StateClosing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// session abstracts the per-platform bootstrap and handshake so the state
// machine runs unchanged for both upstreams.
type session interface {
	Platform() string
	Bootstrap(ctx context.Context) bool
	RoomID() int64
	HostCount() int
	WSURL(retry int) string
	AuthBody() ([]byte, error)
}

// keepaliver is implemented by sessions that need an out-of-band keepalive
// (the open platform's app heartbeat) while the connection is live.
type keepaliver interface {
	Keepalive(ctx context.Context)
}

// sessionEnder is implemented by sessions with an explicit server-side
// teardown call.
type sessionEnder interface {
	EndSession(ctx context.Context)
}

const (
	defaultHeartbeat = 30 * time.Second
	authReplyTimeout = 10 * time.Second
	maxBackoff       = 30 * time.Second
)

// Client owns one logical danmaku connection: it bootstraps, connects,
// authenticates, heartbeats, and reconnects with host failover until
// stopped. Events flow out of Events() in decode order.
type Client struct {
	sess      session
	queue     *event.Queue
	disp      *event.Dispatcher
	heartbeat time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	state   State
	done    chan struct{}
}

// WebOptions configures a client for the web platform.
type WebOptions struct {
	// RoomID is the room id as seen in the URL; short ids are resolved
	// during bootstrap.
	RoomID int64
	// Cookie is an optional "name=value; name2=value2" credential string.
	Cookie string
	// HeartbeatInterval defaults to 30s.
	HeartbeatInterval time.Duration
	// HTTPClient is shared by bootstrap and signing; defaults to a
	// client with a 10s timeout.
	HTTPClient *http.Client
}

// NewWebClient builds a web-platform client. The WBI signer is created
// here, once, alongside the HTTP client it belongs to.
func NewWebClient(opts WebOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	signer := &wbi.Signer{HTTPClient: hc, UserAgent: userAgent}
	sess := newWebSession(opts.RoomID, opts.Cookie, hc, signer)
	return newClient(sess, opts.HeartbeatInterval)
}

func newClient(sess session, heartbeat time.Duration) *Client {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	q := event.NewQueue()
	c := &Client{
		sess:      sess,
		queue:     q,
		heartbeat: heartbeat,
		log:       slog.Default().With(slog.String("component", "client"), slog.String("platform", sess.Platform())),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
	if sess.Platform() == event.PlatformOpenLive {
		c.disp = event.NewOpenLiveDispatcher(q)
	} else {
		c.disp = event.NewWebDispatcher(q, sess.RoomID)
	}
	return c
}

// Events is the consumer side: a lazy, ordered, non-restartable sequence
// that closes once the client is stopped and everything enqueued before
// the stop has been delivered.
func (c *Client) Events() <-chan *event.Event {
	return c.queue.Out()
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room reports the session's current room id (canonical once resolved).
func (c *Client) Room() int64 { return c.sess.RoomID() }

// QueueDepth reports undelivered events.
func (c *Client) QueueDepth() int { return c.queue.Len() }

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start launches the background connection activity. Calling it more than
// once, or after a stop, is a no-op.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// StopAndClose requests shutdown and waits for the connection loop to
// finish, bounded by ctx. Safe to call repeatedly.
func (c *Client) StopAndClose(ctx context.Context) error {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		if c.started {
			c.cancel()
		} else {
			c.state = StateStopped
			c.queue.Close()
			close(c.done)
		}
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the reconnect loop: bootstrap when due, connect, and on any
// failure back off and try the next host.
func (c *Client) run(ctx context.Context) {
	defer func() {
		if se, ok := c.sess.(sessionEnder); ok {
			endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			se.EndSession(endCtx)
			cancel()
		}
		c.setState(StateStopped)
		telemetry.SetConnected(false)
		c.queue.Close()
		close(c.done)
	}()

	retry := 0
	for ctx.Err() == nil {
		if retry == 0 || shouldRebootstrap(retry, c.sess.HostCount()) {
			c.setState(StateBootstrapping)
			telemetry.BootstrapRuns.Inc()
			sctx, span := telemetry.StartSpan(ctx, "blive", "bootstrap", telemetry.RoomAttr(c.sess.RoomID()), telemetry.RetryAttr(retry))
			if !c.sess.Bootstrap(sctx) {
				telemetry.BootstrapDegraded.Inc()
				c.log.Warn("bootstrap degraded, continuing with fallback defaults")
			}
			span.End()
			if ctx.Err() != nil {
				return
			}
		}

		err := c.runConn(ctx, retry)
		if ctx.Err() != nil {
			return
		}
		c.setState(StateClosing)
		telemetry.SetConnected(false)
		retry++
		telemetry.Reconnects.Inc()
		delay := backoffDelay(retry)
		c.log.Warn("connection ended, reconnecting",
			slog.Any("err", err), slog.Int("retry", retry), slog.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runConn drives a single physical connection from dial to failure.
func (c *Client) runConn(ctx context.Context, retry int) error {
	c.setState(StateConnecting)
	wsURL := c.sess.WSURL(retry)
	start := time.Now()

	sctx, span := telemetry.StartSpan(ctx, "blive", "connect", telemetry.RoomAttr(c.sess.RoomID()), telemetry.RetryAttr(retry))
	defer span.End()

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	conn, _, err := websocket.DefaultDialer.DialContext(sctx, wsURL, header)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", wsURL, err)
		telemetry.RecordError(span, err)
		return err
	}
	defer func() { _ = conn.Close() }()

	// Closing the socket on cancellation unblocks any pending read.
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	// Writes are serialized: the heartbeat must never interleave with the
	// authentication frame.
	var writeMu sync.Mutex

	c.setState(StateAuthenticating)
	authBody, err := c.sess.AuthBody()
	if err != nil {
		return fmt.Errorf("build auth body: %w", err)
	}
	writeMu.Lock()
	err = conn.WriteMessage(websocket.BinaryMessage, packet.Encode(packet.OpAuth, authBody))
	writeMu.Unlock()
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("send auth: %w", err)
	}
	if err := c.awaitAuthReply(conn); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.ConnectDuration.Observe(time.Since(start).Seconds())

	c.setState(StateLive)
	telemetry.SetConnected(true)
	c.log.Info("connection live", slog.String("url", wsURL), slog.Int64("room", c.sess.RoomID()), slog.Int("retry", retry))

	go c.heartbeatLoop(connCtx, conn, &writeMu)
	if ka, ok := c.sess.(keepaliver); ok {
		go ka.Keepalive(connCtx)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := c.handleMessage(data); err != nil {
			// The connection can no longer be trusted to frame correctly.
			return err
		}
	}
}

// awaitAuthReply reads until the affirmative auth reply arrives. Absence,
// malformed content, or a non-zero code fails the attempt.
func (c *Client) awaitAuthReply(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(authReplyTimeout)); err != nil {
		return fmt.Errorf("set auth deadline: %w", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await auth reply: %w", err)
		}
		frames, err := packet.Decode(data)
		if err != nil {
			telemetry.DecodeErrors.Inc()
			return fmt.Errorf("decode during auth: %w", err)
		}
		for _, f := range frames {
			if f.Op != packet.OpAuthReply {
				continue
			}
			var reply struct {
				Code int `json:"code"`
			}
			if err := json.Unmarshal(f.Body, &reply); err != nil {
				return fmt.Errorf("malformed auth reply: %w", err)
			}
			if reply.Code != 0 {
				return fmt.Errorf("auth rejected with code %d", reply.Code)
			}
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return fmt.Errorf("clear auth deadline: %w", err)
			}
			return nil
		}
	}
}

// heartbeatLoop writes a heartbeat frame on the fixed interval. A write
// failure closes the socket, which folds into the read loop's teardown.
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		writeMu.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, packet.Encode(packet.OpHeartbeat, nil))
		writeMu.Unlock()
		if err != nil {
			c.log.Warn("heartbeat write failed", slog.Any("err", err))
			_ = conn.Close()
			return
		}
		telemetry.HeartbeatsSent.Inc()
	}
}

// handleMessage decodes one physical read and routes the frames. Frames
// decoded before a truncation are still delivered; the truncation itself
// is returned as a transport error.
func (c *Client) handleMessage(data []byte) error {
	frames, err := packet.Decode(data)
	if err != nil {
		telemetry.DecodeErrors.Inc()
		c.log.Warn("frame decode error", slog.Any("err", err), slog.Int("salvaged", len(frames)))
	}
	for _, f := range frames {
		telemetry.FramesDecoded.Inc()
		switch f.Op {
		case packet.OpCommand:
			c.disp.Dispatch(f.Body)
		case packet.OpHeartbeatReply:
			if v, perr := packet.Popularity(f.Body); perr == nil {
				telemetry.SetPopularity(v)
			}
		case packet.OpAuthReply:
			// Already authenticated; a late duplicate is harmless.
		default:
			c.log.Debug("ignoring frame", slog.Int("op", int(f.Op)))
		}
	}
	return err
}

// hostIndex selects the candidate for a given attempt: round-robin across
// all known hosts.
func hostIndex(retry, hostCount int) int {
	if hostCount <= 0 {
		return 0
	}
	return retry % hostCount
}

// shouldRebootstrap forces a fresh bootstrap after enough consecutive
// failures that the cached token or host list may have expired.
func shouldRebootstrap(retry, hostCount int) bool {
	period := hostCount
	if period < 3 {
		period = 3
	}
	return retry > 0 && retry%period == 0
}

// backoffDelay grows exponentially from 1s and is capped; it never
// busy-loops.
func backoffDelay(retry int) time.Duration {
	if retry < 1 {
		return time.Second
	}
	shift := retry - 1
	if shift > 5 {
		shift = 5
	}
	d := time.Second << shift
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
