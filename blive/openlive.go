package blive

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/blive-ingest/event"
)

const (
	openLiveBaseURL       = "https://live-open.biliapi.com"
	openLiveStartPath     = "/v2/app/start"
	openLiveEndPath       = "/v2/app/end"
	openLiveHeartbeatPath = "/v2/app/heartbeat"

	// App-session heartbeat interval required by the open platform; this
	// is separate from the 30s websocket heartbeat.
	appHeartbeatInterval = 20 * time.Second
)

// OpenLiveOptions configures a client for the open platform.
type OpenLiveOptions struct {
	// AccessKey / AccessSecret are the developer credentials.
	AccessKey    string
	AccessSecret string
	// AppID is the project id assigned by the platform.
	AppID int64
	// Code is the streamer's identity code.
	Code string
	// HeartbeatInterval is the websocket heartbeat; defaults to 30s.
	HeartbeatInterval time.Duration
	// BaseURL overrides the API origin; tests point it at a local server.
	BaseURL string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// NewOpenLiveClient builds an open-platform client. Bootstrap starts an
// app session; shutdown ends it.
func NewOpenLiveClient(opts OpenLiveOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	base := opts.BaseURL
	if base == "" {
		base = openLiveBaseURL
	}
	sess := &openLiveSession{
		httpClient:   hc,
		accessKey:    opts.AccessKey,
		accessSecret: opts.AccessSecret,
		appID:        opts.AppID,
		code:         opts.Code,
		baseURL:      base,
		log:          slog.Default().With(slog.String("component", "bootstrap"), slog.String("platform", event.PlatformOpenLive)),
	}
	return newClient(sess, opts.HeartbeatInterval)
}

// openLiveSession drives the open platform's app-session API: start a
// session to obtain the websocket endpoints and auth body, keep the
// session alive while connected, and end it on shutdown.
type openLiveSession struct {
	httpClient   *http.Client
	accessKey    string
	accessSecret string
	appID        int64
	code         string
	baseURL      string
	log          *slog.Logger

	mu       sync.RWMutex
	gameID   string
	authBody string
	wsLinks  []string
	roomID   int64
}

func (s *openLiveSession) Platform() string { return event.PlatformOpenLive }

func (s *openLiveSession) RoomID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *openLiveSession) HostCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.wsLinks) == 0 {
		return 1
	}
	return len(s.wsLinks)
}

// WSURL returns the link for this attempt. Links arrive as complete wss
// URLs from the start call.
func (s *openLiveSession) WSURL(retry int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.wsLinks) == 0 {
		return ""
	}
	return s.wsLinks[hostIndex(retry, len(s.wsLinks))]
}

// AuthBody returns the opaque handshake payload issued by the start call;
// it is sent verbatim.
func (s *openLiveSession) AuthBody() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.authBody == "" {
		return nil, fmt.Errorf("no app session: start call has not succeeded")
	}
	return []byte(s.authBody), nil
}

// Bootstrap starts (or restarts) the app session. Unlike the web
// platform there is no degraded fallback: without a session there is
// nothing to connect to, so failure leaves the previous session state in
// place and reports unhealthy.
func (s *openLiveSession) Bootstrap(ctx context.Context) bool {
	payload, _ := json.Marshal(map[string]any{
		"code":   s.code,
		"app_id": s.appID,
	})
	var data struct {
		GameInfo struct {
			GameID string `json:"game_id"`
		} `json:"game_info"`
		WebsocketInfo struct {
			AuthBody string   `json:"auth_body"`
			WSSLink  []string `json:"wss_link"`
		} `json:"websocket_info"`
		AnchorInfo struct {
			RoomID int64 `json:"room_id"`
		} `json:"anchor_info"`
	}
	if err := s.apiPost(ctx, openLiveStartPath, payload, &data); err != nil {
		s.log.Warn("app session start failed", slog.Any("err", err))
		return false
	}
	if len(data.WebsocketInfo.WSSLink) == 0 || data.WebsocketInfo.AuthBody == "" {
		s.log.Warn("app session start returned no websocket info")
		return false
	}
	s.mu.Lock()
	s.gameID = data.GameInfo.GameID
	s.authBody = data.WebsocketInfo.AuthBody
	s.wsLinks = data.WebsocketInfo.WSSLink
	s.roomID = data.AnchorInfo.RoomID
	s.mu.Unlock()
	s.log.Info("app session started", slog.String("game_id", data.GameInfo.GameID), slog.Int64("room", data.AnchorInfo.RoomID))
	return true
}

// Keepalive sends the app-session heartbeat every 20s while the websocket
// connection is live. A failed beat is logged and retried on the next
// tick; the platform tolerates occasional misses.
func (s *openLiveSession) Keepalive(ctx context.Context) {
	ticker := time.NewTicker(appHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.RLock()
		gameID := s.gameID
		s.mu.RUnlock()
		if gameID == "" {
			continue
		}
		payload, _ := json.Marshal(map[string]any{"game_id": gameID})
		if err := s.apiPost(ctx, openLiveHeartbeatPath, payload, nil); err != nil {
			s.log.Warn("app heartbeat failed", slog.Any("err", err))
		}
	}
}

// EndSession tears down the app session on the server.
func (s *openLiveSession) EndSession(ctx context.Context) {
	s.mu.RLock()
	gameID := s.gameID
	s.mu.RUnlock()
	if gameID == "" {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"app_id":  s.appID,
		"game_id": gameID,
	})
	if err := s.apiPost(ctx, openLiveEndPath, payload, nil); err != nil {
		s.log.Warn("app session end failed", slog.Any("err", err))
		return
	}
	s.mu.Lock()
	s.gameID = ""
	s.mu.Unlock()
}

// apiPost performs one signed open-platform call, decoding the response
// envelope into out when out is non-nil.
func (s *openLiveSession) apiPost(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range signedHeaders(s.accessKey, s.accessSecret, body) {
		req.Header.Set(k, v)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%s: code %d: %s", path, env.Code, string(env.Message))
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s: decode data: %w", path, err)
		}
	}
	return nil
}

// signedHeaders computes the open platform's HMAC-SHA256 request
// signature: the x-bili-* headers sorted by name and joined as "k:v"
// lines are the message, the developer secret is the key.
func signedHeaders(accessKey, accessSecret string, body []byte) map[string]string {
	sum := md5.Sum(body)
	headers := map[string]string{
		"x-bili-accesskeyid":       accessKey,
		"x-bili-content-md5":       hex.EncodeToString(sum[:]),
		"x-bili-signature-method":  "HMAC-SHA256",
		"x-bili-signature-nonce":   uuid.NewString(),
		"x-bili-signature-version": "1.0",
		"x-bili-timestamp":         strconv.FormatInt(time.Now().Unix(), 10),
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+":"+headers[k])
	}
	mac := hmac.New(sha256.New, []byte(accessSecret))
	mac.Write([]byte(strings.Join(lines, "\n")))
	headers["Authorization"] = hex.EncodeToString(mac.Sum(nil))
	return headers
}
