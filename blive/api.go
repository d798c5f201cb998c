// Package blive implements the resilient danmaku connection client: room
// bootstrap over the platform HTTP APIs, the websocket connection state
// machine with host failover, and the per-platform sessions that feed the
// event dispatcher.
package blive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/onnwee/blive-ingest/wbi"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.0.0 Safari/537.36"

const (
	uidInitURL     = "https://api.bilibili.com/x/web-interface/nav"
	roomInitURL    = "https://api.live.bilibili.com/room/v1/Room/get_info"
	danmakuConfURL = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"
)

// HostCandidate is one danmaku server endpoint from the conf response.
type HostCandidate struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	WSSPort int    `json:"wss_port"`
	WSPort  int    `json:"ws_port"`
}

// defaultHostList is the single built-in fallback used when host
// resolution fails; it must always permit a connection attempt.
var defaultHostList = []HostCandidate{
	{Host: "broadcastlv.chat.bilibili.com", Port: 2243, WSSPort: 443, WSPort: 2244},
}

// RoomIdentity resolves a user-supplied (possibly short) room id to its
// canonical form. Canonical fields stay zero until a successful bootstrap
// and are degraded-filled from the requested id on failure.
type RoomIdentity struct {
	RequestedID int64
	CanonicalID int64
	OwnerUID    int64
}

// apiMessage tolerates endpoints that return message as a string, a
// number, or not at all.
type apiMessage string

func (m *apiMessage) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = apiMessage(s)
		return nil
	}
	*m = apiMessage(string(b))
	return nil
}

// apiEnvelope is the common response wrapper: code 0 means success.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message apiMessage      `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ParseCookieStr splits a cookie-style "name=value; name2=value2" string
// permissively: malformed entries are skipped, never fatal.
func ParseCookieStr(s string) map[string]string {
	cookies := map[string]string{}
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies
}

// webSession holds everything the web platform needs to bootstrap and
// authenticate a connection. The signer shares the session's HTTP client
// and travels with it; its key cache is scoped to this session only.
type webSession struct {
	httpClient *http.Client
	signer     *wbi.Signer
	cookies    map[string]string
	log        *slog.Logger

	// endpoint overrides for tests; empty means production
	navURL  string
	roomURL string
	confURL string

	mu    sync.RWMutex
	room  RoomIdentity
	uid   *int64 // nil until identity resolution ran
	hosts []HostCandidate
	token *string
}

func newWebSession(roomID int64, cookieStr string, hc *http.Client, signer *wbi.Signer) *webSession {
	return &webSession{
		httpClient: hc,
		signer:     signer,
		cookies:    ParseCookieStr(cookieStr),
		log:        slog.Default().With(slog.String("component", "bootstrap"), slog.Int64("room", roomID)),
		room:       RoomIdentity{RequestedID: roomID},
		hosts:      defaultHostList,
	}
}

func (s *webSession) Platform() string { return "web" }

// RoomID returns the canonical room id, or the requested one before a
// successful resolution.
func (s *webSession) RoomID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room.CanonicalID != 0 {
		return s.room.CanonicalID
	}
	return s.room.RequestedID
}

// Room returns a snapshot of the resolved identity.
func (s *webSession) Room() RoomIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *webSession) HostCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hosts)
}

// WSURL picks the host for this attempt by retry count, round-robin over
// the candidate list.
func (s *webSession) WSURL(retry int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.hosts[hostIndex(retry, len(s.hosts))]
	return fmt.Sprintf("wss://%s:%d/sub", h.Host, h.WSSPort)
}

// AuthBody builds the handshake payload. The token is omitted entirely
// when bootstrap could not obtain one.
func (s *webSession) AuthBody() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var uid int64
	if s.uid != nil {
		uid = *s.uid
	}
	roomID := s.room.CanonicalID
	if roomID == 0 {
		roomID = s.room.RequestedID
	}
	body := map[string]any{
		"uid":      uid,
		"roomid":   roomID,
		"protover": 3,
		"platform": "web",
		"type":     2,
		"buvid":    s.buvid(),
	}
	if s.token != nil {
		body["key"] = *s.token
	}
	return json.Marshal(body)
}

// buvid is the device identifier cookie; callers must hold at least a
// read lock or be single-threaded with respect to bootstrap.
func (s *webSession) buvid() string {
	return s.cookies["buvid3"]
}

func (s *webSession) http() *http.Client {
	if s.httpClient != nil {
		return s.httpClient
	}
	return http.DefaultClient
}

// apiGet performs one bootstrap API call with the fixed user agent and the
// session cookies, decoding the common envelope.
func (s *webSession) apiGet(ctx context.Context, rawURL string, params url.Values) (*apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("User-Agent", userAgent)
	for name, value := range s.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	resp, err := s.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", req.URL.Path, resp.Status)
	}
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", req.URL.Path, err)
	}
	return &env, nil
}

// Bootstrap runs the four resolution steps. It returns true when fully
// healthy and false when any step degraded to defaults; either way the
// session is left in a connectable state.
func (s *webSession) Bootstrap(ctx context.Context) bool {
	healthy := true

	s.mu.RLock()
	uidResolved := s.uid != nil
	s.mu.RUnlock()
	if !uidResolved {
		if !s.initUID(ctx) {
			s.log.Warn("user identity resolution failed, defaulting to anonymous")
			anon := int64(0)
			s.mu.Lock()
			s.uid = &anon
			s.mu.Unlock()
		}
	}

	if s.buvid() == "" {
		s.log.Warn("missing buvid cookie")
	}

	if !s.initRoom(ctx) {
		healthy = false
		s.mu.Lock()
		s.room.CanonicalID = s.room.RequestedID
		s.room.OwnerUID = 0
		s.mu.Unlock()
	}

	if !s.initHostServer(ctx) {
		healthy = false
		s.mu.Lock()
		s.hosts = defaultHostList
		s.token = nil
		s.mu.Unlock()
	}

	return healthy
}

// initUID resolves the logged-in user id. Code -101 means "not logged in"
// and resolves to the anonymous id 0, which counts as success.
func (s *webSession) initUID(ctx context.Context) bool {
	if s.cookies["SESSDATA"] == "" {
		return false
	}
	endpoint := s.navURL
	if endpoint == "" {
		endpoint = uidInitURL
	}
	env, err := s.apiGet(ctx, endpoint, nil)
	if err != nil {
		s.log.Warn("identity request failed", slog.Any("err", err))
		return false
	}
	if env.Code == -101 {
		anon := int64(0)
		s.mu.Lock()
		s.uid = &anon
		s.mu.Unlock()
		return true
	}
	if env.Code != 0 {
		s.log.Warn("identity endpoint returned error", slog.Int("code", env.Code), slog.String("message", string(env.Message)))
		return false
	}
	var data struct {
		IsLogin bool  `json:"isLogin"`
		Mid     int64 `json:"mid"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.log.Warn("identity response malformed", slog.Any("err", err))
		return false
	}
	uid := int64(0)
	if data.IsLogin {
		uid = data.Mid
	}
	s.mu.Lock()
	s.uid = &uid
	s.mu.Unlock()
	return true
}

// initRoom resolves the requested (possibly short) room id to the
// canonical id and owner.
func (s *webSession) initRoom(ctx context.Context) bool {
	endpoint := s.roomURL
	if endpoint == "" {
		endpoint = roomInitURL
	}
	s.mu.RLock()
	requested := s.room.RequestedID
	s.mu.RUnlock()
	params := url.Values{}
	params.Set("room_id", strconv.FormatInt(requested, 10))
	env, err := s.apiGet(ctx, endpoint, params)
	if err != nil {
		s.log.Warn("room resolution request failed", slog.Any("err", err))
		return false
	}
	if env.Code != 0 {
		s.log.Warn("room resolution returned error", slog.Int("code", env.Code), slog.String("message", string(env.Message)))
		return false
	}
	var data struct {
		RoomID int64 `json:"room_id"`
		UID    int64 `json:"uid"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.log.Warn("room resolution response malformed", slog.Any("err", err))
		return false
	}
	s.mu.Lock()
	s.room.CanonicalID = data.RoomID
	s.room.OwnerUID = data.UID
	s.mu.Unlock()
	return true
}

// initHostServer fetches the candidate host list and connection token. The
// request is WBI-signed; a signing failure degrades to unsigned params.
func (s *webSession) initHostServer(ctx context.Context) bool {
	endpoint := s.confURL
	if endpoint == "" {
		endpoint = danmakuConfURL
	}
	params := url.Values{}
	params.Set("id", strconv.FormatInt(s.RoomID(), 10))
	params.Set("type", "0")
	signed := s.signer.Sign(ctx, params)

	env, err := s.apiGet(ctx, endpoint, signed)
	if err != nil {
		s.log.Warn("danmaku conf request failed", slog.Any("err", err))
		return false
	}
	if env.Code != 0 {
		s.log.Warn("danmaku conf returned error", slog.Int("code", env.Code), slog.String("message", string(env.Message)))
		return false
	}
	var data struct {
		HostList []HostCandidate `json:"host_list"`
		Token    string          `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		s.log.Warn("danmaku conf response malformed", slog.Any("err", err))
		return false
	}
	if len(data.HostList) == 0 {
		s.log.Warn("danmaku conf returned empty host list")
		return false
	}
	s.mu.Lock()
	s.hosts = data.HostList
	s.token = &data.Token
	s.mu.Unlock()
	return true
}
