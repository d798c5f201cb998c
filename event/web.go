package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Web-platform upstream shapes. The web endpoint encodes danmaku as a
// positional info array and everything else as a data object; each shape is
// first parsed from the command body, then normalized into an Event.

// Command is the decoded envelope of one server-command frame.
type Command struct {
	Cmd  string          `json:"cmd"`
	Info json.RawMessage `json:"info"`
	Data json.RawMessage `json:"data"`
}

// flexString tolerates upstream fields that are sometimes numbers and
// sometimes strings (message ids, error text).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type webDanmaku struct {
	timestamp  int64 // seconds
	rnd        string
	content    string
	uid        int64
	uname      string
	admin      bool
	face       string
	medalLevel int
	medalName  string
	privilege  int
}

// parseWebDanmaku unpacks the positional DANMU_MSG info array:
// info[0][4] timestamp (ms), info[0][5] rnd, info[1] text,
// info[2] = [uid, uname, admin, ...], info[3] = [medal_level, medal_name, ...],
// info[7] privilege type. The avatar lives in an optional struct at
// info[0][15].
func parseWebDanmaku(info json.RawMessage) (*webDanmaku, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(info, &arr); err != nil {
		return nil, fmt.Errorf("info is not an array: %w", err)
	}
	if len(arr) < 3 {
		return nil, fmt.Errorf("info has %d elements, need at least 3", len(arr))
	}
	d := &webDanmaku{}

	var meta []json.RawMessage
	if err := json.Unmarshal(arr[0], &meta); err != nil {
		return nil, fmt.Errorf("info[0]: %w", err)
	}
	if len(meta) > 4 {
		var ms int64
		if err := json.Unmarshal(meta[4], &ms); err == nil {
			d.timestamp = ms / 1000
		}
	}
	if len(meta) > 5 {
		var rnd flexString
		if err := json.Unmarshal(meta[5], &rnd); err == nil {
			d.rnd = string(rnd)
		}
	}
	if len(meta) > 15 {
		var extra struct {
			User struct {
				Base struct {
					Face string `json:"face"`
				} `json:"base"`
			} `json:"user"`
		}
		if err := json.Unmarshal(meta[15], &extra); err == nil {
			d.face = extra.User.Base.Face
		}
	}

	if err := json.Unmarshal(arr[1], &d.content); err != nil {
		return nil, fmt.Errorf("info[1]: %w", err)
	}

	var user []json.RawMessage
	if err := json.Unmarshal(arr[2], &user); err != nil {
		return nil, fmt.Errorf("info[2]: %w", err)
	}
	if len(user) < 2 {
		return nil, fmt.Errorf("info[2] has %d elements, need at least 2", len(user))
	}
	if err := json.Unmarshal(user[0], &d.uid); err != nil {
		return nil, fmt.Errorf("info[2][0]: %w", err)
	}
	if err := json.Unmarshal(user[1], &d.uname); err != nil {
		return nil, fmt.Errorf("info[2][1]: %w", err)
	}
	if len(user) > 2 {
		var admin int
		if err := json.Unmarshal(user[2], &admin); err == nil {
			d.admin = admin == 1
		}
	}

	if len(arr) > 3 {
		var medal []json.RawMessage
		if err := json.Unmarshal(arr[3], &medal); err == nil && len(medal) >= 2 {
			_ = json.Unmarshal(medal[0], &d.medalLevel)
			_ = json.Unmarshal(medal[1], &d.medalName)
		}
	}
	if len(arr) > 7 {
		_ = json.Unmarshal(arr[7], &d.privilege)
	}
	return d, nil
}

func (d *webDanmaku) normalize(roomID int64, raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeDanmaku,
		Platform:  PlatformWeb,
		RoomID:    roomID,
		Timestamp: d.timestamp,
		MsgID:     d.rnd,
		UserID:    strconv.FormatInt(d.uid, 10),
		UserName:  d.uname,
		Raw:       raw,
		Danmaku: &DanmakuPayload{
			UserFace:   d.face,
			Content:    d.content,
			GuardLevel: d.privilege,
			MedalLevel: d.medalLevel,
			MedalName:  d.medalName,
			IsAdmin:    d.admin,
		},
	}
}

type webGift struct {
	UID       int64      `json:"uid"`
	Uname     string     `json:"uname"`
	Face      string     `json:"face"`
	GiftID    int64      `json:"giftId"`
	GiftName  string     `json:"giftName"`
	Num       int        `json:"num"`
	Price     int64      `json:"price"`
	CoinType  string     `json:"coin_type"`
	Timestamp int64      `json:"timestamp"`
	Rnd       flexString `json:"rnd"`
}

func (g *webGift) normalize(roomID int64, raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeGift,
		Platform:  PlatformWeb,
		RoomID:    roomID,
		Timestamp: g.Timestamp,
		MsgID:     string(g.Rnd),
		UserID:    strconv.FormatInt(g.UID, 10),
		UserName:  g.Uname,
		Raw:       raw,
		Gift: &GiftPayload{
			UserFace: g.Face,
			GiftID:   g.GiftID,
			GiftName: g.GiftName,
			GiftNum:  g.Num,
			Price:    g.Price,
			Paid:     g.CoinType == "gold",
		},
	}
}

type webSuperChat struct {
	ID        int64  `json:"id"`
	UID       int64  `json:"uid"`
	Message   string `json:"message"`
	Price     int64  `json:"price"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	UserInfo  struct {
		Uname string `json:"uname"`
		Face  string `json:"face"`
	} `json:"user_info"`
}

func (sc *webSuperChat) normalize(roomID int64, raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeSuperChat,
		Platform:  PlatformWeb,
		RoomID:    roomID,
		Timestamp: sc.StartTime,
		MsgID:     strconv.FormatInt(sc.ID, 10),
		UserID:    strconv.FormatInt(sc.UID, 10),
		UserName:  sc.UserInfo.Uname,
		Raw:       raw,
		SuperChat: &SuperChatPayload{
			UserFace:  sc.UserInfo.Face,
			MessageID: sc.ID,
			Message:   sc.Message,
			Price:     sc.Price,
			StartTime: sc.StartTime,
			EndTime:   sc.EndTime,
		},
	}
}

type webGuardBuy struct {
	UID        int64  `json:"uid"`
	Username   string `json:"username"`
	GuardLevel int    `json:"guard_level"`
	Num        int    `json:"num"`
	Price      int64  `json:"price"`
	GiftID     int64  `json:"gift_id"`
	GiftName   string `json:"gift_name"`
	StartTime  int64  `json:"start_time"`
}

func (g *webGuardBuy) normalize(roomID int64, raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeGuardBuy,
		Platform:  PlatformWeb,
		RoomID:    roomID,
		Timestamp: g.StartTime,
		UserID:    strconv.FormatInt(g.UID, 10),
		UserName:  g.Username,
		Raw:       raw,
		GuardBuy: &GuardBuyPayload{
			GuardLevel: g.GuardLevel,
			GuardNum:   g.Num,
			// The web payload carries no unit; months is the platform default.
			GuardUnit: "月",
			Price:     g.Price,
			GiftID:    g.GiftID,
			GiftName:  g.GiftName,
		},
	}
}

// Interact sub-types that map to events. All others are dropped.
const (
	interactEnter = 1
	interactLike  = 6
)

type webInteract struct {
	MsgType   int    `json:"msg_type"`
	UID       int64  `json:"uid"`
	Uname     string `json:"uname"`
	UFace     string `json:"uface"`
	Timestamp int64  `json:"timestamp"`
}

func (iw *webInteract) normalize(roomID int64, raw json.RawMessage) *Event {
	base := Event{
		Platform:  PlatformWeb,
		RoomID:    roomID,
		Timestamp: iw.Timestamp,
		UserID:    strconv.FormatInt(iw.UID, 10),
		UserName:  iw.Uname,
		Raw:       raw,
	}
	switch iw.MsgType {
	case interactEnter:
		base.Type = TypeEnterRoom
		base.EnterRoom = &EnterRoomPayload{UserFace: iw.UFace}
	case interactLike:
		base.Type = TypeLike
		base.Like = &LikePayload{UserFace: iw.UFace, LikeText: "为主播点赞了", LikeCount: 1}
	default:
		return nil
	}
	return &base
}
