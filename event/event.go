// Package event defines the normalized live-room event model, the
// per-platform command adapters that produce it, and the ordered queue that
// hands events to the consumer.
package event

import "encoding/json"

// Type tags an event category.
type Type string

const (
	TypeDanmaku   Type = "danmaku"
	TypeGift      Type = "gift"
	TypeSuperChat Type = "super_chat"
	TypeLike      Type = "like"
	TypeEnterRoom Type = "enter_room"
	TypeGuardBuy  Type = "guard_buy"
)

// Source platforms.
const (
	PlatformWeb      = "web"
	PlatformOpenLive = "open_live"
)

// Event is the normalized form of one upstream command. Exactly one of the
// payload pointers matching Type is set; every event is built by a single
// platform adapter and never mixes fields across platforms.
type Event struct {
	Type     Type   `json:"type"`
	Platform string `json:"platform"`
	RoomID   int64  `json:"room_id"`
	// Timestamp is seconds since epoch.
	Timestamp int64  `json:"timestamp"`
	MsgID     string `json:"msg_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	// Raw keeps the untransformed command body for diagnostics.
	Raw json.RawMessage `json:"-"`

	Danmaku   *DanmakuPayload   `json:"danmaku,omitempty"`
	Gift      *GiftPayload      `json:"gift,omitempty"`
	SuperChat *SuperChatPayload `json:"super_chat,omitempty"`
	Like      *LikePayload      `json:"like,omitempty"`
	EnterRoom *EnterRoomPayload `json:"enter_room,omitempty"`
	GuardBuy  *GuardBuyPayload  `json:"guard_buy,omitempty"`
}

// DanmakuPayload is a scrolling chat message.
type DanmakuPayload struct {
	UserFace   string `json:"user_face"`
	Content    string `json:"content"`
	GuardLevel int    `json:"guard_level"`
	MedalLevel int    `json:"medal_level"`
	MedalName  string `json:"medal_name"`
	IsAdmin    bool   `json:"is_admin"`
}

// GiftPayload is a gift send. Price is in upstream units (1000 = 1 CNY for
// paid gifts on the web platform).
type GiftPayload struct {
	UserFace string `json:"user_face"`
	GiftID   int64  `json:"gift_id"`
	GiftName string `json:"gift_name"`
	GiftNum  int    `json:"gift_num"`
	Price    int64  `json:"price"`
	Paid     bool   `json:"paid"`
}

// SuperChatPayload is a paid pinned comment. Price is in CNY.
type SuperChatPayload struct {
	UserFace  string `json:"user_face"`
	MessageID int64  `json:"message_id"`
	Message   string `json:"message"`
	Price     int64  `json:"price"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

// LikePayload is a room like.
type LikePayload struct {
	UserFace  string `json:"user_face"`
	LikeText  string `json:"like_text"`
	LikeCount int    `json:"like_count"`
}

// EnterRoomPayload marks a viewer entering the room.
type EnterRoomPayload struct {
	UserFace string `json:"user_face"`
}

// GuardBuyPayload is a paid membership (guard) purchase.
type GuardBuyPayload struct {
	UserFace   string `json:"user_face"`
	GuardLevel int    `json:"guard_level"`
	GuardNum   int    `json:"guard_num"`
	GuardUnit  string `json:"guard_unit"`
	Price      int64  `json:"price"`
	GiftID     int64  `json:"gift_id"`
	GiftName   string `json:"gift_name"`
}
