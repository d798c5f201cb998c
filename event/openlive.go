package event

// Open-platform upstream shapes. Unlike the web endpoint these arrive as
// flat data objects with stable field names and per-message ids.

import "encoding/json"

type openLiveUser struct {
	OpenID         string `json:"open_id"`
	Uname          string `json:"uname"`
	UFace          string `json:"uface"`
	FansMedalLevel int    `json:"fans_medal_level"`
	FansMedalName  string `json:"fans_medal_name"`
	GuardLevel     int    `json:"guard_level"`
}

type openLiveDanmaku struct {
	openLiveUser
	RoomID    int64  `json:"room_id"`
	Msg       string `json:"msg"`
	MsgID     string `json:"msg_id"`
	Timestamp int64  `json:"timestamp"`
	IsAdmin   int    `json:"is_admin"`
}

func (d *openLiveDanmaku) normalize(raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeDanmaku,
		Platform:  PlatformOpenLive,
		RoomID:    d.RoomID,
		Timestamp: d.Timestamp,
		MsgID:     d.MsgID,
		UserID:    d.OpenID,
		UserName:  d.Uname,
		Raw:       raw,
		Danmaku: &DanmakuPayload{
			UserFace:   d.UFace,
			Content:    d.Msg,
			GuardLevel: d.GuardLevel,
			MedalLevel: d.FansMedalLevel,
			MedalName:  d.FansMedalName,
			IsAdmin:    d.IsAdmin == 1,
		},
	}
}

type openLiveGift struct {
	openLiveUser
	RoomID    int64  `json:"room_id"`
	GiftID    int64  `json:"gift_id"`
	GiftName  string `json:"gift_name"`
	GiftNum   int    `json:"gift_num"`
	Price     int64  `json:"price"`
	Paid      bool   `json:"paid"`
	Timestamp int64  `json:"timestamp"`
	MsgID     string `json:"msg_id"`
}

func (g *openLiveGift) normalize(raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeGift,
		Platform:  PlatformOpenLive,
		RoomID:    g.RoomID,
		Timestamp: g.Timestamp,
		MsgID:     g.MsgID,
		UserID:    g.OpenID,
		UserName:  g.Uname,
		Raw:       raw,
		Gift: &GiftPayload{
			UserFace: g.UFace,
			GiftID:   g.GiftID,
			GiftName: g.GiftName,
			GiftNum:  g.GiftNum,
			Price:    g.Price,
			Paid:     g.Paid,
		},
	}
}

type openLiveSuperChat struct {
	openLiveUser
	RoomID    int64  `json:"room_id"`
	MessageID int64  `json:"message_id"`
	Message   string `json:"message"`
	Rmb       int64  `json:"rmb"`
	Timestamp int64  `json:"timestamp"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	MsgID     string `json:"msg_id"`
}

func (sc *openLiveSuperChat) normalize(raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeSuperChat,
		Platform:  PlatformOpenLive,
		RoomID:    sc.RoomID,
		Timestamp: sc.Timestamp,
		MsgID:     sc.MsgID,
		UserID:    sc.OpenID,
		UserName:  sc.Uname,
		Raw:       raw,
		SuperChat: &SuperChatPayload{
			UserFace:  sc.UFace,
			MessageID: sc.MessageID,
			Message:   sc.Message,
			Price:     sc.Rmb,
			StartTime: sc.StartTime,
			EndTime:   sc.EndTime,
		},
	}
}

type openLiveLike struct {
	openLiveUser
	RoomID    int64  `json:"room_id"`
	LikeText  string `json:"like_text"`
	LikeCount int    `json:"like_count"`
	Timestamp int64  `json:"timestamp"`
	MsgID     string `json:"msg_id"`
}

func (l *openLiveLike) normalize(raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeLike,
		Platform:  PlatformOpenLive,
		RoomID:    l.RoomID,
		Timestamp: l.Timestamp,
		MsgID:     l.MsgID,
		UserID:    l.OpenID,
		UserName:  l.Uname,
		Raw:       raw,
		Like: &LikePayload{
			UserFace:  l.UFace,
			LikeText:  l.LikeText,
			LikeCount: l.LikeCount,
		},
	}
}

type openLiveEnterRoom struct {
	openLiveUser
	RoomID    int64  `json:"room_id"`
	Timestamp int64  `json:"timestamp"`
	MsgID     string `json:"msg_id"`
}

func (e *openLiveEnterRoom) normalize(raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeEnterRoom,
		Platform:  PlatformOpenLive,
		RoomID:    e.RoomID,
		Timestamp: e.Timestamp,
		MsgID:     e.MsgID,
		UserID:    e.OpenID,
		UserName:  e.Uname,
		Raw:       raw,
		EnterRoom: &EnterRoomPayload{UserFace: e.UFace},
	}
}

type openLiveGuard struct {
	UserInfo   openLiveUser `json:"user_info"`
	RoomID     int64        `json:"room_id"`
	GuardLevel int          `json:"guard_level"`
	GuardNum   int          `json:"guard_num"`
	GuardUnit  string       `json:"guard_unit"`
	Timestamp  int64        `json:"timestamp"`
	MsgID      string       `json:"msg_id"`
}

func (g *openLiveGuard) normalize(raw json.RawMessage) *Event {
	return &Event{
		Type:      TypeGuardBuy,
		Platform:  PlatformOpenLive,
		RoomID:    g.RoomID,
		Timestamp: g.Timestamp,
		MsgID:     g.MsgID,
		UserID:    g.UserInfo.OpenID,
		UserName:  g.UserInfo.Uname,
		Raw:       raw,
		GuardBuy: &GuardBuyPayload{
			UserFace:   g.UserInfo.UFace,
			GuardLevel: g.GuardLevel,
			GuardNum:   g.GuardNum,
			GuardUnit:  g.GuardUnit,
		},
	}
}
