package api

import "encoding/json"

type UserInfo struct {
	UserID      string `json:"user_id"`
	Nickname    string `json:"nickname,omitempty"`
	Description string `json:"description,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type GetUserInfoReq struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
}

type GetUserInfoRsp struct {
	RequestID string   `json:"request_id"`
	Success   bool     `json:"success"`
	ErrMsg    string   `json:"errmsg,omitempty"`
	UserInfo  UserInfo `json:"user_info"`
}

type ChatSessionInfo struct {
	SingleChatFriendID string          `json:"single_chat_friend_id,omitempty"`
	ChatSessionID      string          `json:"chat_session_id"`
	ChatSessionName    string          `json:"chat_session_name,omitempty"`
	PrevMessage        json.RawMessage `json:"prev_message,omitempty"`
	Avatar             string          `json:"avatar,omitempty"`
}

// Fields of backend bodies the gateway acts on.
const (
	FieldMessageInfo     = "message_info"
	FieldTargetsID       = "targets_id"
	FieldPeerID          = "peer_id"
	FieldRespondentID    = "respondent_id"
	FieldRequesterID     = "requester_id"
	FieldAgree           = "agree"
	FieldChatSessionID   = "chat_session_id"
	FieldChatSessionInfo = "chat_session_info"
	FieldMembersID       = "members_id"
)
