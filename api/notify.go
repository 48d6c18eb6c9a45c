package api

import "encoding/json"

type NotifyType string

const (
	NotifyFriendAddSend     NotifyType = "FRIEND_ADD_SEND_NOTIFY"
	NotifyFriendAddProcess  NotifyType = "FRIEND_ADD_PROCESS_NOTIFY"
	NotifyChatSessionCreate NotifyType = "CHAT_SESSION_CREATE_NOTIFY"
	NotifyChatMessage       NotifyType = "CHAT_MESSAGE_NOTIFY"
	NotifyFriendRemove      NotifyType = "FRIEND_REMOVE_NOTIFY"
)

type FriendAddSendNotify struct {
	UserInfo UserInfo `json:"user_info"`
}

type FriendAddProcessNotify struct {
	Agree    bool     `json:"agree"`
	UserInfo UserInfo `json:"user_info"`
}

type ChatSessionCreateNotify struct {
	ChatSessionInfo json.RawMessage `json:"chat_session_info"`
}

type NewMessageNotify struct {
	MessageInfo json.RawMessage `json:"message_info"`
}

type FriendRemoveNotify struct {
	UserID string `json:"user_id"`
}

// Notify is one server-to-client frame. Exactly one payload is set, matching
// Type.
type Notify struct {
	EventID            string                   `json:"notify_event_id,omitempty"`
	Type               NotifyType               `json:"notify_type"`
	FriendAddSend      *FriendAddSendNotify     `json:"friend_add_send,omitempty"`
	FriendAddProcess   *FriendAddProcessNotify  `json:"friend_add_process,omitempty"`
	NewChatSessionInfo *ChatSessionCreateNotify `json:"new_chat_session_info,omitempty"`
	NewMessageInfo     *NewMessageNotify        `json:"new_message_info,omitempty"`
	FriendRemove       *FriendRemoveNotify      `json:"friend_remove,omitempty"`
}
