package gateway

import "chat-fabric/api"

// Backend methods the gateway calls, by "Service.Method".
const (
	MethodSpeechRecognize      = "SpeechService.SpeechRecognize"
	MethodGetSingleFile        = "FileService.GetSingleFile"
	MethodGetMultiFile         = "FileService.GetMultiFile"
	MethodPutSingleFile        = "FileService.PutSingleFile"
	MethodPutMultiFile         = "FileService.PutMultiFile"
	MethodUserRegister         = "UserService.UserRegister"
	MethodUserLogin            = "UserService.UserLogin"
	MethodGetPhoneVerifyCode   = "UserService.GetPhoneVerifyCode"
	MethodPhoneRegister        = "UserService.PhoneRegister"
	MethodPhoneLogin           = "UserService.PhoneLogin"
	MethodGetUserInfo          = "UserService.GetUserInfo"
	MethodUserSearch           = "UserService.UserSearch"
	MethodSetUserAvatar        = "UserService.SetUserAvatar"
	MethodSetUserName          = "UserService.SetUserName"
	MethodSetUserPhone         = "UserService.SetUserPhoneNumber"
	MethodSetUserDescription   = "UserService.SetUserDescription"
	MethodNewMessage           = "ForwardService.NewMessage"
	MethodGetHistoryMessage    = "MessageService.GetHistoryMessage"
	MethodGetRecentMessage     = "MessageService.GetRecentMessage"
	MethodMessageSearch        = "MessageService.MessageSearch"
	MethodGetFriend            = "FriendService.GetFriend"
	MethodFriendRemove         = "FriendService.FriendRemove"
	MethodFriendAddSend        = "FriendService.FriendAddSend"
	MethodFriendAddProcess     = "FriendService.FriendAddProcess"
	MethodGetRequester         = "FriendService.GetRequester"
	MethodGetChatSession       = "FriendService.GetChatSession"
	MethodChatSessionCreate    = "FriendService.ChatSessionCreate"
	MethodGetChatSessionMember = "FriendService.GetChatSessionMember"
)

// Services names the logical backend services as they are registered.
type Services struct {
	Speech  string
	File    string
	User    string
	Forward string
	Message string
	Friend  string
}

// Route binds one POST path to one backend method.
type Route struct {
	Path    string
	Service string
	Method  string
	// Public routes are served without a login session.
	Public bool
	// Strip lists response fields only the gateway consumes.
	Strip []string
	// After runs once the backend answered successfully.
	After func(*Exchange)
}

// Routes is the full HTTP surface.
func Routes(svc Services, n *Notifier) []Route {
	return []Route{
		{Path: "/service/speech/speech_recognize", Service: svc.Speech, Method: MethodSpeechRecognize},

		{Path: "/service/file/get_single_file", Service: svc.File, Method: MethodGetSingleFile},
		{Path: "/service/file/get_multi_file", Service: svc.File, Method: MethodGetMultiFile},
		{Path: "/service/file/put_single_file", Service: svc.File, Method: MethodPutSingleFile},
		{Path: "/service/file/put_multi_file", Service: svc.File, Method: MethodPutMultiFile},

		{Path: "/service/user/user_register", Service: svc.User, Method: MethodUserRegister, Public: true},
		{Path: "/service/user/user_login", Service: svc.User, Method: MethodUserLogin, Public: true},
		{Path: "/service/user/get_phone_verify_code", Service: svc.User, Method: MethodGetPhoneVerifyCode, Public: true},
		{Path: "/service/user/phone_register", Service: svc.User, Method: MethodPhoneRegister, Public: true},
		{Path: "/service/user/phone_login", Service: svc.User, Method: MethodPhoneLogin, Public: true},
		{Path: "/service/user/get_user_info", Service: svc.User, Method: MethodGetUserInfo},
		{Path: "/service/user/user_search", Service: svc.User, Method: MethodUserSearch},
		{Path: "/service/user/set_user_avatar", Service: svc.User, Method: MethodSetUserAvatar},
		{Path: "/service/user/set_user_name", Service: svc.User, Method: MethodSetUserName},
		{Path: "/service/user/set_user_phone", Service: svc.User, Method: MethodSetUserPhone},
		{Path: "/service/user/set_user_description", Service: svc.User, Method: MethodSetUserDescription},

		{
			Path:    "/service/forward/new_message",
			Service: svc.Forward,
			Method:  MethodNewMessage,
			Strip:   []string{api.FieldMessageInfo, api.FieldTargetsID},
			After:   n.NewMessage,
		},

		{Path: "/service/message/get_history_message", Service: svc.Message, Method: MethodGetHistoryMessage},
		{Path: "/service/message/get_recent_message", Service: svc.Message, Method: MethodGetRecentMessage},
		{Path: "/service/message/message_search", Service: svc.Message, Method: MethodMessageSearch},

		{Path: "/service/friend/get_friend", Service: svc.Friend, Method: MethodGetFriend},
		{Path: "/service/friend/friend_remove", Service: svc.Friend, Method: MethodFriendRemove, After: n.FriendRemove},
		{Path: "/service/friend/friend_add_send", Service: svc.Friend, Method: MethodFriendAddSend, After: n.FriendAddSend},
		{Path: "/service/friend/friend_add_process", Service: svc.Friend, Method: MethodFriendAddProcess, After: n.FriendAddProcess},
		{Path: "/service/friend/get_requester", Service: svc.Friend, Method: MethodGetRequester},
		{Path: "/service/friend/get_chat_session", Service: svc.Friend, Method: MethodGetChatSession},
		{
			Path:    "/service/friend/chat_session_create",
			Service: svc.Friend,
			Method:  MethodChatSessionCreate,
			Strip:   []string{api.FieldChatSessionInfo},
			After:   n.ChatSessionCreate,
		},
		{Path: "/service/friend/get_chat_session_member", Service: svc.Friend, Method: MethodGetChatSessionMember},
	}
}
