package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"chat-fabric/api"
	"chat-fabric/telemetry"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

// Notifier pushes notification frames to users with a live connection.
// Delivery is best effort and at most once: offline users and full queues
// are skipped and never reported to the triggering request.
type Notifier struct {
	conns       *Registry
	channels    Channels
	userService string
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewNotifier(conns *Registry, channels Channels, userService string, logger *zap.Logger, m *metrics.Metrics) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		conns:       conns,
		channels:    channels,
		userService: userService,
		logger:      logger.Named("notifier"),
		metrics:     telemetry.OrNop(m),
	}
}

// Notify sends n to every target except exclude and returns how many frames
// were queued.
func (n *Notifier) Notify(targets []string, exclude string, notify *api.Notify) int {
	if notify.EventID == "" {
		notify.EventID = uuid.NewString()
	}
	frame, err := json.Marshal(notify)
	if err != nil {
		n.logger.Error("encode notification", zap.Error(err))
		return 0
	}
	typ := telemetry.LabelType.M(string(notify.Type))
	sent := 0
	for _, uid := range targets {
		if uid == exclude || uid == "" {
			continue
		}
		h, err := n.conns.Resolve(uid)
		if err != nil {
			n.metrics.IncrCounterWithLabels(telemetry.KeyNotifyOffline, 1, []metrics.Label{typ})
			continue
		}
		if err := h.Push(frame); err != nil {
			n.metrics.IncrCounterWithLabels(telemetry.KeyNotifyDropped, 1, []metrics.Label{typ})
			n.logger.Warn("notification dropped", zap.String("user", uid), telemetry.LabelType.L(string(notify.Type)), zap.Error(err))
			continue
		}
		sent++
		n.metrics.IncrCounterWithLabels(telemetry.KeyNotifySent, 1, []metrics.Label{typ})
	}
	return sent
}

func (n *Notifier) online(uid string) bool {
	_, err := n.conns.Resolve(uid)
	return err == nil
}

var errUserInfo = errors.New("gateway: user info unavailable")

// userInfo asks the user service for uid's profile.
func (n *Notifier) userInfo(ctx context.Context, requestID, uid string) (api.UserInfo, error) {
	ch, err := n.channels.Get(n.userService)
	if err != nil {
		return api.UserInfo{}, errors.Join(errUserInfo, err)
	}
	var rsp api.GetUserInfoRsp
	req := &api.GetUserInfoReq{RequestID: requestID, UserID: uid}
	if err := ch.Call(ctx, MethodGetUserInfo, req, &rsp); err != nil {
		return api.UserInfo{}, errors.Join(errUserInfo, err)
	}
	if !rsp.Success {
		return api.UserInfo{}, errors.Join(errUserInfo, errors.New(rsp.ErrMsg))
	}
	return rsp.UserInfo, nil
}

// Exchange is one completed backend call the notifier reacts to.
type Exchange struct {
	Ctx       context.Context
	UserID    string
	RequestID string
	Req       api.Message
	Rsp       api.Message
}

// NewMessage tells every member of the chat session except the sender.
func (n *Notifier) NewMessage(x *Exchange) {
	n.Notify(x.Rsp.Strings(api.FieldTargetsID), x.UserID, &api.Notify{
		Type:           api.NotifyChatMessage,
		NewMessageInfo: &api.NewMessageNotify{MessageInfo: x.Rsp[api.FieldMessageInfo]},
	})
}

// FriendRemove tells the removed peer.
func (n *Notifier) FriendRemove(x *Exchange) {
	n.Notify([]string{x.Req.String(api.FieldPeerID)}, x.UserID, &api.Notify{
		Type:         api.NotifyFriendRemove,
		FriendRemove: &api.FriendRemoveNotify{UserID: x.UserID},
	})
}

// FriendAddSend tells the respondent who asked.
func (n *Notifier) FriendAddSend(x *Exchange) {
	respondent := x.Req.String(api.FieldRespondentID)
	if respondent == x.UserID || !n.online(respondent) {
		return
	}
	requester, err := n.userInfo(x.Ctx, x.RequestID, x.UserID)
	if err != nil {
		n.logger.Warn("skip friend request notification", zap.String("request_id", x.RequestID), zap.Error(err))
		return
	}
	n.Notify([]string{respondent}, x.UserID, &api.Notify{
		Type:          api.NotifyFriendAddSend,
		FriendAddSend: &api.FriendAddSendNotify{UserInfo: requester},
	})
}

// FriendAddProcess tells the requester the outcome and, when accepted,
// announces the new single chat session to it. The respondent is the caller
// and learns the session id from its own response.
func (n *Notifier) FriendAddProcess(x *Exchange) {
	requesterID := x.Req.String(api.FieldRequesterID)
	if requesterID == x.UserID || !n.online(requesterID) {
		return
	}
	respondent, err := n.userInfo(x.Ctx, x.RequestID, x.UserID)
	if err != nil {
		n.logger.Warn("skip friend process notification", zap.String("request_id", x.RequestID), zap.Error(err))
		return
	}
	agree := x.Req.Bool(api.FieldAgree)
	n.Notify([]string{requesterID}, x.UserID, &api.Notify{
		Type:             api.NotifyFriendAddProcess,
		FriendAddProcess: &api.FriendAddProcessNotify{Agree: agree, UserInfo: respondent},
	})
	if !agree {
		return
	}
	n.notifySession(requesterID, x.UserID, &api.ChatSessionInfo{
		SingleChatFriendID: x.UserID,
		ChatSessionID:      x.Rsp.String(api.FieldChatSessionID),
		ChatSessionName:    respondent.Nickname,
		Avatar:             respondent.Avatar,
	})
}

func (n *Notifier) notifySession(uid, exclude string, info *api.ChatSessionInfo) {
	raw, err := json.Marshal(info)
	if err != nil {
		n.logger.Error("encode chat session", zap.Error(err))
		return
	}
	n.Notify([]string{uid}, exclude, &api.Notify{
		Type:               api.NotifyChatSessionCreate,
		NewChatSessionInfo: &api.ChatSessionCreateNotify{ChatSessionInfo: raw},
	})
}

// ChatSessionCreate tells every member of a new group session except its
// creator.
func (n *Notifier) ChatSessionCreate(x *Exchange) {
	n.Notify(x.Req.Strings(api.FieldMembersID), x.UserID, &api.Notify{
		Type:               api.NotifyChatSessionCreate,
		NewChatSessionInfo: &api.ChatSessionCreateNotify{ChatSessionInfo: x.Rsp[api.FieldChatSessionInfo]},
	})
}
