package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	m, err := Decode([]byte(`{"request_id":"r1","session_id":"s1","agree":true,"targets_id":["u1","u2"],"n":3}`))
	require.NoError(t, err)
	require.Equal(t, "r1", m.String(FieldRequestID))
	require.True(t, m.Bool(FieldAgree))
	require.Equal(t, []string{"u1", "u2"}, m.Strings(FieldTargetsID))
	require.Equal(t, "", m.String("n"))
	require.Equal(t, "", m.String("missing"))
	require.False(t, m.Success())

	empty, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	for _, bad := range []string{`[1,2]`, `"str"`, `null`, `{`} {
		_, err := Decode([]byte(bad))
		require.ErrorIs(t, err, ErrNotObject, bad)
	}
}

func TestMessageSetAndInto(t *testing.T) {
	m, err := Decode([]byte(`{"user_id":"spoofed","success":true,"errmsg":"","user_info":{"user_id":"u9","nickname":"n"}}`))
	require.NoError(t, err)
	m.SetString(FieldUserID, "u1")
	require.Equal(t, "u1", m.String(FieldUserID))

	var rsp GetUserInfoRsp
	require.NoError(t, m.Into(&rsp))
	require.True(t, rsp.Success)
	require.Equal(t, "n", rsp.UserInfo.Nickname)

	m.Delete("user_info", "absent")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"user_id":"u1","success":true,"errmsg":""}`, string(out))
}

func TestNotifyOmitsUnsetPayloads(t *testing.T) {
	out, err := json.Marshal(&Notify{Type: NotifyFriendRemove, FriendRemove: &FriendRemoveNotify{UserID: "u1"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"notify_type":"FRIEND_REMOVE_NOTIFY","friend_remove":{"user_id":"u1"}}`, string(out))
}
