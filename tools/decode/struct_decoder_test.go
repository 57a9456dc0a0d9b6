package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type wireOp struct {
	ConversationID string `json:"conversation_id"`
	ServerMsgID    string `json:"server_msg_id"`
	Seq            int64  `json:"seq"`
	State          int32  `json:"state"`
}

func TestDecodeMap(t *testing.T) {
	// JSON 反序列化后的数字都是 float64
	m := map[string]any{
		"conversation_id": "p2p:a:b",
		"server_msg_id":   "sid-1",
		"seq":             float64(42),
		"state":           float64(2),
		"unknown":         "ignored",
	}
	op, err := DecodeMap[wireOp](m)
	require.NoError(t, err)
	require.Equal(t, "p2p:a:b", op.ConversationID)
	require.EqualValues(t, 42, op.Seq)
	require.EqualValues(t, 2, op.State)
}

func TestDecodeMapNil(t *testing.T) {
	_, err := DecodeMap[wireOp](nil)
	require.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	op, err := DecodeJSON[wireOp]([]byte(`{"conversation_id":"grp:1","seq":7}`))
	require.NoError(t, err)
	require.Equal(t, "grp:1", op.ConversationID)
	require.EqualValues(t, 7, op.Seq)

	_, err = DecodeJSON[wireOp]([]byte(`not json`))
	require.Error(t, err)
}
