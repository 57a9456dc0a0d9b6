package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fellowchat/module/chat/composer"
	"fellowchat/module/chat/model"
	"fellowchat/module/chat/seq"
	"fellowchat/module/chat/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type allowAllOracle struct{}

func (allowAllOracle) MutuallyFollow(context.Context, string, string) (bool, error) {
	return true, nil
}

type dropPub struct{}

func (dropPub) Publish(model.Event) {}

func newTestRouter(t *testing.T) (*gin.Engine, store.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := store.NewMemDB()
	comp := composer.New(composer.Options{
		DB:     db,
		Seq:    seq.NewMemAllocator(),
		Oracle: allowAllOracle{},
		Pub:    dropPub{},
		Origin: "gw-test",
	})
	r := gin.New()
	// 测试桩：token 即 user id
	parse := func(token string) (string, error) { return token, nil }
	New(comp, nil).Register(r, parse, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, db
}

func do(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+user)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendAndHistoryOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/v1/messages", "alice", gin.H{
		"participant_ids": []string{"alice", "bob"},
		"content":         "hello bob",
		"client_msg_id":   "c1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sendResp struct {
		Data model.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sendResp))
	require.Equal(t, "hello bob", sendResp.Data.Content)
	require.EqualValues(t, 1, sendResp.Data.Seq)
	convID := sendResp.Data.ConversationID

	w = do(t, r, http.MethodGet, "/v1/conversations/"+convID+"/messages?after_seq=0", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var histResp struct {
		Data []model.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &histResp))
	require.Len(t, histResp.Data, 1)

	// 非参与者拿不到历史
	w = do(t, r, http.MethodGet, "/v1/conversations/"+convID+"/messages", "mallory", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthRequired(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidationError(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/v1/messages", "alice", gin.H{
		"participant_ids": []string{"alice", "bob"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcceptDeclineFlowOverHTTP(t *testing.T) {
	r, db := newTestRouter(t)

	// 预置 pending 会话
	convID := model.P2PConversationID("alice", "bob")
	conv := model.NewConversation(convID, []string{"alice", "bob"}, "alice", model.StatusPending, 0)
	_, _, err := db.GetOrCreateConversation(context.Background(), conv)
	require.NoError(t, err)

	// 发起方自己接受：403
	w := do(t, r, http.MethodPost, "/v1/conversations/"+convID+"/accept", "alice", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodPost, "/v1/conversations/"+convID+"/accept", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 接受后 decline：403
	w = do(t, r, http.MethodPost, "/v1/conversations/"+convID+"/decline", "bob", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	// 未知会话：404
	w = do(t, r, http.MethodPost, "/v1/conversations/p2p:x:y/accept", "bob", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListConversationsPartitioned(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/v1/conversations", "alice", gin.H{
		"participant_ids": []string{"alice", "bob"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/v1/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Accepted        []model.Conversation `json:"accepted"`
			PendingIncoming []model.Conversation `json:"pending_incoming"`
			PendingOutgoing []model.Conversation `json:"pending_outgoing"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Accepted, 1) // 互关直接 accepted
}
