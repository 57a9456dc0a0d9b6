package api

import (
	"strconv"

	midsec "fellowchat/middleware/security"
	"fellowchat/module/chat/composer"
	"fellowchat/tools/errs"

	"github.com/gin-gonic/gin"
)

type createConversationReq struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
	BurnDuration   int32    `json:"burn_duration"`
}

// POST /v1/conversations
func (a *API) CreateConversation(c *gin.Context) {
	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrInvalidArgument.WithDetail(err.Error()))
		return
	}
	conv, err := a.comp.GetOrCreate(c.Request.Context(), midsec.UserID(c), req.ParticipantIDs, req.BurnDuration)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, conv)
}

// GET /v1/conversations
func (a *API) ListConversations(c *gin.Context) {
	parts, err := a.comp.List(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"accepted":         parts.Accepted,
		"pending_incoming": parts.PendingIncoming,
		"pending_outgoing": parts.PendingOutgoing,
	})
}

// GET /v1/conversations/:id
func (a *API) GetConversation(c *gin.Context) {
	conv, err := a.comp.Conversation(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, conv)
}

// POST /v1/conversations/:id/accept
func (a *API) AcceptConversation(c *gin.Context) {
	if err := a.comp.Accept(c.Request.Context(), c.Param("id"), midsec.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// POST /v1/conversations/:id/decline
func (a *API) DeclineConversation(c *gin.Context) {
	if err := a.comp.Decline(c.Request.Context(), c.Param("id"), midsec.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// POST /v1/conversations/:id/read
func (a *API) MarkRead(c *gin.Context) {
	upTo, err := a.comp.MarkRead(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"up_to_seq": upTo})
}

// GET /v1/conversations/:id/messages?after_seq=&limit=
func (a *API) ListMessages(c *gin.Context) {
	afterSeq, _ := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := a.comp.History(c.Request.Context(), c.Param("id"), midsec.UserID(c), afterSeq, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, msgs)
}

type sendMessageReq struct {
	ConversationID string   `json:"conversation_id"`
	ParticipantIDs []string `json:"participant_ids"`
	Content        string   `json:"content" binding:"required"`
	ClientMsgID    string   `json:"client_msg_id"`
	BurnDuration   int32    `json:"burn_duration"`
}

// POST /v1/messages
func (a *API) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrInvalidArgument.WithDetail(err.Error()))
		return
	}
	msg, err := a.comp.Send(c.Request.Context(), composer.SendInput{
		ConversationID: req.ConversationID,
		ParticipantIDs: req.ParticipantIDs,
		SenderID:       midsec.UserID(c),
		Content:        req.Content,
		ClientMsgID:    req.ClientMsgID,
		BurnDuration:   req.BurnDuration,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, msg)
}

type deliveredReq struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	ServerMsgID    string `json:"server_msg_id" binding:"required"`
}

// POST /v1/messages/delivered
func (a *API) MarkDelivered(c *gin.Context) {
	var req deliveredReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrInvalidArgument.WithDetail(err.Error()))
		return
	}
	if err := a.comp.MarkDelivered(c.Request.Context(), req.ConversationID, req.ServerMsgID, midsec.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// DELETE /v1/conversations/:id/messages/:msgID
func (a *API) DeleteMessage(c *gin.Context) {
	if err := a.comp.DeleteMessage(c.Request.Context(), c.Param("id"), c.Param("msgID"), midsec.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// POST /v1/attachments 代理上传到 blob 服务，返回可嵌入消息正文的 URL
func (a *API) UploadAttachment(c *gin.Context) {
	if a.blob == nil {
		fail(c, errs.ErrInvalidArgument.WithDetail("attachments disabled"))
		return
	}
	ct := c.GetHeader("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	url, err := a.blob.Upload(c.Request.Context(), ct, c.Request.Body)
	if err != nil {
		fail(c, errs.ErrTransientStore.WithDetail(err.Error()))
		return
	}
	ok(c, gin.H{"url": url})
}
