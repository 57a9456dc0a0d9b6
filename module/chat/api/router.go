package api

import (
	"fellowchat/middleware"
	midsec "fellowchat/middleware/security"

	"github.com/gin-gonic/gin"
)

// Register mounts every route on r. The websocket endpoint does its own
// handshake auth, so it is registered unauthenticated here.
func (a *API) Register(r *gin.Engine, parse midsec.TokenParse, wsHandler gin.HandlerFunc) {
	r.Use(middleware.Origin())

	auth := middleware.RouteOpt{IsAuth: true, Parse: parse}

	middleware.POST(r, "/v1/conversations", a.CreateConversation, auth)
	middleware.GET(r, "/v1/conversations", a.ListConversations, auth)
	middleware.GET(r, "/v1/conversations/:id", a.GetConversation, auth)
	middleware.POST(r, "/v1/conversations/:id/accept", a.AcceptConversation, auth)
	middleware.POST(r, "/v1/conversations/:id/decline", a.DeclineConversation, auth)
	middleware.POST(r, "/v1/conversations/:id/read", a.MarkRead, auth)
	middleware.GET(r, "/v1/conversations/:id/messages", a.ListMessages, auth)
	middleware.DELETE(r, "/v1/conversations/:id/messages/:msgID", a.DeleteMessage, auth)
	middleware.POST(r, "/v1/messages", a.SendMessage, auth)
	middleware.POST(r, "/v1/messages/delivered", a.MarkDelivered, auth)
	middleware.POST(r, "/v1/attachments", a.UploadAttachment, auth)

	middleware.GET(r, "/ws", wsHandler, middleware.RouteOpt{})
}
