package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// —— context key ——
// 下游 handler 统一用这个 key 读取已鉴权的用户
const CtxUserIDKey = "userID"

// TokenParse validates a bearer token and returns the user id it names.
type TokenParse func(token string) (string, error)

type Options struct {
	HeaderToken  string // 默认 "Authorization"
	QueryToken   string // 默认 "token"（websocket 握手用）
	EnableBearer bool   // 默认 true
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:  "Authorization",
		QueryToken:   "token",
		EnableBearer: true,
	}
}

// Middleware rejects requests without a valid token and stores the
// resolved user id in the gin context.
func Middleware(parse TokenParse, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if opts.EnableBearer && strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" && opts.QueryToken != "" {
			token = c.Query(opts.QueryToken)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "missing token"})
			return
		}
		userID, err := parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "invalid token"})
			return
		}
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID reads the authenticated user set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
