package api

import (
	"net/http"

	"fellowchat/module/chat/composer"
	"fellowchat/service/blob"
	"fellowchat/tools/errs"

	"github.com/gin-gonic/gin"
)

// API exposes the messaging core over HTTP. Everything here delegates to
// the composer; handlers only translate transport.
type API struct {
	comp *composer.Composer
	blob *blob.Client // optional, attachments disabled when nil
}

func New(comp *composer.Composer, blobClient *blob.Client) *API {
	return &API{comp: comp, blob: blobClient}
}

// ===== 响应包装 =====

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := 0
	msg := err.Error()
	if ce, okc := errs.AsCodeError(err); okc {
		code = ce.Code
		msg = ce.Error()
		switch ce.Code {
		case errs.CodeInvalidArgument:
			status = http.StatusBadRequest
		case errs.CodeNotFound:
			status = http.StatusNotFound
		case errs.CodeAccessDenied:
			status = http.StatusForbidden
		case errs.CodeScheduleConflict:
			status = http.StatusConflict
		case errs.CodeTransientStore:
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"code": code, "msg": msg})
}
