package statusapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every endpoint returns.
type Response struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"` // 0 on success, otherwise the HTTP status
	Message   string `json:"message"`
	Data      any    `json:"data"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{
		RequestID: c.GetString(requestIDKey),
		Message:   "ok",
		Data:      data,
	})
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, Response{
		RequestID: c.GetString(requestIDKey),
		Code:      status,
		Message:   err.Error(),
	})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{
		RequestID: c.GetString(requestIDKey),
		Code:      http.StatusNotFound,
		Message:   "no route " + c.Request.Method + " " + c.Request.URL.Path,
	})
}
