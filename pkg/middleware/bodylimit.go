package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodyLimit はリクエストボディの大きさを制限するGinミドルウェアを返す。
// Content-Lengthが上限を超える場合は即座に400を返す。
// 長さが不明な場合は読み取り時に上限で打ち切る。limitが0以下の場合は制限しない。
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			AbortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "request body too large")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
