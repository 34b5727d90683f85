package middleware

import "github.com/gin-gonic/gin"

// ErrorResponse はゲートウェイが返すエラー応答の形式。
type ErrorResponse struct {
	// Success は常にfalse。
	Success bool `json:"success"`
	// Error はクライアント向けのメッセージ。
	Error string `json:"error"`
	// Code は機械判読用のエラーコード。
	Code string `json:"code"`
}

// AbortWithError はエラー応答を書き込み、後続のハンドラを中断する。
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}
