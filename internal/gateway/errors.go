package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/edgegate/pkg/middleware"
)

// APIError はゲートウェイが返すエラーの種類。
type APIError struct {
	// Status はHTTPステータスコード。
	Status int
	// Code は機械判読用のエラーコード。
	Code string
	// Message はクライアント向けのメッセージ。
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// WithMessage はメッセージだけを差し替えたコピーを返す。
func (e *APIError) WithMessage(msg string) *APIError {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	// ErrValidation は不正なリクエスト。
	ErrValidation = &APIError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request"}
	// ErrAuthentication は認証の失敗。
	ErrAuthentication = &APIError{Status: http.StatusUnauthorized, Code: "AUTHENTICATION_ERROR", Message: "authentication token is required"}
	// ErrAuthorization は権限の不足。
	ErrAuthorization = &APIError{Status: http.StatusForbidden, Code: "AUTHORIZATION_ERROR", Message: "insufficient permissions"}
	// ErrNotFound はどのルートにも一致しないパス。
	ErrNotFound = &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "not found"}
	// ErrRateLimited はレート制限による拒否。
	ErrRateLimited = &APIError{Status: http.StatusTooManyRequests, Code: "TOO_MANY_REQUESTS", Message: "too many requests, please try again later"}
	// ErrUpstreamUnavailable はバックエンドに到達できない。
	ErrUpstreamUnavailable = &APIError{Status: http.StatusBadGateway, Code: "UPSTREAM_UNAVAILABLE", Message: "service unavailable"}
	// ErrUpstreamTimeout はバックエンドの応答がタイムアウトした。
	ErrUpstreamTimeout = &APIError{Status: http.StatusGatewayTimeout, Code: "UPSTREAM_TIMEOUT", Message: "service timed out"}
	// ErrInternal はゲートウェイ内部の失敗。
	ErrInternal = &APIError{Status: http.StatusInternalServerError, Code: "INTERNAL_SERVER_ERROR", Message: "internal server error"}
)

// respondError はエラー応答を書き込み、後続の処理を中断する。
func respondError(c *gin.Context, e *APIError) {
	middleware.AbortWithError(c, e.Status, e.Code, e.Message)
}
