package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig はCORSの設定。
type CORSConfig struct {
	// AllowedOrigins は許可するオリジン。"*" を含む場合はすべて許可する。
	AllowedOrigins []string
	// AllowedMethods は許可するメソッド。
	AllowedMethods []string
	// AllowedHeaders は許可するリクエストヘッダー。
	AllowedHeaders []string
	// ExposedHeaders はブラウザに公開するレスポンスヘッダー。
	ExposedHeaders []string
	// AllowCredentials はCookie等の送信を許可するかどうか。
	AllowCredentials bool
	// MaxAge はプリフライト結果のキャッシュ秒数。
	MaxAge int
}

// DefaultCORSConfig はフロントエンド向けの既定設定を返す。
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}

// CORS は許可されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// プリフライトリクエストには204で応答し、後続の処理には渡さない。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	wildcard := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		originsSet[o] = struct{}{}
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		_, allowed := originsSet[origin]
		allowed = origin != "" && (allowed || wildcard)
		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}
		}

		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if preflight {
			if allowed {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				h.Set("Access-Control-Max-Age", maxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
