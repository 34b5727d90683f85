package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// timestampLayout はISO 8601のミリ秒精度表記。
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type healthResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

type versionResponse struct {
	Success   bool   `json:"success"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// handleHealth はヘルスチェックのハンドラを返す。レート制限と認証の対象外。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{
			Success:   true,
			Status:    "UP",
			Timestamp: s.timestamp(),
			Service:   s.serviceName,
		})
	}
}

// handleVersion はバージョン情報のハンドラを返す。
func (s *Server) handleVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, versionResponse{
			Success:   true,
			Version:   s.version,
			Service:   s.serviceName,
			Timestamp: s.timestamp(),
		})
	}
}

func (s *Server) timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().UTC().Format(timestampLayout)
}
