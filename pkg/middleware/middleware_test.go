package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestRequestID はリクエストIDの払い出しを検証する。
func TestRequestID(t *testing.T) {
	t.Parallel()

	newRouter := func(seen *string) *gin.Engine {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/id", func(c *gin.Context) {
			*seen = c.Request.Header.Get(HeaderRequestID)
			c.String(http.StatusOK, GetRequestID(c))
		})
		return router
	}

	t.Run("IDがない場合は新しく払い出されること", func(t *testing.T) {
		t.Parallel()

		var seen string
		w := httptest.NewRecorder()
		newRouter(&seen).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))

		got := w.Header().Get(HeaderRequestID)
		if len(got) != 36 {
			t.Errorf("X-Request-ID = %q, UUIDではない", got)
		}
		if seen != got || w.Body.String() != got {
			t.Errorf("リクエスト・コンテキスト・レスポンスのIDが一致しない: %q %q %q", seen, w.Body.String(), got)
		}
	})

	t.Run("クライアントのIDを引き継ぐこと", func(t *testing.T) {
		t.Parallel()

		var seen string
		req := httptest.NewRequest(http.MethodGet, "/id", nil)
		req.Header.Set(HeaderRequestID, "trace-abc")
		w := httptest.NewRecorder()
		newRouter(&seen).ServeHTTP(w, req)

		if got := w.Header().Get(HeaderRequestID); got != "trace-abc" {
			t.Errorf("X-Request-ID = %q, want %q", got, "trace-abc")
		}
	})

	t.Run("長すぎるIDは置き換えられること", func(t *testing.T) {
		t.Parallel()

		var seen string
		req := httptest.NewRequest(http.MethodGet, "/id", nil)
		req.Header.Set(HeaderRequestID, strings.Repeat("a", 200))
		w := httptest.NewRecorder()
		newRouter(&seen).ServeHTTP(w, req)

		if got := w.Header().Get(HeaderRequestID); len(got) != 36 {
			t.Errorf("X-Request-ID = %q", got)
		}
	})
}

// TestAccessLog はアクセスログの出力を検証する。
func TestAccessLog(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	router := gin.New()
	router.Use(RequestID(), AccessLog(zap.New(core)))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("ログ件数 = %d, want 2", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Errorf("レベル = %v, %v", entries[0].Level, entries[1].Level)
	}
	fields := entries[1].ContextMap()
	if fields["path"] != "/missing" {
		t.Errorf("path = %v, want /missing", fields["path"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Errorf("status = %v, want 404", fields["status"])
	}
}

// TestBodyLimit はボディサイズ制限を検証する。
func TestBodyLimit(t *testing.T) {
	t.Parallel()

	newRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(BodyLimit(8))
		router.POST("/echo", func(c *gin.Context) {
			b, err := io.ReadAll(c.Request.Body)
			if err != nil {
				AbortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "request body too large")
				return
			}
			c.String(http.StatusOK, string(b))
		})
		return router
	}

	t.Run("上限以内のボディは通過すること", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("12345678")))
		if w.Code != http.StatusOK || w.Body.String() != "12345678" {
			t.Errorf("応答 = %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("Content-Lengthが上限を超える場合は400が返ること", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("123456789")))
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if !strings.Contains(w.Body.String(), `"code":"VALIDATION_ERROR"`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("長さ不明のボディは読み取り時に打ち切られること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/echo", io.NopCloser(strings.NewReader("0123456789abcdef")))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}
