package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownKey はクライアントアドレスを特定できなかった場合のキー。
const UnknownKey = "unknown"

// KeyFunc はリクエストからレート制限のキーを導出する。
type KeyFunc func(r *http.Request) string

// ClientAddrKey はクライアントアドレスをキーとするKeyFuncを返す。
// trustProxyがtrueの場合のみ X-Forwarded-For の先頭、次いで X-Real-IP を信用する。
// それ以外は接続元アドレスを使用する。
func ClientAddrKey(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		if addr != "" {
			return addr
		}
		return UnknownKey
	}
}
