package dispatch

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/nao1215/edgegate/internal/identity"
)

const (
	// HeaderUserID は認証済み主体のIDを伝播するヘッダー。
	HeaderUserID = "X-User-ID"
	// HeaderUserEmail は認証済み主体のメールアドレスを伝播するヘッダー。
	HeaderUserEmail = "X-User-Email"
	// HeaderUserRoles は認証済み主体のロールをカンマ区切りで伝播するヘッダー。
	HeaderUserRoles = "X-User-Roles"
	// HeaderRequestID はリクエストIDのヘッダー。
	HeaderRequestID = "X-Request-ID"
)

// hopHeaders はプロキシが転送してはならないヘッダー（RFC 7230 6.1）。
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// identityHeaders はクライアントが偽装できないよう常に除去するヘッダー。
var identityHeaders = []string{HeaderUserID, HeaderUserEmail, HeaderUserRoles}

// RemoveHopByHop はホップバイホップヘッダーとConnectionで列挙されたヘッダーを除去する。
func RemoveHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// outboundHeader はバックエンドへ送るヘッダーを組み立てる。
func outboundHeader(r *http.Request, id *identity.Identity) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	RemoveHopByHop(h)
	for _, name := range identityHeaders {
		h.Del(name)
	}
	if id != nil {
		h.Set(HeaderUserID, id.SubjectID)
		if id.Email != "" {
			h.Set(HeaderUserEmail, id.Email)
		}
		if roles := id.RoleList(); len(roles) > 0 {
			h.Set(HeaderUserRoles, strings.Join(roles, ","))
		}
	}

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if h.Get("X-Forwarded-Host") == "" {
		h.Set("X-Forwarded-Host", r.Host)
	}
	if h.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		h.Set("X-Forwarded-Proto", proto)
	}
	return h
}

// inboundHeader はバックエンドの応答ヘッダーからホップバイホップヘッダーを除いたコピーを返す。
func inboundHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	RemoveHopByHop(out)
	return out
}
