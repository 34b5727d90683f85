package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// TransportConfig はコネクションプールの設定。
type TransportConfig struct {
	// DialTimeout はTCP接続確立のタイムアウト。
	DialTimeout time.Duration
	// MaxIdleConns は全体で保持するアイドル接続数。
	MaxIdleConns int
	// MaxIdleConnsPerHost はホストごとのアイドル接続数。
	MaxIdleConnsPerHost int
	// IdleConnTimeout はアイドル接続を閉じるまでの時間。
	IdleConnTimeout time.Duration
}

// DefaultTransportConfig は既定の設定を返す。
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		DialTimeout:         5 * time.Second,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewTransport はバックエンド通信用のTransportを生成する。
// 応答ボディを加工せずに中継するため、自動的なgzip展開は無効にする。
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
}

// New は指定したRoundTripperを使うクライアントを生成する。nilの場合は既定のTransportを使う。
func New(rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = NewTransport(DefaultTransportConfig())
	}
	return &http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// IsTimeout は送信エラーがタイムアウトによるものかを返す。
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsCanceled は呼び出し元によるキャンセルかを返す。
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
