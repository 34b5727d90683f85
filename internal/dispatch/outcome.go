package dispatch

import (
	"net/http"
	"time"
)

// Kind は転送結果の種類。
type Kind int

const (
	// Success はバックエンドが2xx/3xxで応答したことを表す。
	Success Kind = iota
	// Timeout はすべての試行がタイムアウトしたことを表す。
	Timeout
	// ConnectionError はバックエンドに到達できなかったことを表す。
	ConnectionError
	// UpstreamError はバックエンドが4xx/5xxで応答したことを表す。
	UpstreamError
)

// String はメトリクスやログで使う名前を返す。
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case ConnectionError:
		return "connection_error"
	case UpstreamError:
		return "upstream_error"
	default:
		return "unknown"
	}
}

// Outcome は1回の転送の結果。
type Outcome struct {
	// Kind は結果の種類。
	Kind Kind
	// StatusCode はバックエンドの応答ステータス。SuccessとUpstreamErrorの場合のみ有効。
	StatusCode int
	// Header はホップバイホップヘッダーを除いた応答ヘッダー。
	Header http.Header
	// Body は応答ボディ。
	Body []byte
	// Attempts は実行した試行回数。サーキットブレーカーで遮断された場合は0。
	Attempts int
	// Latency はリトライを含む所要時間。
	Latency time.Duration
	// Canceled は呼び出し元のキャンセルで打ち切られたかどうか。
	Canceled bool
	// Err はTimeoutとConnectionErrorの原因。
	Err error
}

// Responded はバックエンドから応答を得たかを返す。
func (o Outcome) Responded() bool {
	return o.Kind == Success || o.Kind == UpstreamError
}
