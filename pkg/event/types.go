package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeRequestAdmitted はレート制限を通過したことを表す。
	TypeRequestAdmitted Type = "RequestAdmitted"
	// TypeRequestRejected はレート制限により拒否されたことを表す。
	TypeRequestRejected Type = "RequestRejected"
	// TypeAuthenticationFailed は認証必須ルートで認証に失敗したことを表す。
	TypeAuthenticationFailed Type = "AuthenticationFailed"
	// TypeRequestDispatched はバックエンドへの転送が完了したことを表す。
	TypeRequestDispatched Type = "RequestDispatched"
)

// Event はゲートウェイのトラフィックに関する不変のイベントレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// RequestID は対応するリクエストのX-Request-ID。
	RequestID string `json:"request_id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// ClientKey はレート制限に使用したクライアントキー。
	ClientKey string `json:"client_key"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Path はクライアントが要求したパス。
	Path string `json:"path"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// RequestRejectedData はRequestRejectedイベントのデータ。
type RequestRejectedData struct {
	// Limit はウィンドウあたりの上限。
	Limit int64 `json:"limit"`
	// RetryAfterSeconds は再試行までの秒数。
	RetryAfterSeconds int64 `json:"retry_after_seconds"`
}

// AuthenticationFailedData はAuthenticationFailedイベントのデータ。
type AuthenticationFailedData struct {
	// Reason は失敗の種類（missing, malformed, expired, invalid_signature）。
	Reason string `json:"reason"`
	// Route はマッチしたルートのプレフィックス。
	Route string `json:"route"`
}

// RequestDispatchedData はRequestDispatchedイベントのデータ。
type RequestDispatchedData struct {
	// Service は転送先のサービス名。
	Service string `json:"service"`
	// Outcome は転送結果の種類。
	Outcome string `json:"outcome"`
	// StatusCode はクライアントに返したステータスコード。
	StatusCode int `json:"status_code"`
	// Attempts は試行回数。
	Attempts int `json:"attempts"`
	// LatencyMS は転送にかかった時間（ミリ秒）。
	LatencyMS int64 `json:"latency_ms"`
	// SubjectID は認証済みの主体ID。匿名の場合は空。
	SubjectID string `json:"subject_id,omitempty"`
}
