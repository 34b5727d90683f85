package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Meta はイベントが属するリクエストの情報。
type Meta struct {
	// RequestID はX-Request-IDの値。
	RequestID string
	// ClientKey はクライアントキー。
	ClientKey string
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
}

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。nilの場合はDataを空オブジェクトにする。
func New(eventType Type, meta Meta, data any) (*Event, error) {
	jsonData := json.RawMessage(`{}`)
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
		}
		jsonData = b
	}

	return &Event{
		ID:        uuid.New().String(),
		RequestID: meta.RequestID,
		EventType: eventType,
		ClientKey: meta.ClientKey,
		Method:    meta.Method,
		Path:      meta.Path,
		Data:      jsonData,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
