package ratelimit

import (
	"context"
	"time"
)

// Window はインクリメント直後のウィンドウ状態。
type Window struct {
	// Count は現在のウィンドウ内で受け付けたリクエスト数（今回分を含む）。
	Count int64
	// Start は現在のウィンドウの開始時刻。
	Start time.Time
}

// Store はキーごとのカウンタを原子的に更新する保存先。
type Store interface {
	// Increment はキーのカウントを1つ進める。
	// ウィンドウが存在しない、または now-Start >= window の場合は新しいウィンドウをCount=1で開始する。
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)
}
