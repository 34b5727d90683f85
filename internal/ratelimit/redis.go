package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript はINCRとPEXPIREを1回の往復で原子的に実行する。
// 戻り値は {count, pttl}。
var fixedWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// RedisStore はRedisにウィンドウ状態を保持するStore。
// 複数のゲートウェイインスタンスで同じ予算を共有する場合に使用する。
// キーの有効期限がウィンドウの終端となるため、掃除処理は不要。
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore は新しいRedisStoreを生成する。prefixが空の場合は "ratelimit:" を使用する。
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Increment はStoreを実装する。
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("Redisでのカウント更新に失敗: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("Redisスクリプトの戻り値が不正です: %v", res)
	}
	remaining := time.Duration(res[1]) * time.Millisecond
	return Window{
		Count: res[0],
		Start: now.Add(remaining - window),
	}, nil
}
