package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type windowEntry struct {
	mu       sync.Mutex
	count    int64
	start    time.Time
	lastSeen time.Time
	window   time.Duration
	deleted  bool
}

// MemoryStore はプロセス内にウィンドウ状態を保持するStore。
// キーごとのロックでカウントの読み取りと更新を直列化する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	logger  *zap.Logger
}

// NewMemoryStore は新しいMemoryStoreを生成する。
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		entries: make(map[string]*windowEntry),
		logger:  logger,
	}
}

func (s *MemoryStore) entry(key string) *windowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &windowEntry{}
		s.entries[key] = e
	}
	return e
}

// Increment はStoreを実装する。
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	for {
		e := s.entry(key)
		e.mu.Lock()
		if e.deleted {
			// Sweepと競合した場合は新しいエントリで取り直す
			e.mu.Unlock()
			continue
		}
		if e.count == 0 || now.Sub(e.start) >= window {
			e.start = now
			e.count = 0
		}
		e.count++
		e.lastSeen = now
		e.window = window
		w := Window{Count: e.count, Start: e.start}
		e.mu.Unlock()
		return w, nil
	}
}

// Sweep は2ウィンドウ分以上参照されていないエントリを削除し、削除件数を返す。
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		e.mu.Lock()
		if now.Sub(e.lastSeen) >= 2*e.window {
			e.deleted = true
			delete(s.entries, key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Len は保持しているキー数を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor はctxがキャンセルされるまでinterval毎にSweepを実行する。
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(now()); n > 0 {
					s.logger.Debug("期限切れのウィンドウを削除しました", zap.Int("removed", n))
				}
			}
		}
	}()
}
