package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration, time.Time) (Window, error) {
	return Window{}, errors.New("connection refused")
}

func newRequest(path, remote string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = remote
	return r
}

// TestController_Admit は固定ウィンドウの判定を検証する。
func TestController_Admit(t *testing.T) {
	t.Parallel()

	t.Run("上限までは受け付け、上限+1件目で拒否されること", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := NewController(NewMemoryStore(nil), Config{Limit: 3, Window: time.Minute, Now: clock.Now}, nil)

		for i := int64(1); i <= 3; i++ {
			d := c.Admit(context.Background(), newRequest("/api/orders", "10.0.0.1:1234"))
			require.True(t, d.Allowed, "request %d", i)
			assert.Equal(t, 3-i, d.Remaining)
		}
		d := c.Admit(context.Background(), newRequest("/api/orders", "10.0.0.1:1234"))
		assert.False(t, d.Allowed)
		assert.Equal(t, int64(0), d.Remaining)
		assert.Equal(t, time.Minute, d.RetryAfter)
		assert.Equal(t, "10.0.0.1", d.Key)
	})

	t.Run("ウィンドウ経過後はカウントがリセットされること", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := NewController(NewMemoryStore(nil), Config{Limit: 2, Window: time.Minute, Now: clock.Now}, nil)
		req := func() Decision { return c.Admit(context.Background(), newRequest("/x", "10.0.0.2:1")) }

		require.True(t, req().Allowed)
		require.True(t, req().Allowed)
		require.False(t, req().Allowed)

		clock.Advance(59 * time.Second)
		assert.False(t, req().Allowed, "ウィンドウ内はまだ拒否される")

		clock.Advance(time.Second)
		d := req()
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(1), d.Remaining)
		assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
	})

	t.Run("キーごとに独立してカウントされること", func(t *testing.T) {
		t.Parallel()

		c := NewController(NewMemoryStore(nil), Config{Limit: 1, Window: time.Minute}, nil)
		assert.True(t, c.Admit(context.Background(), newRequest("/x", "10.0.0.3:1")).Allowed)
		assert.True(t, c.Admit(context.Background(), newRequest("/x", "10.0.0.4:1")).Allowed)
		assert.False(t, c.Admit(context.Background(), newRequest("/x", "10.0.0.3:2")).Allowed)
	})

	t.Run("除外パスはカウントされないこと", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore(nil)
		c := NewController(store, Config{
			Limit:       1,
			Window:      time.Minute,
			ExemptPaths: []string{"/health", "/version", "/internal/*"},
		}, nil)

		for range 5 {
			d := c.Admit(context.Background(), newRequest("/health", "10.0.0.5:1"))
			assert.True(t, d.Allowed)
			assert.True(t, d.Exempt)
		}
		assert.True(t, c.Admit(context.Background(), newRequest("/internal/debug", "10.0.0.5:1")).Exempt)
		assert.False(t, c.Admit(context.Background(), newRequest("/healthz", "10.0.0.5:1")).Exempt)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("保存先の障害時は受け付けること", func(t *testing.T) {
		t.Parallel()

		c := NewController(failingStore{}, Config{Limit: 1, Window: time.Minute}, nil)
		d := c.Admit(context.Background(), newRequest("/x", "10.0.0.6:1"))
		assert.True(t, d.Allowed)
		assert.True(t, d.Degraded)

		h := http.Header{}
		d.SetHeaders(h)
		assert.Empty(t, h.Get("X-RateLimit-Limit"))
	})

	t.Run("並行リクエストでも上限ちょうどだけ受け付けること", func(t *testing.T) {
		t.Parallel()

		c := NewController(NewMemoryStore(nil), Config{Limit: 10, Window: time.Minute}, nil)

		var allowed, rejected atomic.Int64
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if c.Admit(context.Background(), newRequest("/api/cart", "192.0.2.10:5555")).Allowed {
					allowed.Add(1)
				} else {
					rejected.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), allowed.Load())
		assert.Equal(t, int64(40), rejected.Load())
	})
}

// TestDecision_SetHeaders はレスポンスヘッダーを検証する。
func TestDecision_SetHeaders(t *testing.T) {
	t.Parallel()

	reset := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)

	t.Run("受け付けた場合はRetry-Afterを設定しないこと", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		Decision{Allowed: true, Limit: 100, Remaining: 42, ResetAt: reset}.SetHeaders(h)
		assert.Equal(t, "100", h.Get("X-RateLimit-Limit"))
		assert.Equal(t, "42", h.Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1772355660", h.Get("X-RateLimit-Reset"))
		assert.Empty(t, h.Get("Retry-After"))
	})

	t.Run("拒否した場合はRetry-Afterを秒単位で切り上げること", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		Decision{Limit: 100, ResetAt: reset, RetryAfter: 1500 * time.Millisecond}.SetHeaders(h)
		assert.Equal(t, "0", h.Get("X-RateLimit-Remaining"))
		assert.Equal(t, "2", h.Get("Retry-After"))
	})

	t.Run("除外パスではヘッダーを設定しないこと", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		Decision{Allowed: true, Exempt: true}.SetHeaders(h)
		assert.Empty(t, h)
	})
}

// TestClientAddrKey はキーの導出を検証する。
func TestClientAddrKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trustProxy bool
		remote     string
		header     map[string]string
		want       string
	}{
		{name: "接続元アドレス", remote: "203.0.113.7:4242", want: "203.0.113.7"},
		{name: "信頼しない場合はX-Forwarded-Forを無視", remote: "203.0.113.7:4242", header: map[string]string{"X-Forwarded-For": "1.1.1.1"}, want: "203.0.113.7"},
		{name: "信頼する場合はX-Forwarded-Forの先頭", trustProxy: true, remote: "10.0.0.1:1", header: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"}, want: "198.51.100.1"},
		{name: "信頼する場合はX-Real-IPも使用", trustProxy: true, remote: "10.0.0.1:1", header: map[string]string{"X-Real-IP": "198.51.100.9"}, want: "198.51.100.9"},
		{name: "ポートなしのアドレス", remote: "unix-socket", want: "unix-socket"},
		{name: "アドレス不明", remote: "", want: UnknownKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientAddrKey(tt.trustProxy)(r))
		})
	}
}
