package ratelimit

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Decision はAdmitの判定結果。
type Decision struct {
	// Allowed はリクエストを受け付けたかどうか。
	Allowed bool
	// Exempt は除外パスのため判定を行わなかったかどうか。
	Exempt bool
	// Degraded は保存先の障害により判定せずに受け付けたかどうか。
	Degraded bool
	// Key は判定に使用したクライアントキー。
	Key string
	// Limit はウィンドウあたりの上限。
	Limit int64
	// Remaining はウィンドウ内の残り回数。
	Remaining int64
	// ResetAt は現在のウィンドウが終了する時刻。
	ResetAt time.Time
	// RetryAfter は拒否時に再試行まで待つべき時間。
	RetryAfter time.Duration
}

// SetHeaders はレート制限関連のレスポンスヘッダーを設定する。
func (d Decision) SetHeaders(h http.Header) {
	if d.Exempt || d.Degraded {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilUnix(d.ResetAt), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(ceilSeconds(d.RetryAfter), 10))
	}
}

// Config はControllerの設定。
type Config struct {
	// Limit はウィンドウあたりの最大リクエスト数。
	Limit int64
	// Window はウィンドウの長さ。
	Window time.Duration
	// ExemptPaths は判定対象外とするパス。path.Matchのパターンも指定できる。
	ExemptPaths []string
	// KeyFunc はクライアントキーの導出方法。nilの場合は ClientAddrKey(false)。
	KeyFunc KeyFunc
	// Now は現在時刻の取得関数。nilの場合は time.Now。
	Now func() time.Time
}

// Controller はリクエストごとにウィンドウを更新し、受付可否を判定する。
type Controller struct {
	store  Store
	limit  int64
	window time.Duration
	exempt []string
	keyFn  KeyFunc
	now    func() time.Time
	logger *zap.Logger
}

// NewController は新しいControllerを生成する。
func NewController(store Store, cfg Config, logger *zap.Logger) *Controller {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientAddrKey(false)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:  store,
		limit:  cfg.Limit,
		window: cfg.Window,
		exempt: cfg.ExemptPaths,
		keyFn:  cfg.KeyFunc,
		now:    cfg.Now,
		logger: logger,
	}
}

// IsExempt はパスが判定対象外かを返す。
func (c *Controller) IsExempt(p string) bool {
	for _, pattern := range c.exempt {
		if pattern == p {
			return true
		}
		if strings.ContainsAny(pattern, "*?[") {
			if ok, err := path.Match(pattern, p); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// Admit はリクエストを1件としてカウントし、受付可否を返す。
// 保存先でエラーが発生した場合は受け付ける。
func (c *Controller) Admit(ctx context.Context, r *http.Request) Decision {
	if c.IsExempt(r.URL.Path) {
		return Decision{Allowed: true, Exempt: true}
	}

	key := c.keyFn(r)
	now := c.now()
	w, err := c.store.Increment(ctx, key, c.window, now)
	if err != nil {
		c.logger.Warn("レート制限の判定に失敗したため受け付けます",
			zap.String("key", key),
			zap.Error(err),
		)
		return Decision{Allowed: true, Degraded: true, Key: key, Limit: c.limit}
	}

	resetAt := w.Start.Add(c.window)
	d := Decision{
		Allowed:   w.Count <= c.limit,
		Key:       key,
		Limit:     c.limit,
		Remaining: max(c.limit-w.Count, 0),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(resetAt.Sub(now), time.Second)
	}
	return d
}

// Limit はウィンドウあたりの上限を返す。
func (c *Controller) Limit() int64 { return c.limit }

// Window はウィンドウの長さを返す。
func (c *Controller) Window() time.Duration { return c.window }

func ceilSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

func ceilUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}
