// Package config はゲートウェイの設定を読み込む。
//
// 優先順位は 既定値 < 設定ファイル（YAML） < 環境変数 の順。
// 設定は起動時に一度だけ読み込まれ、以降は変更されない。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nao1215/edgegate/internal/registry"
	"github.com/nao1215/edgegate/internal/route"
)

// DefaultJWTSecret は JWT_SECRET 未設定時に使う開発用の署名鍵。
const DefaultJWTSecret = "dev-secret-key"

// Config はゲートウェイ全体の設定。
type Config struct {
	Server    ServerConfig             `mapstructure:"server" yaml:"server"`
	Log       LogConfig                `mapstructure:"log" yaml:"log"`
	Auth      AuthConfig               `mapstructure:"auth" yaml:"auth"`
	RateLimit RateLimitConfig          `mapstructure:"rate_limit" yaml:"rate_limit"`
	Redis     RedisConfig              `mapstructure:"redis" yaml:"redis"`
	Dispatch  DispatchConfig           `mapstructure:"dispatch" yaml:"dispatch"`
	Audit     AuditConfig              `mapstructure:"audit" yaml:"audit"`
	Services  map[string]ServiceConfig `mapstructure:"services" yaml:"services"`
	Routes    []RouteConfig            `mapstructure:"routes" yaml:"routes"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port" yaml:"port"`
	// ServiceName は /health と /version で返すサービス名。
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	// Version は /version で返すバージョン。
	Version string `mapstructure:"version" yaml:"version"`
	// BodyLimit はリクエストボディの上限（例: "1mb"）。
	BodyLimit string `mapstructure:"body_limit" yaml:"body_limit"`
	// CORSOrigins は許可するオリジン。
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// ShutdownTimeout はグレースフルシャットダウンの猶予。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ReadHeaderTimeout はリクエストヘッダーの読み取りタイムアウト。
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AuthConfig はトークン検証の設定。
type AuthConfig struct {
	// JWTSecret はHS256の署名鍵。
	JWTSecret string `mapstructure:"jwt_secret" yaml:"-"`
	// Issuer は発行するトークンのiss。
	Issuer string `mapstructure:"issuer" yaml:"issuer"`
	// VerifyIssuer がtrueの場合、issがIssuerと一致するトークンのみ受け付ける。
	VerifyIssuer bool `mapstructure:"verify_issuer" yaml:"verify_issuer"`
	// Leeway は有効期限の判定に許容する時刻のずれ。
	Leeway time.Duration `mapstructure:"leeway" yaml:"leeway"`
}

// RateLimitConfig はレート制限の設定。
type RateLimitConfig struct {
	// WindowMS はウィンドウの長さ（ミリ秒）。
	WindowMS int64 `mapstructure:"window_ms" yaml:"window_ms"`
	// MaxRequests はウィンドウあたりの上限。
	MaxRequests int64 `mapstructure:"max_requests" yaml:"max_requests"`
	// ExemptPaths は判定対象外のパス。
	ExemptPaths []string `mapstructure:"exempt_paths" yaml:"exempt_paths"`
	// TrustProxy がtrueの場合のみ X-Forwarded-For をクライアントキーに使う。
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy"`
	// Backend は保存先（memory または redis）。
	Backend string `mapstructure:"backend" yaml:"backend"`
	// SweepInterval はメモリ保存先の掃除間隔。
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// Window はウィンドウの長さを返す。
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// RedisConfig はRedis接続の設定。
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// DispatchConfig は転送の設定。
type DispatchConfig struct {
	// RetryBackoff はリトライ間の待ち時間。
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// BreakerThreshold はサーキットブレーカーが開く連続失敗回数。0で無効。
	BreakerThreshold uint32 `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	// BreakerOpenTimeout は開いた状態を保つ時間。
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout" yaml:"breaker_open_timeout"`
}

// AuditConfig は監査イベントの設定。
type AuditConfig struct {
	// Backend は配送先（none, memory, sqlite）。
	Backend string `mapstructure:"backend" yaml:"backend"`
	// SQLitePath はsqlite配送先のファイルパス。
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	// Buffer は非同期配送のキュー長。
	Buffer int `mapstructure:"buffer" yaml:"buffer"`
}

// ServiceConfig はバックエンドサービス1件分の設定。
type ServiceConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	TimeoutMS  int64  `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// RouteConfig はルート1件分の設定。
type RouteConfig struct {
	Prefix  string   `mapstructure:"prefix" yaml:"prefix"`
	Service string   `mapstructure:"service" yaml:"service"`
	Auth    string   `mapstructure:"auth" yaml:"auth"`
	Roles   []string `mapstructure:"roles" yaml:"roles,omitempty"`
}

// BodyLimitBytes はBodyLimitをバイト数に変換する。空または "0" の場合は0（無制限）。
func (c *Config) BodyLimitBytes() (int64, error) {
	s := strings.TrimSpace(c.Server.BodyLimit)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("REQUEST_BODY_LIMIT が不正です: %w", err)
	}
	return int64(n), nil
}

// ServiceEntries はサービス設定をレジストリのエントリに変換する。URLが空のサービスは除外する。
func (c *Config) ServiceEntries() ([]registry.ServiceEntry, error) {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]registry.ServiceEntry, 0, len(names))
	var errs []error
	for _, name := range names {
		svc := c.Services[name]
		if strings.TrimSpace(svc.URL) == "" {
			continue
		}
		u, err := url.Parse(svc.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("サービス %q のURLが不正です: %w", name, err))
			continue
		}
		entries = append(entries, registry.ServiceEntry{
			Name:       name,
			BaseURL:    u,
			Timeout:    time.Duration(svc.TimeoutMS) * time.Millisecond,
			MaxRetries: svc.MaxRetries,
		})
	}
	return entries, errors.Join(errs...)
}

// RouteList はルート設定をrouteパッケージの型に変換する。
func (c *Config) RouteList() []route.Route {
	out := make([]route.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		out = append(out, route.Route{
			Prefix:  r.Prefix,
			Service: r.Service,
			Auth:    route.AuthMode(r.Auth),
			Roles:   r.Roles,
		})
	}
	return out
}

// Validate は設定値を検証し、すべての問題をまとめて返す。
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT が空です"))
	}
	if _, err := c.BodyLimitBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET が空です"))
	}
	if c.RateLimit.WindowMS <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW_MS は正の値である必要があります: %d", c.RateLimit.WindowMS))
	}
	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MAX_REQUESTS は正の値である必要があります: %d", c.RateLimit.MaxRequests))
	}
	switch c.RateLimit.Backend {
	case "memory":
		// 0以下では古いウィンドウの掃除が動かず、メモリが際限なく増える
		if c.RateLimit.SweepInterval <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL は正の値である必要があります: %s", c.RateLimit.SweepInterval))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("RATE_LIMIT_BACKEND=redis には REDIS_ADDR が必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND が不正です: %q", c.RateLimit.Backend))
	}
	switch c.Audit.Backend {
	case "none", "memory":
	case "sqlite":
		if c.Audit.SQLitePath == "" {
			errs = append(errs, errors.New("AUDIT_BACKEND=sqlite には AUDIT_SQLITE_PATH が必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUDIT_BACKEND が不正です: %q", c.Audit.Backend))
	}
	if c.Dispatch.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("RETRY_BACKOFF は0以上である必要があります: %s", c.Dispatch.RetryBackoff))
	}
	if _, err := c.ServiceEntries(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("ルートが1件も定義されていません"))
	}
	return errors.Join(errs...)
}
