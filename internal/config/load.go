package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// defaultService は既定のバックエンドサービス。
type defaultService struct {
	name string
	port int
}

var defaultServices = []defaultService{
	{name: "user", port: 3201},
	{name: "restaurant", port: 3202},
	{name: "order", port: 3203},
	{name: "payment", port: 3204},
	{name: "delivery", port: 3205},
	{name: "notification", port: 3206},
	{name: "analytics", port: 3207},
}

var defaultRoutes = []map[string]any{
	{"prefix": "/api/users", "service": "user", "auth": "required"},
	{"prefix": "/api/restaurants", "service": "restaurant", "auth": "optional"},
	{"prefix": "/api/menu-items", "service": "restaurant", "auth": "optional"},
	{"prefix": "/api/orders", "service": "order", "auth": "required"},
	{"prefix": "/api/cart", "service": "order", "auth": "required"},
	{"prefix": "/api/payments", "service": "payment", "auth": "required"},
	{"prefix": "/api/notifications", "service": "notification", "auth": "required"},
	{"prefix": "/api/analytics", "service": "analytics", "auth": "optional"},
}

// envBindings は設定キーと環境変数名の対応。
var envBindings = map[string]string{
	"server.port":                   "PORT",
	"server.service_name":           "SERVICE_NAME",
	"server.version":                "SERVICE_VERSION",
	"server.body_limit":             "REQUEST_BODY_LIMIT",
	"server.cors_origins":           "CORS_ORIGIN",
	"server.shutdown_timeout":       "SHUTDOWN_TIMEOUT",
	"server.read_header_timeout":    "READ_HEADER_TIMEOUT",
	"log.level":                     "LOG_LEVEL",
	"log.format":                    "LOG_FORMAT",
	"auth.jwt_secret":               "JWT_SECRET",
	"auth.issuer":                   "JWT_ISSUER",
	"auth.verify_issuer":            "JWT_VERIFY_ISSUER",
	"auth.leeway":                   "JWT_LEEWAY",
	"rate_limit.window_ms":          "RATE_LIMIT_WINDOW_MS",
	"rate_limit.max_requests":       "RATE_LIMIT_MAX_REQUESTS",
	"rate_limit.exempt_paths":       "RATE_LIMIT_EXEMPT_PATHS",
	"rate_limit.trust_proxy":        "RATE_LIMIT_TRUST_PROXY",
	"rate_limit.backend":            "RATE_LIMIT_BACKEND",
	"rate_limit.sweep_interval":     "RATE_LIMIT_SWEEP_INTERVAL",
	"redis.addr":                    "REDIS_ADDR",
	"redis.password":                "REDIS_PASSWORD",
	"redis.db":                      "REDIS_DB",
	"dispatch.retry_backoff":        "RETRY_BACKOFF",
	"dispatch.breaker_threshold":    "CIRCUIT_BREAKER_THRESHOLD",
	"dispatch.breaker_open_timeout": "CIRCUIT_BREAKER_OPEN_TIMEOUT",
	"audit.backend":                 "AUDIT_BACKEND",
	"audit.sqlite_path":             "AUDIT_SQLITE_PATH",
	"audit.buffer":                  "AUDIT_BUFFER",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.service_name", "api-gateway")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.body_limit", "1mb")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.jwt_secret", DefaultJWTSecret)
	v.SetDefault("auth.issuer", "edgegate")
	v.SetDefault("auth.verify_issuer", false)
	v.SetDefault("auth.leeway", "0s")
	v.SetDefault("rate_limit.window_ms", 60000)
	v.SetDefault("rate_limit.max_requests", 100)
	v.SetDefault("rate_limit.exempt_paths", []string{"/health", "/version", "/metrics"})
	v.SetDefault("rate_limit.trust_proxy", false)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.sweep_interval", "1m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("dispatch.retry_backoff", "100ms")
	v.SetDefault("dispatch.breaker_threshold", 5)
	v.SetDefault("dispatch.breaker_open_timeout", "30s")
	v.SetDefault("audit.backend", "none")
	v.SetDefault("audit.sqlite_path", "gateway-audit.db")
	v.SetDefault("audit.buffer", 1024)

	for _, s := range defaultServices {
		key := "services." + s.name
		v.SetDefault(key+".url", fmt.Sprintf("http://localhost:%d", s.port))
		v.SetDefault(key+".timeout_ms", 5000)
		v.SetDefault(key+".max_retries", 2)
	}
	v.SetDefault("routes", defaultRoutes)
}

func bindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("環境変数 %s のバインドに失敗: %w", env, err)
		}
	}
	for _, s := range defaultServices {
		prefix := strings.ToUpper(s.name) + "_SERVICE_"
		key := "services." + s.name
		for suffix, field := range map[string]string{"URL": "url", "TIMEOUT_MS": "timeout_ms", "MAX_RETRIES": "max_retries"} {
			if err := v.BindEnv(key+"."+field, prefix+suffix); err != nil {
				return fmt.Errorf("環境変数 %s のバインドに失敗: %w", prefix+suffix, err)
			}
		}
	}
	return nil
}

// Load は設定を読み込んで検証する。pathが空の場合は設定ファイルを読まない。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToTrimmedSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return &cfg, nil
}

// UsesDefaultSecret は開発用の署名鍵が使われているかを返す。
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.JWTSecret == DefaultJWTSecret
}

// stringToTrimmedSliceHookFunc はsep区切りの文字列を前後の空白を除いたスライスに変換する。
// 空の要素は捨てる。
func stringToTrimmedSliceHookFunc(sep string) mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		raw, _ := data.(string)
		parts := strings.Split(raw, sep)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
}
