// Package route はパスプレフィックスとバックエンドサービスの対応表を提供する。
package route

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// AuthMode はルートごとの認証要否を表す。
type AuthMode string

const (
	// AuthRequired は有効な資格情報がない場合に401を返す。
	AuthRequired AuthMode = "required"
	// AuthOptional は資格情報が不正でも匿名として転送する。
	AuthOptional AuthMode = "optional"
	// AuthNone は資格情報を検査しない。
	AuthNone AuthMode = "none"
)

// ParseAuthMode は文字列をAuthModeに変換する。空文字はAuthRequiredとして扱う。
func ParseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(s))); m {
	case AuthRequired, AuthOptional, AuthNone:
		return m, nil
	case "":
		return AuthRequired, nil
	default:
		return "", fmt.Errorf("不明な認証モードです: %q", s)
	}
}

// Route は1つのパスプレフィックスの転送設定。
type Route struct {
	// Prefix はマッチ対象のパスプレフィックス（例: "/api/users"）。
	Prefix string `json:"prefix" yaml:"prefix"`
	// Service は転送先の論理サービス名。
	Service string `json:"service" yaml:"service"`
	// Auth は認証モード。
	Auth AuthMode `json:"auth" yaml:"auth"`
	// Roles は認証必須ルートで要求するロール。いずれか1つを持っていればよい。
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// Matches はパスがプレフィックスにセグメント境界で一致するかを返す。
func (r Route) Matches(path string) bool {
	if r.Prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	rest, ok := strings.CutPrefix(path, r.Prefix)
	if !ok {
		return false
	}
	return rest == "" || strings.HasPrefix(rest, "/")
}

// StripEscapedPrefix はエスケープ済みのパスから、デコードするとプレフィックスに
// 一致する先頭セグメントを取り除く。一致しない場合はfalseを返す。
func (r Route) StripEscapedPrefix(escaped string) (string, bool) {
	if r.Prefix == "/" {
		return escaped, strings.HasPrefix(escaped, "/")
	}
	rest := escaped
	for _, want := range strings.Split(strings.TrimPrefix(r.Prefix, "/"), "/") {
		after, ok := strings.CutPrefix(rest, "/")
		if !ok {
			return "", false
		}
		seg, _, _ := strings.Cut(after, "/")
		// %2F を含むセグメントは区切りと見なさない
		got, err := url.PathUnescape(seg)
		if err != nil || got != want {
			return "", false
		}
		rest = after[len(seg):]
	}
	if rest == "" {
		return "/", true
	}
	return rest, true
}

// Resolver はサービス名の存在確認に使うインターフェース。
// registry.Registry が満たす。
type Resolver interface {
	Names() []string
}

// Table はプレフィックスの長い順に並べたルート表。構築後は変更されない。
type Table struct {
	routes []Route
}

// NewTable はルートを検証してTableを構築する。
// resolverがnilでなければ、すべてのサービス名が登録済みであることも検証する。
func NewTable(routes []Route, resolver Resolver) (*Table, error) {
	known := map[string]struct{}{}
	if resolver != nil {
		for _, n := range resolver.Names() {
			known[n] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(routes))
	sorted := make([]Route, 0, len(routes))
	var errs []error
	for _, r := range routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			errs = append(errs, fmt.Errorf("プレフィックスは / で始まる必要があります: %q", r.Prefix))
			continue
		}
		if r.Prefix != "/" {
			r.Prefix = strings.TrimRight(r.Prefix, "/")
		}
		if _, dup := seen[r.Prefix]; dup {
			errs = append(errs, fmt.Errorf("プレフィックス %q が重複しています", r.Prefix))
			continue
		}
		seen[r.Prefix] = struct{}{}

		mode, err := ParseAuthMode(string(r.Auth))
		if err != nil {
			errs = append(errs, fmt.Errorf("ルート %q: %w", r.Prefix, err))
			continue
		}
		r.Auth = mode
		if len(r.Roles) > 0 && r.Auth != AuthRequired {
			errs = append(errs, fmt.Errorf("ルート %q: ロール指定は認証必須ルートでのみ有効です", r.Prefix))
		}
		if r.Service == "" {
			errs = append(errs, fmt.Errorf("ルート %q: サービス名が空です", r.Prefix))
		} else if resolver != nil {
			if _, ok := known[r.Service]; !ok {
				errs = append(errs, fmt.Errorf("ルート %q: 未登録のサービス %q を参照しています", r.Prefix, r.Service))
			}
		}
		sorted = append(sorted, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("ルート表の検証に失敗: %w", errors.Join(errs...))
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{routes: sorted}, nil
}

// Match は最長一致するルートを返す。
func (t *Table) Match(path string) (Route, bool) {
	for _, r := range t.routes {
		if r.Matches(path) {
			return r, true
		}
	}
	return Route{}, false
}

// Routes はルートのコピーをプレフィックス昇順で返す。
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}
