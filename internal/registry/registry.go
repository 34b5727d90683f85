package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// ErrServiceNotFound は未登録のサービス名が指定されたことを表す。
var ErrServiceNotFound = errors.New("service not found")

// NotFoundError は解決できなかったサービス名を保持するエラー。
type NotFoundError struct {
	// Name は要求されたサービス名。
	Name string
}

// Error はエラーメッセージを返す。
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("サービス %q は登録されていません", e.Name)
}

// Is はErrServiceNotFoundとの比較を可能にする。
func (e *NotFoundError) Is(target error) bool {
	return target == ErrServiceNotFound
}

// ServiceEntry はバックエンドサービス1件分の接続情報。
type ServiceEntry struct {
	// Name は論理サービス名（例: "user"）。
	Name string
	// BaseURL は転送先のベースURL。
	BaseURL *url.URL
	// Timeout は1回の呼び出しに許容する時間。
	Timeout time.Duration
	// MaxRetries はべき等なリクエストに対する最大リトライ回数。
	MaxRetries int
}

// Validate はエントリの不変条件を検証する。
func (e ServiceEntry) Validate() error {
	if e.Name == "" {
		return errors.New("サービス名が空です")
	}
	if e.BaseURL == nil {
		return fmt.Errorf("サービス %q のベースURLが未設定です", e.Name)
	}
	if e.BaseURL.Scheme != "http" && e.BaseURL.Scheme != "https" {
		return fmt.Errorf("サービス %q のベースURLのスキームが不正です: %q", e.Name, e.BaseURL.Scheme)
	}
	if e.BaseURL.Host == "" {
		return fmt.Errorf("サービス %q のベースURLにホストがありません", e.Name)
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("サービス %q のタイムアウトは正の値である必要があります: %s", e.Name, e.Timeout)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("サービス %q のリトライ回数は0以上である必要があります: %d", e.Name, e.MaxRetries)
	}
	return nil
}

// Registry は論理サービス名からServiceEntryを解決する。
// 構築後は変更されないため、ロックなしで並行に参照できる。
type Registry struct {
	entries map[string]ServiceEntry
}

// New はエントリを検証してRegistryを構築する。
// 重複した名前や不変条件を満たさないエントリがあればエラーを返す。
func New(entries ...ServiceEntry) (*Registry, error) {
	m := make(map[string]ServiceEntry, len(entries))
	var errs []error
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := m[e.Name]; dup {
			errs = append(errs, fmt.Errorf("サービス %q が重複して登録されています", e.Name))
			continue
		}
		m[e.Name] = e
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("レジストリの構築に失敗: %w", errors.Join(errs...))
	}
	return &Registry{entries: m}, nil
}

// Resolve はサービス名に対応するエントリを返す。
func (r *Registry) Resolve(name string) (ServiceEntry, error) {
	e, ok := r.entries[name]
	if !ok {
		return ServiceEntry{}, &NotFoundError{Name: name}
	}
	return e, nil
}

// Names は登録済みのサービス名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len は登録済みのサービス数を返す。
func (r *Registry) Len() int {
	return len(r.entries)
}
