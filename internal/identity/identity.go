package identity

import (
	"context"
	"sort"
	"time"
)

// Identity は検証済みの呼び出し元。
type Identity struct {
	// SubjectID は主体の一意識別子。
	SubjectID string
	// Email は主体のメールアドレス。空の場合がある。
	Email string
	// Roles は主体が持つロールの集合。
	Roles map[string]struct{}
	// IssuedAt はトークンの発行日時。
	IssuedAt time.Time
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// HasRole は指定ロールを持つかを返す。
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	_, ok := i.Roles[role]
	return ok
}

// HasAnyRole はいずれかのロールを持つかを返す。rolesが空なら常にtrue。
func (i *Identity) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if i.HasRole(r) {
			return true
		}
	}
	return false
}

// RoleList はロールを昇順のスライスで返す。
func (i *Identity) RoleList() []string {
	out := make([]string, 0, len(i.Roles))
	for r := range i.Roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

type contextKey struct{}

// NewContext はIdentityを格納したコンテキストを返す。
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext はコンテキストからIdentityを取り出す。未認証の場合はnilとfalseを返す。
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}
