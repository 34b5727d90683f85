package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL は発行するトークンの既定の有効期間。
const DefaultTTL = 24 * time.Hour

// Issuer はVerifierが受け付けるトークンを発行する。
// 開発用トークンの発行とテストで使用する。
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer は新しいIssuerを生成する。
func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// WithNow は発行時刻の取得関数を差し替えたIssuerを返す。
func (i *Issuer) WithNow(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// Issue はトークンを発行する。ttlが0以下の場合はDefaultTTLを使用する。
func (i *Issuer) Issue(subject, email string, roles []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.issuer,
		},
		UserID: subject,
		Email:  email,
		Roles:  roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}
