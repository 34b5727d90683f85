package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims はトークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は主体の一意識別子。空の場合はsubを使用する。
	UserID string `json:"user_id,omitempty"`
	// LegacyUserID は userId クレームで発行された既存トークン向け。
	LegacyUserID string `json:"userId,omitempty"`
	// Email は主体のメールアドレス。
	Email string `json:"email,omitempty"`
	// Roles は主体のロール。
	Roles []string `json:"roles,omitempty"`
}

func (c *Claims) subject() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.LegacyUserID != "":
		return c.LegacyUserID
	default:
		return c.Subject
	}
}

// ExtractBearer はAuthorizationヘッダーからトークンを取り出す。
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", authError(ErrMissing, nil)
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", authError(ErrMalformed, errors.New("Bearer スキームではありません"))
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", authError(ErrMissing, nil)
	}
	return token, nil
}

// Verifier はトークンを検証してIdentityを返す。状態を持たず並行に使用できる。
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
	leeway time.Duration
}

// VerifierOption はVerifierの設定を変更する。
type VerifierOption func(*Verifier)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithIssuer はissクレームの一致を要求する。
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithLeeway は有効期限の判定に許容する時刻のずれを設定する。
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier は新しいVerifierを生成する。
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify は資格情報を検証する。失敗時は*AuthErrorを返す。
func (v *Verifier) Verify(credential string) (*Identity, error) {
	if credential == "" {
		return nil, authError(ErrMissing, nil)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, classify(err)
	}

	sub := claims.subject()
	if sub == "" {
		return nil, authError(ErrMalformed, errors.New("主体IDがありません"))
	}

	id := &Identity{
		SubjectID: sub,
		Email:     claims.Email,
		Roles:     make(map[string]struct{}, len(claims.Roles)),
	}
	for _, r := range claims.Roles {
		id.Roles[r] = struct{}{}
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// VerifyHeader はAuthorizationヘッダーの値を検証する。
func (v *Verifier) VerifyHeader(header string) (*Identity, error) {
	token, err := ExtractBearer(header)
	if err != nil {
		return nil, err
	}
	return v.Verify(token)
}

// classify はjwtライブラリのエラーを分類する。
func classify(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return authError(ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenNotValidYet):
		return authError(ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return authError(ErrMalformed, err)
	default:
		return authError(ErrInvalidSignature, fmt.Errorf("トークンの検証に失敗: %w", err))
	}
}
