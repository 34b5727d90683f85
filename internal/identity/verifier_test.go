package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret はテスト用の署名鍵。
const testSecret = "test-secret-key-for-unit-tests"

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func issue(t *testing.T, subject string, roles []string, ttl time.Duration) string {
	t.Helper()

	tok, err := NewIssuer(testSecret, "edgegate").WithNow(fixedClock(baseTime)).Issue(subject, subject+"@example.com", roles, ttl)
	if err != nil {
		t.Fatalf("Issue()でエラーが発生: %v", err)
	}
	return tok
}

// TestVerifier_Verify はトークン検証の分類を検証する。
func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testSecret, WithClock(fixedClock(baseTime.Add(time.Minute))))

	t.Run("有効なトークンからIdentityが得られること", func(t *testing.T) {
		t.Parallel()

		id, err := v.Verify(issue(t, "user-123", []string{"admin", "customer"}, time.Hour))
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if id.SubjectID != "user-123" {
			t.Errorf("SubjectID = %q, want %q", id.SubjectID, "user-123")
		}
		if id.Email != "user-123@example.com" {
			t.Errorf("Email = %q, want %q", id.Email, "user-123@example.com")
		}
		if !id.HasRole("admin") || id.HasRole("driver") {
			t.Errorf("Roles = %v", id.RoleList())
		}
		if !id.ExpiresAt.Equal(baseTime.Add(time.Hour)) {
			t.Errorf("ExpiresAt = %v, want %v", id.ExpiresAt, baseTime.Add(time.Hour))
		}
	})

	t.Run("空の資格情報はErrMissingになること", func(t *testing.T) {
		t.Parallel()

		_, err := v.Verify("")
		if !errors.Is(err, ErrMissing) {
			t.Errorf("err = %v, want ErrMissing", err)
		}
	})

	t.Run("期限切れのトークンはErrExpiredになること", func(t *testing.T) {
		t.Parallel()

		late := NewVerifier(testSecret, WithClock(fixedClock(baseTime.Add(2*time.Hour))))
		_, err := late.Verify(issue(t, "user-1", nil, time.Hour))
		if !errors.Is(err, ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Message() != "authentication token has expired" {
			t.Errorf("Message() = %v", ae)
		}
	})

	t.Run("異なる鍵で署名されたトークンはErrInvalidSignatureになること", func(t *testing.T) {
		t.Parallel()

		other, err := NewIssuer("another-secret", "").WithNow(fixedClock(baseTime)).Issue("user-1", "", nil, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		_, err = v.Verify(other)
		if !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("JWTでない文字列はErrMalformedになること", func(t *testing.T) {
		t.Parallel()

		_, err := v.Verify("not-a-jwt")
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want ErrMalformed", err)
		}
	})

	t.Run("expクレームがないトークンはErrMalformedになること", func(t *testing.T) {
		t.Parallel()

		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "user-1"}).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		_, err = v.Verify(tok)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want ErrMalformed", err)
		}
	})

	t.Run("主体IDがないトークンはErrMalformedになること", func(t *testing.T) {
		t.Parallel()

		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(baseTime.Add(time.Hour))}}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		_, err = v.Verify(tok)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want ErrMalformed", err)
		}
	})

	t.Run("userIdクレームのトークンも受け付けること", func(t *testing.T) {
		t.Parallel()

		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(baseTime.Add(time.Hour))},
			LegacyUserID:     "legacy-7",
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		id, err := v.Verify(tok)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if id.SubjectID != "legacy-7" {
			t.Errorf("SubjectID = %q, want %q", id.SubjectID, "legacy-7")
		}
	})

	t.Run("HS256以外のアルゴリズムは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(baseTime.Add(time.Hour))},
			UserID:           "user-1",
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		_, err = v.Verify(tok)
		if !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("発行者が一致しない場合は拒否されること", func(t *testing.T) {
		t.Parallel()

		strict := NewVerifier(testSecret, WithIssuer("someone-else"), WithClock(fixedClock(baseTime)))
		_, err := strict.Verify(issue(t, "user-1", nil, time.Hour))
		if err == nil {
			t.Fatal("エラーにならなかった")
		}
	})
}

// TestExtractBearer はAuthorizationヘッダーの解析を検証する。
func TestExtractBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
		kind   error
	}{
		{name: "Bearerトークン", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "小文字のbearer", header: "bearer abc", want: "abc"},
		{name: "空ヘッダー", header: "", kind: ErrMissing},
		{name: "トークンなし", header: "Bearer ", kind: ErrMissing},
		{name: "Basic認証", header: "Basic dXNlcjpwYXNz", kind: ErrMalformed},
		{name: "スキームなし", header: "abc.def.ghi", kind: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ExtractBearer(tt.header)
			if tt.kind != nil {
				if !errors.Is(err, tt.kind) {
					t.Errorf("err = %v, want %v", err, tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractBearer()でエラーが発生: %v", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestContext はコンテキストへの格納と取り出しを検証する。
func TestContext(t *testing.T) {
	t.Parallel()

	if _, ok := FromContext(context.Background()); ok {
		t.Error("空のコンテキストからIdentityが取得された")
	}

	id := &Identity{SubjectID: "user-9"}
	got, ok := FromContext(NewContext(context.Background(), id))
	if !ok || got.SubjectID != "user-9" {
		t.Errorf("FromContext() = %v, %v", got, ok)
	}
}

// TestIdentity_HasAnyRole はロール判定を検証する。
func TestIdentity_HasAnyRole(t *testing.T) {
	t.Parallel()

	id := &Identity{Roles: map[string]struct{}{"customer": {}}}
	if !id.HasAnyRole(nil) {
		t.Error("ロール指定なしでfalseになった")
	}
	if !id.HasAnyRole([]string{"admin", "customer"}) {
		t.Error("customerを持つのにfalseになった")
	}
	if id.HasAnyRole([]string{"admin"}) {
		t.Error("adminを持たないのにtrueになった")
	}
	var nilID *Identity
	if nilID.HasAnyRole([]string{"admin"}) {
		t.Error("nilのIdentityでtrueになった")
	}
}
