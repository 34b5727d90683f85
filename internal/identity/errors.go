package identity

import "errors"

var (
	// ErrMissing は資格情報が提示されなかったことを表す。
	ErrMissing = errors.New("credential missing")
	// ErrMalformed は資格情報の形式が不正であることを表す。
	ErrMalformed = errors.New("credential malformed")
	// ErrExpired は資格情報の有効期限が切れていることを表す。
	ErrExpired = errors.New("credential expired")
	// ErrInvalidSignature は署名が検証できなかったことを表す。
	ErrInvalidSignature = errors.New("credential signature invalid")
)

// AuthError は検証失敗の種類と原因を保持する。
type AuthError struct {
	// Kind はErrMissing等のいずれか。
	Kind error
	// Err は下位ライブラリが返した元のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap はKindと元のエラーの両方を返す。
func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Message はクライアントに返すメッセージを返す。
func (e *AuthError) Message() string {
	switch e.Kind {
	case ErrMissing:
		return "authentication token is required"
	case ErrMalformed:
		return "malformed authentication token"
	case ErrExpired:
		return "authentication token has expired"
	default:
		return "invalid authentication token"
	}
}

// Reason はメトリクスやログ用の短い識別子を返す。
func (e *AuthError) Reason() string {
	switch e.Kind {
	case ErrMissing:
		return "missing"
	case ErrMalformed:
		return "malformed"
	case ErrExpired:
		return "expired"
	default:
		return "invalid_signature"
	}
}

func authError(kind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}
