package credential

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials はログインIDまたはパスワードが一致しないことを表す。
	// 会員が存在しない場合も同じエラーを返し、どちらが誤っているかは区別しない。
	ErrInvalidCredentials = errors.New("invalid_credentials")
	// ErrUnavailable は検証先に到達できなかったことを表す。
	ErrUnavailable = errors.New("credential_store_unavailable")
	// ErrDuplicateLogin は同じログインIDの会員が既に存在することを表す。
	ErrDuplicateLogin = errors.New("duplicate_login")
)

// Member は検証に成功した会員の情報。トークンのクレームに使う。
type Member struct {
	// ID は会員ID。トークンのsubjectになる。
	ID string `json:"id"`
	// Email は会員のメールアドレス。
	Email string `json:"email"`
	// Role は会員のロール（例: "member", "admin"）。
	Role string `json:"role"`
}

// Validator はログインIDとパスワードを検証する。
// loginにはユーザー名またはメールアドレスを指定できる。
type Validator interface {
	ValidateCredentials(ctx context.Context, login, password string) (Member, error)
}

// DefaultRole は会員登録時にロールを省略した場合のロール。
const DefaultRole = "member"
