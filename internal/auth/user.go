package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound はユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("ユーザーが見つかりません")
	// ErrDuplicateEmail はメールアドレスが登録済みであることを示す。
	ErrDuplicateEmail = errors.New("メールアドレスは既に登録されています")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが誤っていることを示す。
	// どちらが誤っているかは区別しない。
	ErrInvalidCredentials = errors.New("メールアドレスまたはパスワードが正しくありません")
	// ErrMissingField は必須項目が空であることを示す。
	ErrMissingField = errors.New("必須項目が入力されていません")
)

// DefaultRole はセルフ登録したユーザーに割り当てるロール。
const DefaultRole = "USER"

// User は認証情報を持つユーザー。
type User struct {
	// ID はユーザーの一意識別子。トークンのuserIdになる。
	ID int64
	// Name はユーザーの表示名。
	Name string
	// Email はログインに使うメールアドレス。トークンのsubになる。
	Email string
	// PasswordHash はbcryptでハッシュ化したパスワード。
	PasswordHash string
	// Role はユーザーのロール（USER, ADMINなど）。
	Role string
	// CreatedAt は登録日時。
	CreatedAt time.Time
}

// CredentialStore はユーザーの永続化を抽象化する。
type CredentialStore interface {
	// FindByEmail はメールアドレスでユーザーを検索する。存在しなければErrUserNotFound。
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByID はIDでユーザーを検索する。存在しなければErrUserNotFound。
	FindByID(ctx context.Context, id int64) (*User, error)
	// Create はユーザーを保存し、IDを設定する。登録済みならErrDuplicateEmail。
	Create(ctx context.Context, u *User) error
}
