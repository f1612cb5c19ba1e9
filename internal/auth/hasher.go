package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher interface {
	// Hash はパスワードをハッシュ化する。
	Hash(password string) (string, error)
	// Compare はハッシュとパスワードが一致すればnilを返す。
	Compare(hash, password string) error
}

// errPasswordMismatch はパスワードがハッシュと一致しないことを示す。
var errPasswordMismatch = errors.New("パスワードが一致しません")

// BcryptHasher はbcryptを使ったPasswordHasherの実装。
type BcryptHasher struct {
	// cost はbcryptのコスト。
	cost int
}

// NewBcryptHasher は新しいBcryptHasherを生成する。範囲外のコストはデフォルト値にする。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はパスワードをハッシュ化する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(hash), nil
}

// Compare はハッシュとパスワードを照合する。
func (h *BcryptHasher) Compare(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errPasswordMismatch
		}
		return fmt.Errorf("パスワードの照合に失敗: %w", err)
	}
	return nil
}
