// Package caller はリクエスト単位の認証済み呼び出し元（Caller Context）を表す。
//
// AuthGateが検証済みトークンから生成し、ハンドラやサービス間呼び出しへ
// 引数またはリクエストスコープのcontext値として明示的に受け渡す。
package caller

import (
	"context"
	"strings"

	"github.com/nao1215/fooddelivery/pkg/token"
)

// AuthorityPrefix は認可判定に使う権限名の接頭辞。
const AuthorityPrefix = "ROLE_"

const (
	// RoleUser は一般ユーザーのロール。
	RoleUser = "USER"
	// RoleAdmin は管理者のロール。
	RoleAdmin = "ADMIN"
)

// Caller は1リクエストの間だけ有効な認証済み呼び出し元。
// リクエスト間やgoroutine間で共有してはならない。
type Caller struct {
	// SubjectID はユーザーの数値ID。
	SubjectID int64 `json:"subjectId"`
	// SubjectLabel はユーザーのメールアドレス。
	SubjectLabel string `json:"subjectLabel"`
	// Authorities は正規化済みの権限一覧（例: "ROLE_ADMIN"）。
	Authorities []string `json:"authorities"`
	// Token は検証に使われた生のトークン。他サービス呼び出し時に転送する。
	Token string `json:"-"`
}

// NormalizeAuthority はロール名を権限名に正規化する。
// 大文字化し、接頭辞がなければ付与する。空文字列は空文字列のまま返す。
func NormalizeAuthority(role string) string {
	r := strings.ToUpper(strings.TrimSpace(role))
	if r == "" || r == AuthorityPrefix {
		return ""
	}
	if !strings.HasPrefix(r, AuthorityPrefix) {
		r = AuthorityPrefix + r
	}
	return r
}

// FromClaims は検証済みクレームからCallerを生成する。
// ロールが空の場合、権限一覧は空になる（エラーではない）。
func FromClaims(claims token.Claims, rawToken string) *Caller {
	authorities := make([]string, 0, len(claims.Roles))
	seen := make(map[string]struct{}, len(claims.Roles))
	for _, role := range claims.Roles {
		a := NormalizeAuthority(role)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		authorities = append(authorities, a)
	}

	return &Caller{
		SubjectID:    claims.SubjectID,
		SubjectLabel: claims.SubjectLabel,
		Authorities:  authorities,
		Token:        rawToken,
	}
}

// HasAuthority はCallerが指定ロールの権限を持つかを返す。
func (c *Caller) HasAuthority(role string) bool {
	if c == nil {
		return false
	}
	want := NormalizeAuthority(role)
	if want == "" {
		return false
	}
	for _, a := range c.Authorities {
		if a == want {
			return true
		}
	}
	return false
}

// HasAnyAuthority はCallerが指定ロールのいずれかの権限を持つかを返す。
func (c *Caller) HasAnyAuthority(roles ...string) bool {
	for _, role := range roles {
		if c.HasAuthority(role) {
			return true
		}
	}
	return false
}

// IsAdmin は管理者権限を持つかを返す。
func (c *Caller) IsAdmin() bool {
	return c.HasAuthority(RoleAdmin)
}

// contextKey はコンテキストキーの型。
type contextKey struct{}

// WithCaller はコンテキストにCallerを設定する。
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext はコンテキストからCallerを取得する。
func FromContext(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(*Caller)
	return c, ok && c != nil
}
