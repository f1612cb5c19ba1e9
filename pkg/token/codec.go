package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength は署名鍵に要求する最低バイト長。HS256の出力長に合わせている。
const MinSecretLength = 32

// Claims はトークンに埋め込まれる呼び出し元の身元情報。
type Claims struct {
	// SubjectID は認証済みユーザーの数値ID。
	SubjectID int64
	// SubjectLabel はユーザーを表す文字列（メールアドレス）。
	SubjectLabel string
	// Roles はユーザーのロール一覧。順序に意味はない。
	Roles []string
	// IssuedAt はトークンの発行日時。
	IssuedAt time.Time
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// wireClaims はJWTペイロードのJSON表現。
type wireClaims struct {
	jwt.RegisteredClaims
	// UserID はユーザーの数値ID。
	UserID int64 `json:"userId"`
	// Roles はロール一覧。
	Roles []string `json:"roles,omitempty"`
	// Role は単一ロールのみを読むクライアント向けに先頭ロールを入れる。
	Role string `json:"role,omitempty"`
}

// Codec は共有秘密鍵でトークンを署名・検証する。
// 生成後は読み取り専用で、複数goroutineから同時に使用できる。
type Codec struct {
	// secret はHMAC署名鍵。
	secret []byte
	// now は有効期限判定に使う現在時刻の取得関数。
	now func() time.Time
}

// Option はCodecの設定を変更する関数。
type Option func(*Codec)

// WithClock は有効期限判定に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// CheckSecret は署名鍵が最低長を満たしているか検証する。
// 起動時に呼び出し、弱い鍵での起動を防ぐ。
func CheckSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("%w: %dバイト以上が必要です（現在%dバイト）", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return nil
}

// NewCodec は新しいCodecを生成する。署名鍵が短すぎる場合はエラーを返す。
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if err := CheckSecret(secret); err != nil {
		return nil, err
	}
	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode はクレームを署名済みトークン文字列に変換する。
// 日時はjwt.TimePrecision（秒）に切り捨ててから有効期間を判定する。
func (c *Codec) Encode(claims Claims) (string, error) {
	issuedAt := claims.IssuedAt.Truncate(jwt.TimePrecision)
	expiresAt := claims.ExpiresAt.Truncate(jwt.TimePrecision)
	if !expiresAt.After(issuedAt) {
		return "", ErrInvalidLifetime
	}

	wire := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectLabel,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: claims.SubjectID,
		Roles:  claims.Roles,
	}
	if len(claims.Roles) > 0 {
		wire.Role = claims.Roles[0]
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Decode はトークン文字列を検証してクレームを返す。
//
// 判定順序は 構造 → アルゴリズム → 有効期限 → 署名 → クレーム。
// 現在時刻がexpを過ぎたトークンは署名の正否に関わらずErrExpiredとなる。
func (c *Codec) Decode(tokenString string) (Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return Claims{}, ErrMalformed
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(parts[0], &header); err != nil {
		return Claims{}, ErrMalformed
	}
	if header.Alg != jwt.SigningMethodHS256.Alg() {
		return Claims{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, header.Alg)
	}

	var wire wireClaims
	payloadErr := decodeSegment(parts[1], &wire)
	if payloadErr == nil && wire.ExpiresAt != nil && c.now().After(wire.ExpiresAt.Time) {
		return Claims{}, ErrExpired
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], signature, c.secret); err != nil {
		return Claims{}, ErrBadSignature
	}

	if payloadErr != nil || wire.ExpiresAt == nil || wire.IssuedAt == nil {
		return Claims{}, ErrMalformed
	}
	if !wire.ExpiresAt.After(wire.IssuedAt.Time) {
		return Claims{}, ErrMalformed
	}

	roles := wire.Roles
	if len(roles) == 0 && wire.Role != "" {
		roles = []string{wire.Role}
	}

	return Claims{
		SubjectID:    wire.UserID,
		SubjectLabel: wire.Subject,
		Roles:        roles,
		IssuedAt:     wire.IssuedAt.Time,
		ExpiresAt:    wire.ExpiresAt.Time,
	}, nil
}

// decodeSegment はbase64url（パディングなし）のJSONセグメントをデコードする。
func decodeSegment(segment string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
