package token

import "errors"

var (
	// ErrWeakSecret は署名鍵が最低長に満たないことを表す。
	ErrWeakSecret = errors.New("署名鍵が短すぎます")
	// ErrInvalidLifetime は有効期限が発行日時以前であることを表す。
	ErrInvalidLifetime = errors.New("有効期限は発行日時より後である必要があります")
	// ErrMalformed はトークンの構造またはクレームが不正であることを表す。
	ErrMalformed = errors.New("トークンの形式が不正です")
	// ErrBadSignature は署名が一致しないことを表す。
	ErrBadSignature = errors.New("トークンの署名が一致しません")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("トークンの有効期限が切れています")
	// ErrUnsupportedAlgorithm はヘッダーの署名アルゴリズムが未対応であることを表す。
	ErrUnsupportedAlgorithm = errors.New("サポートされていない署名アルゴリズムです")
)

// IsAuthenticationError はerrがトークン検証失敗（401で応答すべきもの）かどうかを返す。
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrUnsupportedAlgorithm)
}
