// Package token は全サービスで共有する認証トークン（HS256署名のJWT）の
// エンコードとデコードを提供する。
//
// 検証は共有秘密鍵のみで完結し、発行元のauthサービスに問い合わせる必要はない。
// そのため、トークンを検証するすべてのサービスに同一の秘密鍵を設定すること。
package token
