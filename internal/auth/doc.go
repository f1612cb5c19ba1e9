// Package auth は認証サービスを実装する。
//
// ユーザー登録とログインを担当し、ログイン成功時に署名付きトークンを発行する。
// 発行したトークンは各サービスが共有秘密鍵で独立に検証するため、
// このサービスはトークンの検証要求を受け付けない。
//
// エンドポイント:
//
//	POST /auth/register  ユーザー登録（認証不要）
//	POST /auth/login     ログイン、本文にトークン文字列を返す（認証不要）
//	GET  /auth/me        認証済みユーザーの情報
package auth
