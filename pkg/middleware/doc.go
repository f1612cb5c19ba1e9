// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// トークン検証（AuthGate）とロールによる認可、リクエストログ、パニックリカバリ、
// CORS設定など、全サービスで共通して使用するミドルウェアを含む。
// AuthGateはサービスごとに複製せず、このパッケージの実装を全サービスで使う。
package middleware
