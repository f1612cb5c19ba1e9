// Package registry はサービスレジストリのクライアント側を提供する。
//
// 各サービスはAgentで自身を登録してハートビートを送り続け、
// 他サービスの接続先はResolverで解決する。レジストリに到達できない場合は
// 設定された静的URLにフォールバックする。
package registry
