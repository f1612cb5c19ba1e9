// Package payment は決済サービスを実装する。
//
// POST /payments は注文サービスから呼び出され、決済処理の結果を記録する。
// 承認されたら201、拒否されたら402、処理自体が失敗したら500を返す。
// 注文サービスはこのステータスコードで注文の最終ステータスを決める。
package payment
