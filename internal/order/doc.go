// Package order は注文サービスを実装する。
//
// 注文作成は次の順に進むSagaとして実行する。
//
//  1. 顧客IDを呼び出し元のトークンから設定する（クライアントの指定値は使わない）
//  2. レストランサービスで注文先が営業中か確認する（失敗時は何も保存しない）
//  3. PENDINGで注文を保存する
//  4. 決済サービスに決済を依頼する
//  5. 決済結果のステータスで注文を保存し直す
//
// 決済の拒否や通信失敗は注文のステータスとして記録し、HTTPエラーにはしない。
// 補償処理は行わないため、失敗したステータスの注文はそのまま残る。
// レストランサービスと決済サービスへの呼び出しには呼び出し元のトークンを付ける。
package order
