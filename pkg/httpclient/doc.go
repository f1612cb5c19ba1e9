// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。
// 注文サービスからレストラン・決済サービスへの呼び出し、サービスレジストリとの通信など、
// サービス間の通信パターン（タイムアウト、Bearerトークンの転送、エラー表現）を統一する。
package httpclient
