// Package registry はサービスレジストリを実装する。
//
// 各サービスのインスタンスは登録後、ハートビートでTTLを延長し続ける。
// ハートビートが途絶えたインスタンスはRedisのキー失効によって自動的に消える。
// 内部サービス専用であり、認証は行わない。
//
// エンドポイント:
//
//	POST   /registry/instances                          インスタンス登録
//	PUT    /registry/instances/:service/:id/heartbeat   ハートビート
//	DELETE /registry/instances/:service/:id             登録解除
//	GET    /registry/services                           サービス名一覧
//	GET    /registry/services/:service                  生存中のインスタンス一覧
package registry
