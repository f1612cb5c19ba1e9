// Package restaurant はレストランカタログサービスを実装する。
//
// 注文サービスは GET /restaurants/dto/:id でレストランの存在と営業状態を確認する。
// 参照は認証済みの全ユーザー、作成と削除はADMIN、更新はADMINまたはUSERに許可する。
package restaurant
