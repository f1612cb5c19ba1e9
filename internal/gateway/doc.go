// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、パスの先頭セグメントで転送先の
// サービスを選び、そのセグメントを取り除いて転送する。
//
//	/auth/*       -> auth
//	/orders/*     -> order
//	/restaurant/* -> restaurant
//	/payment/*    -> payment
//
// 例えば /orders/orders/5 は order サービスの /orders/5 に転送される。
// 転送前に取り除いた後のパスでトークンを検証するため、公開パスの一覧は
// 各サービスと同じものを使う。
package gateway
