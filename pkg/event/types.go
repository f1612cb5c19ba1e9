// Package event はサービス間で配信するドメインイベントを定義する。
//
// 注文・決済・ユーザー・レストランの状態変化をイベントとして表し、
// messagingパッケージ経由でメッセージブローカーに配信する。
package event

import (
	"encoding/json"
	"time"
)

// SchemaVersion はイベントデータの現在のスキーマバージョン。
const SchemaVersion = 1

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeOrder は注文エンティティを表す。
	AggregateTypeOrder AggregateType = "Order"
	// AggregateTypePayment は決済エンティティを表す。
	AggregateTypePayment AggregateType = "Payment"
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeRestaurant はレストランエンティティを表す。
	AggregateTypeRestaurant AggregateType = "Restaurant"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeOrderPlaced は注文処理が完了し、決済結果が確定したことを表す。
	TypeOrderPlaced Type = "OrderPlaced"
	// TypeOrderStatusChanged は注文ステータスが手動で変更されたことを表す。
	TypeOrderStatusChanged Type = "OrderStatusChanged"
	// TypeOrderDeleted は注文が削除されたことを表す。
	TypeOrderDeleted Type = "OrderDeleted"
	// TypePaymentProcessed は決済処理が行われたことを表す（成否を問わない）。
	TypePaymentProcessed Type = "PaymentProcessed"
	// TypeUserRegistered はユーザーが登録されたことを表す。
	TypeUserRegistered Type = "UserRegistered"
	// TypeRestaurantChanged はレストラン情報が作成・更新・削除されたことを表す。
	TypeRestaurantChanged Type = "RestaurantChanged"
)

// Event はサービス間で配信される不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はDataのスキーマバージョン。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// OrderPlacedData はOrderPlacedイベントのデータ。
type OrderPlacedData struct {
	// CustomerID は注文した顧客のID。
	CustomerID int64 `json:"customer_id"`
	// RestaurantID は注文先レストランのID。
	RestaurantID int64 `json:"restaurant_id"`
	// TotalAmount は注文金額。
	TotalAmount float64 `json:"total_amount"`
	// PaymentMethod は支払い方法。
	PaymentMethod string `json:"payment_method"`
	// Status は決済結果を反映した注文ステータス。
	Status string `json:"status"`
}

// OrderStatusChangedData はOrderStatusChangedイベントのデータ。
type OrderStatusChangedData struct {
	// From は変更前のステータス。
	From string `json:"from"`
	// To は変更後のステータス。
	To string `json:"to"`
	// ChangedBy は変更したユーザーのID。
	ChangedBy int64 `json:"changed_by"`
}

// OrderDeletedData はOrderDeletedイベントのデータ。
type OrderDeletedData struct {
	// DeletedBy は削除したユーザーのID。
	DeletedBy int64 `json:"deleted_by"`
}

// PaymentProcessedData はPaymentProcessedイベントのデータ。
type PaymentProcessedData struct {
	// OrderID は対象の注文ID。
	OrderID int64 `json:"order_id"`
	// Amount は決済金額。
	Amount float64 `json:"amount"`
	// Status は決済結果（SUCCESS / FAILED）。
	Status string `json:"status"`
	// TransactionID は決済処理の取引ID。
	TransactionID string `json:"transaction_id"`
}

// UserRegisteredData はUserRegisteredイベントのデータ。
type UserRegisteredData struct {
	// Email は登録されたメールアドレス。
	Email string `json:"email"`
	// Role は付与されたロール。
	Role string `json:"role"`
}

// RestaurantChangedData はRestaurantChangedイベントのデータ。
type RestaurantChangedData struct {
	// Action は変更内容（created / updated / deleted）。
	Action string `json:"action"`
	// Status は変更後の営業ステータス。
	Status string `json:"status"`
}
