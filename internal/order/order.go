package order

import (
	"errors"
	"strings"
	"time"
)

// 注文ステータス。
const (
	// StatusPending は保存直後で決済結果が未確定の状態。
	StatusPending = "PENDING"
	// StatusPaymentInitiated は決済が受け付けられた状態。
	StatusPaymentInitiated = "PAYMENT_INITIATED"
	// StatusPaymentFailed は決済が拒否された状態。
	StatusPaymentFailed = "PAYMENT_FAILED"
	// StatusPaymentError は決済サービスに到達できなかった状態。
	StatusPaymentError = "PAYMENT_ERROR"
	// StatusConfirmed はレストランが注文を確認した状態。
	StatusConfirmed = "CONFIRMED"
	// StatusPreparing は調理中の状態。
	StatusPreparing = "PREPARING"
	// StatusOutForDelivery は配達中の状態。
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	// StatusDelivered は配達済みの状態。
	StatusDelivered = "DELIVERED"
	// StatusCancelled は取り消された状態。
	StatusCancelled = "CANCELLED"
)

// knownStatuses はステータス変更で受け付ける値。
var knownStatuses = map[string]struct{}{
	StatusPending:          {},
	StatusPaymentInitiated: {},
	StatusPaymentFailed:    {},
	StatusPaymentError:     {},
	StatusConfirmed:        {},
	StatusPreparing:        {},
	StatusOutForDelivery:   {},
	StatusDelivered:        {},
	StatusCancelled:        {},
}

// NormalizeStatus はステータスを大文字に揃え、既知の値ならtrueを返す。
func NormalizeStatus(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	_, ok := knownStatuses[s]
	return s, ok
}

var (
	// ErrNotFound は注文が存在しないことを示す。
	ErrNotFound = errors.New("注文が見つかりません")
	// ErrInvalidRestaurant は注文先のレストランが存在しないことを示す。
	ErrInvalidRestaurant = errors.New("レストランが存在しません")
	// ErrRestaurantClosed は注文先のレストランが営業していないか確認できないことを示す。
	ErrRestaurantClosed = errors.New("レストランが営業していません")
	// ErrNoCaller は呼び出し元が確立されていないことを示す。
	ErrNoCaller = errors.New("呼び出し元が不明です")
)

// Order は注文。
type Order struct {
	// ID は注文の一意識別子。最初の保存時に採番される。
	ID int64 `json:"id"`
	// CustomerID は注文した顧客のID。常に呼び出し元のトークンから設定する。
	CustomerID int64 `json:"customerId"`
	// RestaurantID は注文先レストランのID。
	RestaurantID int64 `json:"restaurantId"`
	// TotalAmount は注文金額。
	TotalAmount float64 `json:"totalAmount"`
	// PaymentMethod は支払い方法。
	PaymentMethod string `json:"paymentMethod"`
	// OrderTime は注文日時。作成後は変更しない。
	OrderTime time.Time `json:"orderTime"`
	// Status は注文ステータス。
	Status string `json:"status"`
}
