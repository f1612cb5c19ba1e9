package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Request は決済処理の要求。
type Request struct {
	// OrderID は対象の注文ID。
	OrderID int64 `json:"orderId" binding:"required"`
	// Amount は決済金額。
	Amount float64 `json:"amount"`
	// PaymentMethod は決済手段。
	PaymentMethod string `json:"paymentMethod" binding:"required"`
}

// Result は決済処理の結果。
type Result struct {
	// Approved は承認されたかどうか。
	Approved bool
	// TransactionID は承認時に発行された取引ID。
	TransactionID string
	// Message は結果の説明。
	Message string
}

// Processor は外部の決済処理を抽象化する。
// 拒否は正常な結果としてApproved=falseで返し、処理自体の失敗のみerrorを返す。
type Processor interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// supportedMethods はSimulatedProcessorが受け付ける決済手段。
var supportedMethods = map[string]struct{}{
	"CARD":        {},
	"CREDIT_CARD": {},
	"DEBIT_CARD":  {},
	"STRIPE_CARD": {},
	"UPI":         {},
	"WALLET":      {},
	"PAYPAL":      {},
	"CASH":        {},
}

// SimulatedProcessor は外部決済を模擬するProcessor。
// 金額が0以下か未対応の決済手段なら拒否し、それ以外は承認する。
type SimulatedProcessor struct{}

// NewSimulatedProcessor は新しいSimulatedProcessorを生成する。
func NewSimulatedProcessor() *SimulatedProcessor {
	return &SimulatedProcessor{}
}

// Process は決済を模擬的に処理する。
func (p *SimulatedProcessor) Process(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("決済処理が中断されました: %w", err)
	}
	if req.Amount <= 0 {
		return Result{Message: "金額が不正です"}, nil
	}
	if _, ok := supportedMethods[strings.ToUpper(strings.TrimSpace(req.PaymentMethod))]; !ok {
		return Result{Message: fmt.Sprintf("未対応の決済手段です: %s", req.PaymentMethod)}, nil
	}
	return Result{
		Approved:      true,
		TransactionID: "txn_" + uuid.New().String(),
		Message:       "決済が承認されました",
	}, nil
}
