package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/caller"
	"github.com/nao1215/fooddelivery/pkg/event"
	"github.com/nao1215/fooddelivery/pkg/messaging"
)

// Validator は注文先のレストランを確認する。
// *RestaurantValidator が実装する。
type Validator interface {
	Validate(ctx context.Context, restaurantID int64, cl *caller.Caller) (Outcome, error)
}

// PaymentGateway は決済を依頼する。
// *PaymentClient が実装する。
type PaymentGateway interface {
	Submit(ctx context.Context, req PaymentRequest, cl *caller.Caller) (PaymentOutcome, error)
}

// Orchestrator は注文作成のSagaを実行する。
type Orchestrator struct {
	// store は注文の保存先。
	store Store
	// validator はレストランの確認に使う。
	validator Validator
	// payments は決済の依頼先。
	payments PaymentGateway
	// publisher はOrderPlacedイベントの送信先。
	publisher messaging.Publisher
	// callTimeout は外部呼び出し1回あたりのタイムアウト。
	callTimeout time.Duration
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewOrchestrator は新しいOrchestratorを生成する。
func NewOrchestrator(
	store Store,
	validator Validator,
	payments PaymentGateway,
	publisher messaging.Publisher,
	callTimeout time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		validator:   validator,
		payments:    payments,
		publisher:   publisher,
		callTimeout: callTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// PlaceOrder は注文を作成する。
//
// レストランが存在しなければErrInvalidRestaurant、営業していないか確認できなければ
// ErrRestaurantClosedを返し、どちらの場合も何も保存しない。
// 決済の成否は注文のステータスに反映し、エラーにはしない。
func (o *Orchestrator) PlaceOrder(ctx context.Context, candidate Order, cl *caller.Caller) (*Order, error) {
	if cl == nil {
		return nil, ErrNoCaller
	}
	order := candidate
	order.ID = 0
	order.CustomerID = cl.SubjectID

	outcome, err := o.validate(ctx, order.RestaurantID, cl)
	switch outcome {
	case OutcomeOK:
	case OutcomeNotFound:
		o.logger.Info("存在しないレストランへの注文を拒否しました", zap.Int64("restaurant_id", order.RestaurantID))
		return nil, ErrInvalidRestaurant
	default:
		o.logger.Info("レストランが注文を受け付けられません",
			zap.Int64("restaurant_id", order.RestaurantID),
			zap.Stringer("outcome", outcome),
			zap.Error(err),
		)
		return nil, ErrRestaurantClosed
	}

	order.Status = StatusPending
	order.OrderTime = o.now().UTC()
	if err := o.store.Save(ctx, &order); err != nil {
		return nil, fmt.Errorf("注文の保存に失敗: %w", err)
	}
	o.logger.Info("注文を保存しました", zap.Int64("order_id", order.ID), zap.Int64("customer_id", order.CustomerID))

	// 保存以降は決済結果が必ず記録されるよう、クライアントの切断で中断しない
	sagaCtx := context.WithoutCancel(ctx)

	payment, err := o.pay(sagaCtx, PaymentRequest{
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
	}, cl)
	if err != nil {
		o.logger.Warn("決済が完了しませんでした",
			zap.Int64("order_id", order.ID),
			zap.Stringer("outcome", payment),
			zap.Error(err),
		)
	}

	order.Status = payment.Status()
	if err := o.store.Save(sagaCtx, &order); err != nil {
		return nil, fmt.Errorf("注文ステータスの保存に失敗: %w", err)
	}
	o.logger.Info("注文の決済結果を記録しました", zap.Int64("order_id", order.ID), zap.String("status", order.Status))

	o.publish(sagaCtx, &order)
	return &order, nil
}

// validate はタイムアウト付きでレストランを確認する。
func (o *Orchestrator) validate(ctx context.Context, restaurantID int64, cl *caller.Caller) (Outcome, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	return o.validator.Validate(ctx, restaurantID, cl)
}

// pay はタイムアウト付きで決済を依頼する。
func (o *Orchestrator) pay(ctx context.Context, req PaymentRequest, cl *caller.Caller) (PaymentOutcome, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	return o.payments.Submit(ctx, req, cl)
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.callTimeout)
}

// publish はOrderPlacedイベントを送信する。失敗はログに記録するだけ。
func (o *Orchestrator) publish(ctx context.Context, order *Order) {
	e, err := event.New(event.AggregateTypeOrder, order.ID, event.TypeOrderPlaced, event.OrderPlacedData{
		CustomerID:    order.CustomerID,
		RestaurantID:  order.RestaurantID,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		Status:        order.Status,
	})
	if err != nil {
		o.logger.Error("イベントの生成に失敗しました", zap.Error(err))
		return
	}
	if err := o.publisher.Publish(ctx, e); err != nil {
		o.logger.Error("イベントの送信に失敗しました", zap.String("event_type", string(e.EventType)), zap.Error(err))
	}
}
