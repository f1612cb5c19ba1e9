package order

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nao1215/fooddelivery/pkg/caller"
	"github.com/nao1215/fooddelivery/pkg/httpclient"
)

// PaymentOutcome は決済依頼の結果。
type PaymentOutcome int

const (
	// PaymentAccepted は決済が受け付けられたことを表す。
	PaymentAccepted PaymentOutcome = iota
	// PaymentRejected は決済サービスが決済を拒否したことを表す。
	PaymentRejected
	// PaymentUnreachable は決済サービスに到達できなかったことを表す。
	PaymentUnreachable
)

// String は結果の名前を返す。
func (o PaymentOutcome) String() string {
	switch o {
	case PaymentAccepted:
		return "Accepted"
	case PaymentRejected:
		return "Rejected"
	case PaymentUnreachable:
		return "Unreachable"
	default:
		return fmt.Sprintf("PaymentOutcome(%d)", int(o))
	}
}

// Status は結果に対応する注文ステータスを返す。
func (o PaymentOutcome) Status() string {
	switch o {
	case PaymentAccepted:
		return StatusPaymentInitiated
	case PaymentRejected:
		return StatusPaymentFailed
	default:
		return StatusPaymentError
	}
}

// PaymentRequest は決済サービスに送る決済依頼。
type PaymentRequest struct {
	// OrderID は対象の注文ID。
	OrderID int64 `json:"orderId"`
	// Amount は決済金額。
	Amount float64 `json:"amount"`
	// PaymentMethod は支払い方法。
	PaymentMethod string `json:"paymentMethod"`
}

// PaymentClient は決済サービスのクライアント。
type PaymentClient struct {
	// client は決済サービスへのHTTPクライアント。
	client *httpclient.Client
}

// NewPaymentClient は新しいPaymentClientを生成する。
func NewPaymentClient(client *httpclient.Client) *PaymentClient {
	return &PaymentClient{client: client}
}

// Submit は呼び出し元のトークンを付けて決済を依頼する。
//
// 2xxはPaymentAccepted、401/403は経路上で身元が失われたとみなしPaymentUnreachable、
// その他の2xx以外はPaymentRejected、通信失敗はPaymentUnreachableを返す。
// PaymentAccepted以外では原因のエラーも返す。
func (p *PaymentClient) Submit(ctx context.Context, req PaymentRequest, cl *caller.Caller) (PaymentOutcome, error) {
	err := p.client.PostJSON(ctx, "/payments", req, nil, httpclient.WithBearerToken(bearerOf(cl)))
	if err == nil {
		return PaymentAccepted, nil
	}

	code, ok := httpclient.StatusCode(err)
	switch {
	case !ok:
		return PaymentUnreachable, fmt.Errorf("決済サービスへの送信に失敗: %w", err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return PaymentUnreachable, fmt.Errorf("決済サービスで認証に失敗: %w", err)
	default:
		return PaymentRejected, fmt.Errorf("決済が拒否されました: %w", err)
	}
}
