package order

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/fooddelivery/pkg/caller"
	"github.com/nao1215/fooddelivery/pkg/httpclient"
)

// restaurantStatusOpen は営業中を表すレストランのステータス。
const restaurantStatusOpen = "ACTIVE"

// Outcome はレストラン確認の結果。
type Outcome int

const (
	// OutcomeOK は注文を受け付けられることを表す。
	OutcomeOK Outcome = iota
	// OutcomeNotFound はレストランが存在しないことを表す。
	OutcomeNotFound
	// OutcomeUnavailable はレストランが営業していないことを表す。
	OutcomeUnavailable
	// OutcomeLookupFailed はレストランサービスに確認できなかったことを表す。
	OutcomeLookupFailed
)

// String は結果の名前を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeNotFound:
		return "NotFound"
	case OutcomeUnavailable:
		return "Unavailable"
	case OutcomeLookupFailed:
		return "LookupFailed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// restaurantSummary はGET /restaurants/dto/{id}のレスポンス。
type restaurantSummary struct {
	// ID はレストランのID。
	ID int64 `json:"id"`
	// Status は営業ステータス。
	Status string `json:"status"`
}

// RestaurantValidator はレストランサービスに問い合わせて注文先を確認する。
type RestaurantValidator struct {
	// client はレストランサービスへのHTTPクライアント。
	client *httpclient.Client
}

// NewRestaurantValidator は新しいRestaurantValidatorを生成する。
func NewRestaurantValidator(client *httpclient.Client) *RestaurantValidator {
	return &RestaurantValidator{client: client}
}

// Validate はrestaurantIDのレストランに注文できるかを確認する。
// 呼び出し元のトークンを付けて問い合わせる。
// OutcomeLookupFailedの場合のみ原因のエラーも返す。
func (v *RestaurantValidator) Validate(ctx context.Context, restaurantID int64, cl *caller.Caller) (Outcome, error) {
	var summary *restaurantSummary
	err := v.client.GetJSON(ctx, fmt.Sprintf("/restaurants/dto/%d", restaurantID), &summary,
		httpclient.WithBearerToken(bearerOf(cl)))
	if code, ok := httpclient.StatusCode(err); ok && code == http.StatusNotFound {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeLookupFailed, fmt.Errorf("レストランの確認に失敗: %w", err)
	}
	if summary == nil {
		return OutcomeNotFound, nil
	}
	if !strings.EqualFold(strings.TrimSpace(summary.Status), restaurantStatusOpen) {
		return OutcomeUnavailable, nil
	}
	return OutcomeOK, nil
}

// bearerOf は呼び出し元のトークンを返す。呼び出し元がなければ空文字列。
func bearerOf(cl *caller.Caller) string {
	if cl == nil {
		return ""
	}
	return cl.Token
}
