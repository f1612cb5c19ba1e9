package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nao1215/fooddelivery/pkg/caller"
	"github.com/nao1215/fooddelivery/pkg/httpclient"
)

func TestPaymentClient_Submit(t *testing.T) {
	t.Parallel()

	cl := &caller.Caller{SubjectID: 42, Token: "user-token"}

	tests := []struct {
		name       string
		status     int
		want       PaymentOutcome
		wantStatus string
	}{
		{name: "201ならAcceptedを返すこと", status: http.StatusCreated, want: PaymentAccepted, wantStatus: StatusPaymentInitiated},
		{name: "200ならAcceptedを返すこと", status: http.StatusOK, want: PaymentAccepted, wantStatus: StatusPaymentInitiated},
		{name: "402ならRejectedを返すこと", status: http.StatusPaymentRequired, want: PaymentRejected, wantStatus: StatusPaymentFailed},
		{name: "500ならRejectedを返すこと", status: http.StatusInternalServerError, want: PaymentRejected, wantStatus: StatusPaymentFailed},
		{name: "401ならUnreachableを返すこと", status: http.StatusUnauthorized, want: PaymentUnreachable, wantStatus: StatusPaymentError},
		{name: "403ならUnreachableを返すこと", status: http.StatusForbidden, want: PaymentUnreachable, wantStatus: StatusPaymentError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				gotAuth string
				gotReq  PaymentRequest
			)
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/payments" {
					t.Errorf("リクエスト = %s %s, want POST /payments", r.Method, r.URL.Path)
				}
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotReq)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer ts.Close()

			got, err := NewPaymentClient(httpclient.New(ts.URL)).Submit(context.Background(),
				PaymentRequest{OrderID: 7, Amount: 1500, PaymentMethod: "CARD"}, cl)
			if got != tt.want {
				t.Errorf("Submit() = %v, want %v", got, tt.want)
			}
			if (err == nil) != (tt.want == PaymentAccepted) {
				t.Errorf("Submit() error = %v", err)
			}
			if got.Status() != tt.wantStatus {
				t.Errorf("Status() = %q, want %q", got.Status(), tt.wantStatus)
			}
			if gotAuth != "Bearer user-token" {
				t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer user-token")
			}
			if gotReq != (PaymentRequest{OrderID: 7, Amount: 1500, PaymentMethod: "CARD"}) {
				t.Errorf("送信内容 = %+v", gotReq)
			}
		})
	}

	t.Run("接続できない場合はUnreachableを返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := ts.URL
		ts.Close()

		got, err := NewPaymentClient(httpclient.New(url)).Submit(context.Background(), PaymentRequest{OrderID: 1}, cl)
		if got != PaymentUnreachable || err == nil {
			t.Errorf("Submit() = %v, %v, want Unreachable with error", got, err)
		}
	})
}
