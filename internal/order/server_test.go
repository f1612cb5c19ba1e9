package order

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/config"
	"github.com/nao1215/fooddelivery/pkg/event"
	"github.com/nao1215/fooddelivery/pkg/httpclient"
	"github.com/nao1215/fooddelivery/pkg/token"
	"github.com/nao1215/fooddelivery/pkg/token/tokentest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testEnv はテスト用サーバーと差し替えた依存先をまとめたもの。
type testEnv struct {
	s         *Server
	codec     *token.Codec
	store     *SQLStore
	validator *fakeValidator
	gateway   *fakeGateway
	publisher *recordingPublisher
}

// setupTestServer はインメモリSQLiteと偽の外部サービスを使うテスト用の注文サーバーを構築する。
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		codec:     tokentest.NewCodec(t),
		store:     newTestStore(t),
		validator: &fakeValidator{outcome: OutcomeOK},
		gateway:   &fakeGateway{outcome: PaymentAccepted},
		publisher: &recordingPublisher{},
	}
	env.s = newServerWith(env.codec, env.store, newTestOrchestrator(env.store, env.validator, env.gateway, env.publisher), env.publisher)
	return env
}

func newServerWith(codec *token.Codec, store Store, orch *Orchestrator, pub *recordingPublisher) *Server {
	s := &Server{
		router:       gin.New(),
		port:         "0",
		store:        store,
		orchestrator: orch,
		publisher:    pub,
		decoder:      codec,
		publicPaths:  config.DefaultPublicPaths,
		logger:       zap.NewNop(),
	}
	s.setupRoutes()
	return s
}

// seedOrder はテスト用に注文をDBに直接挿入する。
func (e *testEnv) seedOrder(t *testing.T, customerID int64, status string) *Order {
	t.Helper()

	o := &Order{CustomerID: customerID, RestaurantID: 201, TotalAmount: 1000, PaymentMethod: "CARD", OrderTime: fixedNow, Status: status}
	if err := e.store.Save(context.Background(), o); err != nil {
		t.Fatalf("テスト用注文の作成に失敗: %v", err)
	}
	return o
}

func doRequest(s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) Order {
	t.Helper()

	var o Order
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v, body = %s", err, w.Body.String())
	}
	return o
}

func TestHandlePlace(t *testing.T) {
	t.Parallel()

	t.Run("注文を作成して201を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.s, http.MethodPost, "/orders", tokentest.Issue(t, env.codec, 42, "USER"),
			map[string]any{"customerId": 7, "restaurantId": 201, "totalAmount": 1500, "paymentMethod": "card"})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
		}

		got := decodeOrder(t, w)
		if got.ID == 0 || got.CustomerID != 42 || got.Status != StatusPaymentInitiated || got.PaymentMethod != "CARD" {
			t.Errorf("レスポンス = %+v", got)
		}
		saved, err := env.store.Get(context.Background(), got.ID)
		if err != nil {
			t.Fatalf("保存された注文の取得に失敗: %v", err)
		}
		if saved.CustomerID != 42 {
			t.Errorf("保存されたCustomerID = %d, want 42", saved.CustomerID)
		}
	})

	t.Run("決済に失敗しても201で注文を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.gateway.outcome = PaymentUnreachable
		w := doRequest(env.s, http.MethodPost, "/orders", tokentest.Issue(t, env.codec, 42, "USER"),
			map[string]any{"restaurantId": 201, "totalAmount": 1500, "paymentMethod": "CARD"})
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}
		if got := decodeOrder(t, w); got.Status != StatusPaymentError {
			t.Errorf("Status = %q, want %q", got.Status, StatusPaymentError)
		}
	})

	t.Run("存在しないレストランは400を返し保存しないこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.validator.outcome = OutcomeNotFound
		w := doRequest(env.s, http.MethodPost, "/orders", tokentest.Issue(t, env.codec, 42, "USER"),
			map[string]any{"restaurantId": 999, "totalAmount": 1500, "paymentMethod": "CARD"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
		list, _ := env.store.List(context.Background(), 0)
		if len(list) != 0 || env.gateway.Calls() != 0 {
			t.Errorf("副作用がある: orders=%d, payments=%d", len(list), env.gateway.Calls())
		}
	})

	t.Run("営業していないレストランは400を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.validator.outcome = OutcomeUnavailable
		w := doRequest(env.s, http.MethodPost, "/orders", tokentest.Issue(t, env.codec, 42, "USER"),
			map[string]any{"restaurantId": 201, "totalAmount": 1500, "paymentMethod": "CARD"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("必須項目がない場合は400を返し外部を呼ばないこと", func(t *testing.T) {
		t.Parallel()

		bodies := []map[string]any{
			{"totalAmount": 1500, "paymentMethod": "CARD"},
			{"restaurantId": 201, "paymentMethod": "CARD"},
			{"restaurantId": 201, "totalAmount": 1500},
		}
		env := setupTestServer(t)
		for _, body := range bodies {
			w := doRequest(env.s, http.MethodPost, "/orders", tokentest.Issue(t, env.codec, 42, "USER"), body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("body=%v: ステータスコード = %d, want %d", body, w.Code, http.StatusBadRequest)
			}
		}
		if env.validator.Calls() != 0 {
			t.Errorf("確認呼び出し回数 = %d, want 0", env.validator.Calls())
		}
	})

	t.Run("Authorizationヘッダーがない場合は401を返し外部を一切呼ばないこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.s, http.MethodPost, "/orders", "",
			map[string]any{"restaurantId": 201, "totalAmount": 1500, "paymentMethod": "CARD"})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		list, _ := env.store.List(context.Background(), 0)
		if env.validator.Calls() != 0 || env.gateway.Calls() != 0 || len(list) != 0 || len(env.publisher.Events()) != 0 {
			t.Error("認証前に下流の処理が実行されている")
		}
	})
}

// TestPlaceOrder_EndToEnd は実際のHTTPクライアントでレストラン・決済サービスを呼び出す流れを検証する。
func TestPlaceOrder_EndToEnd(t *testing.T) {
	t.Parallel()

	codec := tokentest.NewCodec(t)
	bearer := tokentest.Issue(t, codec, 42, "USER")

	var restaurantCalls, paymentCalls atomic.Int32
	restaurantSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restaurantCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+bearer {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":201,"name":"Ichiran","status":"ACTIVE"}`))
	}))
	defer restaurantSrv.Close()
	paymentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paymentCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+bearer {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"SUCCESS"}`))
	}))
	defer paymentSrv.Close()

	store := newTestStore(t)
	pub := &recordingPublisher{}
	orch := NewOrchestrator(store,
		NewRestaurantValidator(httpclient.New(restaurantSrv.URL)),
		NewPaymentClient(httpclient.New(paymentSrv.URL)),
		pub, time.Second, zap.NewNop())
	s := newServerWith(codec, store, orch, pub)

	w := doRequest(s, http.MethodPost, "/orders", bearer,
		map[string]any{"restaurantId": 201, "totalAmount": 1500, "paymentMethod": "CARD"})
	if w.Code != http.StatusCreated {
		t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if got := decodeOrder(t, w); got.Status != StatusPaymentInitiated || got.OrderTime.IsZero() {
		t.Errorf("レスポンス = %+v", got)
	}
	if restaurantCalls.Load() != 1 || paymentCalls.Load() != 1 {
		t.Errorf("呼び出し回数 = restaurant:%d payment:%d, want 1/1", restaurantCalls.Load(), paymentCalls.Load())
	}
}

func TestHandleList(t *testing.T) {
	t.Parallel()

	t.Run("一般ユーザーは自分の注文のみ取得すること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPending)
		env.seedOrder(t, 7, StatusPending)
		env.seedOrder(t, 42, StatusDelivered)

		w := doRequest(env.s, http.MethodGet, "/orders", tokentest.Issue(t, env.codec, 42, "USER"), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		var got []Order
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		if len(got) != 2 {
			t.Errorf("件数 = %d, want 2", len(got))
		}
	})

	t.Run("管理者はすべての注文を取得すること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPending)
		env.seedOrder(t, 7, StatusPending)

		w := doRequest(env.s, http.MethodGet, "/orders", tokentest.Issue(t, env.codec, 1, "ADMIN"), nil)
		var got []Order
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		if len(got) != 2 {
			t.Errorf("件数 = %d, want 2", len(got))
		}
	})
}

func TestHandleGet(t *testing.T) {
	t.Parallel()

	t.Run("自分の注文を取得できること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		o := env.seedOrder(t, 42, StatusPending)
		w := doRequest(env.s, http.MethodGet, "/orders/1", tokentest.Issue(t, env.codec, 42, "USER"), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := decodeOrder(t, w); got.ID != o.ID {
			t.Errorf("ID = %d, want %d", got.ID, o.ID)
		}
	})

	t.Run("他人の注文は404を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 7, StatusPending)
		w := doRequest(env.s, http.MethodGet, "/orders/1", tokentest.Issue(t, env.codec, 42, "USER"), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("存在しない注文は404を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.s, http.MethodGet, "/orders/5", tokentest.Issue(t, env.codec, 1, "ADMIN"), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("トークンがない場合は401を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.s, http.MethodGet, "/orders/1", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestHandleUpdate(t *testing.T) {
	t.Parallel()

	t.Run("顧客IDと注文日時を変えずに更新できること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPending)

		w := doRequest(env.s, http.MethodPut, "/orders/1", tokentest.Issue(t, env.codec, 1, "ADMIN"), map[string]any{
			"customerId": 7, "restaurantId": 202, "totalAmount": 2000, "paymentMethod": "upi",
			"orderTime": "2020-01-01T00:00:00Z", "status": "cancelled",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		got, _ := env.store.Get(context.Background(), 1)
		if got.CustomerID != 42 || !got.OrderTime.Equal(fixedNow) {
			t.Errorf("変更できない項目が変わっている: %+v", got)
		}
		if got.RestaurantID != 202 || got.TotalAmount != 2000 || got.PaymentMethod != "UPI" || got.Status != StatusCancelled {
			t.Errorf("更新後 = %+v", got)
		}

		events := env.publisher.Events()
		if len(events) != 1 || events[0].EventType != event.TypeOrderStatusChanged {
			t.Errorf("イベント = %v, want 1件のOrderStatusChanged", events)
		}
	})

	t.Run("ステータスを省略した場合は変更しないこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPaymentInitiated)

		w := doRequest(env.s, http.MethodPut, "/orders/1", tokentest.Issue(t, env.codec, 1, "ADMIN"),
			map[string]any{"restaurantId": 201, "totalAmount": 10, "paymentMethod": "CARD"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := decodeOrder(t, w); got.Status != StatusPaymentInitiated {
			t.Errorf("Status = %q, want %q", got.Status, StatusPaymentInitiated)
		}
		if len(env.publisher.Events()) != 0 {
			t.Error("ステータスが変わらないのにイベントが送信されている")
		}
	})

	t.Run("注文者本人でも一般ユーザーは403を返し変更しないこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPaymentFailed)
		w := doRequest(env.s, http.MethodPut, "/orders/1", tokentest.Issue(t, env.codec, 42, "USER"),
			map[string]any{"restaurantId": 201, "totalAmount": 0.01, "paymentMethod": "CARD", "status": "DELIVERED"})
		if w.Code != http.StatusForbidden {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
		got, _ := env.store.Get(context.Background(), 1)
		if got.Status != StatusPaymentFailed || got.TotalAmount != 1000 {
			t.Errorf("注文が変更されている: %+v", got)
		}
		if len(env.publisher.Events()) != 0 {
			t.Error("拒否した更新でイベントが送信されている")
		}
	})

	t.Run("存在しない注文は404を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.s, http.MethodPut, "/orders/1", tokentest.Issue(t, env.codec, 1, "ADMIN"),
			map[string]any{"restaurantId": 201, "totalAmount": 10, "paymentMethod": "CARD"})
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestHandleUpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("クエリパラメータでステータスを変更できること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPaymentInitiated)

		w := doRequest(env.s, http.MethodPut, "/orders/1/status?status=delivered", tokentest.Issue(t, env.codec, 1, "ADMIN"), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := decodeOrder(t, w); got.Status != StatusDelivered {
			t.Errorf("Status = %q, want %q", got.Status, StatusDelivered)
		}

		events := env.publisher.Events()
		if len(events) != 1 {
			t.Fatalf("イベント件数 = %d, want 1", len(events))
		}
		data, _ := event.DecodeData[event.OrderStatusChangedData](events[0])
		if data.From != StatusPaymentInitiated || data.To != StatusDelivered || data.ChangedBy != 1 {
			t.Errorf("イベントデータ = %+v", data)
		}
	})

	t.Run("JSONでステータスを変更できること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPaymentInitiated)

		w := doRequest(env.s, http.MethodPut, "/orders/1/status", tokentest.Issue(t, env.codec, 1, "ADMIN"),
			map[string]string{"status": "PREPARING"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("ステータスが空なら400を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPending)
		w := doRequest(env.s, http.MethodPut, "/orders/1/status", tokentest.Issue(t, env.codec, 1, "ADMIN"), nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("不明なステータスは400を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPending)
		w := doRequest(env.s, http.MethodPut, "/orders/1/status?status=TELEPORTED", tokentest.Issue(t, env.codec, 1, "ADMIN"), nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("注文者本人でも一般ユーザーは決済結果を書き換えられないこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPaymentFailed)
		w := doRequest(env.s, http.MethodPut, "/orders/1/status?status=PAYMENT_INITIATED", tokentest.Issue(t, env.codec, 42, "USER"), nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
		got, _ := env.store.Get(context.Background(), 1)
		if got.Status != StatusPaymentFailed {
			t.Errorf("Status = %q, want %q", got.Status, StatusPaymentFailed)
		}
	})

	t.Run("存在しない注文は404を返すこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(env.s, http.MethodPut, "/orders/3/status?status=DELIVERED", tokentest.Issue(t, env.codec, 1, "ADMIN"), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestHandleDelete(t *testing.T) {
	t.Parallel()

	t.Run("注文者本人は削除できること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPending)
		w := doRequest(env.s, http.MethodDelete, "/orders/1", tokentest.Issue(t, env.codec, 42, "USER"), nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		events := env.publisher.Events()
		if len(events) != 1 || events[0].EventType != event.TypeOrderDeleted {
			t.Errorf("イベント = %v, want 1件のOrderDeleted", events)
		}
	})

	t.Run("管理者は他人の注文を削除できること", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 42, StatusPending)
		w := doRequest(env.s, http.MethodDelete, "/orders/1", tokentest.Issue(t, env.codec, 1, "ADMIN"), nil)
		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
	})

	t.Run("他人の注文は404を返し削除しないこと", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.seedOrder(t, 7, StatusPending)
		w := doRequest(env.s, http.MethodDelete, "/orders/1", tokentest.Issue(t, env.codec, 42, "USER"), nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
		if _, err := env.store.Get(context.Background(), 1); err != nil {
			t.Errorf("注文が削除されている: %v", err)
		}
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	w := doRequest(env.s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
}
