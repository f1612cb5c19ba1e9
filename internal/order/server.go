package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/caller"
	"github.com/nao1215/fooddelivery/pkg/config"
	"github.com/nao1215/fooddelivery/pkg/event"
	"github.com/nao1215/fooddelivery/pkg/httpclient"
	"github.com/nao1215/fooddelivery/pkg/messaging"
	"github.com/nao1215/fooddelivery/pkg/middleware"
	"github.com/nao1215/fooddelivery/pkg/migration"
	"github.com/nao1215/fooddelivery/pkg/registry"
	"github.com/nao1215/fooddelivery/pkg/serve"
	"github.com/nao1215/fooddelivery/pkg/sqlitedb"
	"github.com/nao1215/fooddelivery/pkg/token"
)

// Server は注文サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は注文の保存先。
	store Store
	// orchestrator は注文作成のSaga。
	orchestrator *Orchestrator
	// publisher はドメインイベントの送信先。
	publisher messaging.Publisher
	// decoder はAuthGateでのトークン検証に使う。
	decoder middleware.TokenDecoder
	// publicPaths は認証を省略するパス。
	publicPaths []string
	// logger はロガー。
	logger *zap.Logger
	// workers はサーバーと並行して動かすバックグラウンド処理。
	workers []serve.Worker
	// closers は終了時に閉じるリソース。
	closers []func() error
}

// NewServer は新しい注文サーバーを生成する。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	codec, err := token.NewCodec(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("トークンコーデックの初期化に失敗: %w", err)
	}

	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := migration.Run(ctx, db, migrationFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	publisher, err := messaging.New(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("イベント送信の初期化に失敗: %w", err)
	}

	resolver, agent := registry.Setup(cfg, logger)
	restaurantClient := httpclient.New(cfg.Services.Restaurant,
		httpclient.WithTimeout(cfg.HTTPClientTimeout),
		httpclient.WithBaseURLFunc(resolver.BaseURLFunc(registry.ServiceRestaurant)),
	)
	paymentClient := httpclient.New(cfg.Services.Payment,
		httpclient.WithTimeout(cfg.HTTPClientTimeout),
		httpclient.WithBaseURLFunc(resolver.BaseURLFunc(registry.ServicePayment)),
	)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	store := NewSQLStore(db)
	s := &Server{
		router: router,
		port:   cfg.Port,
		store:  store,
		orchestrator: NewOrchestrator(
			store,
			NewRestaurantValidator(restaurantClient),
			NewPaymentClient(paymentClient),
			publisher,
			cfg.OrderCallTimeout,
			logger,
		),
		publisher:   publisher,
		decoder:     codec,
		publicPaths: cfg.PublicPaths,
		logger:      logger,
		closers:     []func() error{publisher.Close, db.Close},
	}
	if agent != nil {
		s.workers = append(s.workers, agent.Run)
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで動き続ける。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve.Run(ctx, srv, s.logger, s.workers...)
}

// Close はデータベース接続とイベント送信を閉じる。
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Authenticate(middleware.AuthConfig{
		Decoder:     s.decoder,
		PublicPaths: s.publicPaths,
		Logger:      s.logger,
	}))

	orders := s.router.Group("/orders")
	{
		// 注文作成
		orders.POST("", s.handlePlace())
		// 注文一覧取得
		orders.GET("", s.handleList())
		// 注文詳細取得
		orders.GET("/:id", s.handleGet())
		// 注文更新
		orders.PUT("/:id", middleware.RequireRole(caller.RoleAdmin), s.handleUpdate())
		// 注文ステータス変更
		orders.PUT("/:id/status", middleware.RequireRole(caller.RoleAdmin), s.handleUpdateStatus())
		// 注文削除
		orders.DELETE("/:id", s.handleDelete())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "order"})
	})
}

// placeRequest は注文作成リクエストのJSON構造。
// customerIdが含まれていても無視する。
type placeRequest struct {
	// RestaurantID は注文先レストランのID。
	RestaurantID *int64 `json:"restaurantId"`
	// TotalAmount は注文金額。
	TotalAmount *float64 `json:"totalAmount"`
	// PaymentMethod は支払い方法。
	PaymentMethod string `json:"paymentMethod"`
}

// updateRequest は注文更新リクエストのJSON構造。
// customerIdとorderTimeは変更できない。
type updateRequest struct {
	// RestaurantID は注文先レストランのID。
	RestaurantID int64 `json:"restaurantId" binding:"required"`
	// TotalAmount は注文金額。
	TotalAmount float64 `json:"totalAmount"`
	// PaymentMethod は支払い方法。
	PaymentMethod string `json:"paymentMethod" binding:"required"`
	// Status は注文ステータス。空なら変更しない。
	Status string `json:"status"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// parseID はパスパラメータidを数値に変換する。失敗時は400を返してfalseを返す。
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IDが不正です"})
		return 0, false
	}
	return id, true
}

// requireCaller は呼び出し元を取得する。未確立なら401を返してfalseを返す。
func requireCaller(c *gin.Context) (*caller.Caller, bool) {
	cl, ok := middleware.CallerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
		return nil, false
	}
	return cl, true
}

// handlePlace は注文作成を処理するハンドラを返す。
func (s *Server) handlePlace() gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := requireCaller(c)
		if !ok {
			return
		}
		var req placeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
		if req.RestaurantID == nil || req.TotalAmount == nil || method == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "必須項目が不足しています: restaurantId, totalAmount, paymentMethod"})
			return
		}

		o, err := s.orchestrator.PlaceOrder(c.Request.Context(), Order{
			RestaurantID:  *req.RestaurantID,
			TotalAmount:   *req.TotalAmount,
			PaymentMethod: method,
		}, cl)
		switch {
		case errors.Is(err, ErrInvalidRestaurant), errors.Is(err, ErrRestaurantClosed):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			s.logger.Error("注文作成エラー", zap.Int64("customer_id", cl.SubjectID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "注文の作成に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

// handleList は注文一覧を返すハンドラを返す。管理者以外は自分の注文のみ返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := requireCaller(c)
		if !ok {
			return
		}
		var customerID int64
		if !cl.IsAdmin() {
			customerID = cl.SubjectID
		}
		orders, err := s.store.List(c.Request.Context(), customerID)
		if err != nil {
			s.logger.Error("注文一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "注文一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

// handleGet は注文詳細を返すハンドラを返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		o, _, ok := s.loadVisible(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// handleUpdate は注文更新を処理するハンドラを返す。管理者専用。
// 決済結果のステータスと金額は注文処理が確定させるため、顧客には変更させない。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		o, cl, ok := s.loadVisible(c)
		if !ok {
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		from := o.Status
		if req.Status != "" {
			status, known := NormalizeStatus(req.Status)
			if !known {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不明なステータスです: %s", req.Status)})
				return
			}
			o.Status = status
		}
		o.RestaurantID = req.RestaurantID
		o.TotalAmount = req.TotalAmount
		o.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))

		if !s.save(c, o) {
			return
		}
		if o.Status != from {
			s.emitStatusChanged(c.Request.Context(), o.ID, from, o.Status, cl.SubjectID)
		}
		c.JSON(http.StatusOK, o)
	}
}

// handleUpdateStatus は注文ステータス変更を処理するハンドラを返す。
// ステータスはクエリパラメータstatusかJSONの"status"で受け取る。
func (s *Server) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		o, cl, ok := s.loadVisible(c)
		if !ok {
			return
		}
		raw := c.Query("status")
		if raw == "" {
			var req statusRequest
			_ = c.ShouldBindJSON(&req)
			raw = req.Status
		}
		if strings.TrimSpace(raw) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ステータスが指定されていません"})
			return
		}
		status, known := NormalizeStatus(raw)
		if !known {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不明なステータスです: %s", raw)})
			return
		}

		from := o.Status
		o.Status = status
		if !s.save(c, o) {
			return
		}
		if from != status {
			s.emitStatusChanged(c.Request.Context(), o.ID, from, status, cl.SubjectID)
		}
		c.JSON(http.StatusOK, o)
	}
}

// handleDelete は注文削除を処理するハンドラを返す。注文者本人か管理者のみ削除できる。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		o, cl, ok := s.loadVisible(c)
		if !ok {
			return
		}
		err := s.store.Delete(c.Request.Context(), o.ID)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
			return
		}
		if err != nil {
			s.logger.Error("注文削除エラー", zap.Int64("order_id", o.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "注文の削除に失敗しました"})
			return
		}

		s.emit(c.Request.Context(), o.ID, event.TypeOrderDeleted, event.OrderDeletedData{DeletedBy: cl.SubjectID})
		c.Status(http.StatusNoContent)
	}
}

// loadVisible はパスの注文を取得する。
// 存在しないか呼び出し元から見えない注文は404を返してfalseを返す。
func (s *Server) loadVisible(c *gin.Context) (*Order, *caller.Caller, bool) {
	cl, ok := requireCaller(c)
	if !ok {
		return nil, nil, false
	}
	id, ok := parseID(c)
	if !ok {
		return nil, nil, false
	}
	o, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && !cl.IsAdmin() && o.CustomerID != cl.SubjectID) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
		return nil, nil, false
	}
	if err != nil {
		s.logger.Error("注文取得エラー", zap.Int64("order_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "注文の取得に失敗しました"})
		return nil, nil, false
	}
	return o, cl, true
}

// save は注文を更新する。失敗時はレスポンスを書き込んでfalseを返す。
func (s *Server) save(c *gin.Context, o *Order) bool {
	err := s.store.Save(c.Request.Context(), o)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
		return false
	}
	if err != nil {
		s.logger.Error("注文更新エラー", zap.Int64("order_id", o.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "注文の更新に失敗しました"})
		return false
	}
	return true
}

func (s *Server) emitStatusChanged(ctx context.Context, id int64, from, to string, by int64) {
	s.emit(ctx, id, event.TypeOrderStatusChanged, event.OrderStatusChangedData{From: from, To: to, ChangedBy: by})
}

// emit はイベントを送信する。失敗はログに記録するだけ。
func (s *Server) emit(ctx context.Context, id int64, eventType event.Type, data any) {
	e, err := event.New(event.AggregateTypeOrder, id, eventType, data)
	if err != nil {
		s.logger.Error("イベントの生成に失敗しました", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error("イベントの送信に失敗しました", zap.String("event_type", string(e.EventType)), zap.Error(err))
	}
}
