package payment

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
	"github.com/nao1215/fooddelivery/pkg/messaging"
	"github.com/nao1215/fooddelivery/pkg/middleware"
	"github.com/nao1215/fooddelivery/pkg/migration"
	"github.com/nao1215/fooddelivery/pkg/registry"
	"github.com/nao1215/fooddelivery/pkg/serve"
	"github.com/nao1215/fooddelivery/pkg/sqlitedb"
	"github.com/nao1215/fooddelivery/pkg/token"
)

// Server は決済サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は決済記録の保存先。
	store Store
	// processor は決済処理の実行先。
	processor Processor
	// publisher はドメインイベントの送信先。
	publisher messaging.Publisher
	// decoder はAuthGateでのトークン検証に使う。
	decoder middleware.TokenDecoder
	// publicPaths は認証を省略するパス。
	publicPaths []string
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
	// workers はサーバーと並行して動かすバックグラウンド処理。
	workers []serve.Worker
	// closers は終了時に閉じるリソース。
	closers []func() error
}

// NewServer は新しい決済サーバーを生成する。
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

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:      router,
		port:        cfg.Port,
		store:       NewSQLStore(db),
		processor:   NewSimulatedProcessor(),
		publisher:   publisher,
		decoder:     codec,
		publicPaths: cfg.PublicPaths,
		logger:      logger,
		now:         time.Now,
		closers:     []func() error{publisher.Close, db.Close},
	}
	if _, agent := registry.Setup(cfg, logger); agent != nil {
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

	payments := s.router.Group("/payments")
	{
		// 決済処理
		payments.POST("", s.handleProcess())
		// 決済一覧取得
		payments.GET("", s.handleList())
		// 決済詳細取得
		payments.GET("/:id", s.handleGet())
		// 決済更新
		payments.PUT("/:id", middleware.RequireRole(caller.RoleAdmin), s.handleUpdate())
		// 決済ステータス変更
		payments.PATCH("/:id/status", middleware.RequireRole(caller.RoleAdmin), s.handleUpdateStatus())
		// 決済削除
		payments.DELETE("/:id", middleware.RequireRole(caller.RoleAdmin), s.handleDelete())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment"})
	})
}

// Response は決済処理の結果レスポンス。
type Response struct {
	// PaymentID は保存した決済記録のID。
	PaymentID int64 `json:"paymentId"`
	// OrderID は対象の注文ID。
	OrderID int64 `json:"orderId"`
	// Amount は決済金額。
	Amount float64 `json:"amount"`
	// Status は決済結果（SUCCESS / FAILED）。
	Status string `json:"status"`
	// TransactionID は取引ID。拒否時は空。
	TransactionID string `json:"transactionId"`
	// Message は結果の説明。
	Message string `json:"message"`
}

// updateRequest は決済更新リクエストのJSON構造。
type updateRequest struct {
	// OrderID は対象の注文ID。
	OrderID int64 `json:"orderId" binding:"required"`
	// Amount は決済金額。
	Amount float64 `json:"amount"`
	// PaymentMethod は決済手段。
	PaymentMethod string `json:"paymentMethod" binding:"required"`
	// Status は決済ステータス。空なら変更しない。
	Status string `json:"status"`
}

// statusRequest はステータス変更リクエストのJSON構造。
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

// handleProcess は決済処理を実行して結果を記録するハンドラを返す。
// 承認は201、拒否は402、処理の失敗は500で応答する。
func (s *Server) handleProcess() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))

		ctx := c.Request.Context()
		result, err := s.processor.Process(ctx, req)
		if err != nil {
			s.logger.Error("決済処理エラー", zap.Int64("order_id", req.OrderID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "決済処理に失敗しました"})
			return
		}

		p := &Payment{
			OrderID:       req.OrderID,
			Amount:        req.Amount,
			PaymentMethod: req.PaymentMethod,
			PaymentDate:   s.now().UTC(),
			Status:        StatusFailed,
			TransactionID: result.TransactionID,
		}
		if result.Approved {
			p.Status = StatusSuccess
		}
		if err := s.store.Create(ctx, p); err != nil {
			s.logger.Error("決済記録の保存エラー", zap.Int64("order_id", req.OrderID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "決済の記録に失敗しました"})
			return
		}

		s.logger.Info("決済を処理しました",
			zap.Int64("payment_id", p.ID),
			zap.Int64("order_id", p.OrderID),
			zap.String("status", p.Status),
		)
		s.emitEvent(ctx, p)

		resp := Response{
			PaymentID:     p.ID,
			OrderID:       p.OrderID,
			Amount:        p.Amount,
			Status:        p.Status,
			TransactionID: p.TransactionID,
			Message:       result.Message,
		}
		if !result.Approved {
			c.JSON(http.StatusPaymentRequired, resp)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// handleList は決済一覧を返すハンドラを返す。orderIdクエリで絞り込める。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var orderID int64
		if raw := c.Query("orderId"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "orderIdが不正です"})
				return
			}
			orderID = id
		}

		payments, err := s.store.List(c.Request.Context(), orderID)
		if err != nil {
			s.logger.Error("決済一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "決済一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, payments)
	}
}

// handleGet は決済詳細を返すハンドラを返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		p, err := s.store.Get(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
			return
		}
		if err != nil {
			s.logger.Error("決済取得エラー", zap.Int64("payment_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "決済の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// handleUpdate は決済記録の更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		p, ok := s.load(c, id)
		if !ok {
			return
		}
		p.OrderID = req.OrderID
		p.Amount = req.Amount
		p.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
		if status := strings.ToUpper(strings.TrimSpace(req.Status)); status != "" {
			p.Status = status
		}
		s.save(c, p)
	}
}

// handleUpdateStatus は決済ステータスの変更を処理するハンドラを返す。
// ステータスはJSONの"status"かクエリパラメータstatusで受け取る。
func (s *Server) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		status := c.Query("status")
		if status == "" {
			var req statusRequest
			_ = c.ShouldBindJSON(&req)
			status = req.Status
		}
		status = strings.ToUpper(strings.TrimSpace(status))
		if status == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ステータスが指定されていません"})
			return
		}

		p, ok := s.load(c, id)
		if !ok {
			return
		}
		p.Status = status
		s.save(c, p)
	}
}

// handleDelete は決済記録の削除を処理するハンドラを返す。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		err := s.store.Delete(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
			return
		}
		if err != nil {
			s.logger.Error("決済削除エラー", zap.Int64("payment_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "決済の削除に失敗しました"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// load は決済記録を取得する。失敗時はレスポンスを書き込んでfalseを返す。
func (s *Server) load(c *gin.Context, id int64) (*Payment, bool) {
	p, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
		return nil, false
	}
	if err != nil {
		s.logger.Error("決済取得エラー", zap.Int64("payment_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "決済の取得に失敗しました"})
		return nil, false
	}
	return p, true
}

// save は決済記録を更新して200で返す。
func (s *Server) save(c *gin.Context, p *Payment) {
	err := s.store.Update(c.Request.Context(), p)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
		return
	}
	if err != nil {
		s.logger.Error("決済更新エラー", zap.Int64("payment_id", p.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "決済の更新に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// emitEvent はPaymentProcessedイベントを送信する。失敗はログに記録するだけ。
func (s *Server) emitEvent(ctx context.Context, p *Payment) {
	e, err := event.New(event.AggregateTypePayment, p.ID, event.TypePaymentProcessed, event.PaymentProcessedData{
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Status:        p.Status,
		TransactionID: p.TransactionID,
	})
	if err != nil {
		s.logger.Error("イベントの生成に失敗しました", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error("イベントの送信に失敗しました", zap.String("event_type", string(e.EventType)), zap.Error(err))
	}
}
