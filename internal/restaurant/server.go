package restaurant

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

// Server はレストランサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はレストランの保存先。
	store Store
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

// NewServer は新しいレストランサーバーを生成する。
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
		publisher:   publisher,
		decoder:     codec,
		publicPaths: cfg.PublicPaths,
		logger:      logger,
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

	restaurants := s.router.Group("/restaurants")
	{
		// レストラン一覧取得
		restaurants.GET("", s.handleList())
		// レストラン詳細取得
		restaurants.GET("/:id", s.handleGet())
		// 注文サービス向けの概要取得
		restaurants.GET("/dto/:id", s.handleGet())
		// レストラン作成
		restaurants.POST("", middleware.RequireRole(caller.RoleAdmin), s.handleCreate())
		// レストラン更新
		restaurants.PUT("/:id", middleware.RequireRole(caller.RoleAdmin, caller.RoleUser), s.handleUpdate())
		// レストラン削除
		restaurants.DELETE("/:id", middleware.RequireRole(caller.RoleAdmin), s.handleDelete())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "restaurant"})
	})
}

// restaurantRequest はレストラン作成・更新リクエストのJSON構造。
type restaurantRequest struct {
	// Name は店名。
	Name string `json:"name" binding:"required"`
	// Location は所在地。
	Location string `json:"location" binding:"required"`
	// Cuisine は料理の種類。
	Cuisine string `json:"cuisine" binding:"required"`
	// Status は営業状態。空ならACTIVE。
	Status string `json:"status"`
}

// toRestaurant はリクエストをRestaurantに変換する。ステータスは大文字に揃える。
func (r restaurantRequest) toRestaurant(id int64) *Restaurant {
	status := strings.ToUpper(strings.TrimSpace(r.Status))
	if status == "" {
		status = StatusActive
	}
	return &Restaurant{
		ID:       id,
		Name:     r.Name,
		Location: r.Location,
		Cuisine:  r.Cuisine,
		Status:   status,
	}
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

// handleList はレストラン一覧を返すハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		restaurants, err := s.store.List(c.Request.Context())
		if err != nil {
			s.logger.Error("レストラン一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レストラン一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, restaurants)
	}
}

// handleGet はレストラン詳細を返すハンドラを返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		r, err := s.store.Get(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
			return
		}
		if err != nil {
			s.logger.Error("レストラン取得エラー", zap.Int64("restaurant_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レストランの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

// handleCreate はレストラン作成を処理するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req restaurantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		r := req.toRestaurant(0)
		if err := s.store.Create(c.Request.Context(), r); err != nil {
			s.logger.Error("レストラン作成エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レストランの作成に失敗しました"})
			return
		}

		s.emitEvent(c.Request.Context(), r.ID, "created", r.Status)
		c.JSON(http.StatusCreated, r)
	}
}

// handleUpdate はレストラン更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req restaurantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		r := req.toRestaurant(id)
		err := s.store.Update(c.Request.Context(), r)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
			return
		}
		if err != nil {
			s.logger.Error("レストラン更新エラー", zap.Int64("restaurant_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レストランの更新に失敗しました"})
			return
		}

		s.emitEvent(c.Request.Context(), r.ID, "updated", r.Status)
		c.JSON(http.StatusOK, r)
	}
}

// handleDelete はレストラン削除を処理するハンドラを返す。
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
			s.logger.Error("レストラン削除エラー", zap.Int64("restaurant_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レストランの削除に失敗しました"})
			return
		}

		s.emitEvent(c.Request.Context(), id, "deleted", "")
		c.Status(http.StatusNoContent)
	}
}

// emitEvent はRestaurantChangedイベントを送信する。失敗はログに記録するだけ。
func (s *Server) emitEvent(ctx context.Context, id int64, action, status string) {
	e, err := event.New(event.AggregateTypeRestaurant, id, event.TypeRestaurantChanged, event.RestaurantChangedData{
		Action: action,
		Status: status,
	})
	if err != nil {
		s.logger.Error("イベントの生成に失敗しました", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error("イベントの送信に失敗しました", zap.String("event_type", string(e.EventType)), zap.Error(err))
	}
}
