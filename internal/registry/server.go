package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/config"
	"github.com/nao1215/fooddelivery/pkg/middleware"
	reg "github.com/nao1215/fooddelivery/pkg/registry"
	"github.com/nao1215/fooddelivery/pkg/serve"
)

// Server はサービスレジストリのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はインスタンスの保存先。
	store Store
	// ttl はハートビートが途絶えたインスタンスを失効させるまでの時間。
	ttl time.Duration
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。
	now func() time.Time
	// redis はRedisクライアント。Closeで閉じる。
	redis *redis.Client
}

// NewServer は新しいレジストリサーバーを生成する。
// Redisに接続できなくても起動は続け、警告を記録する。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redisに接続できません", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	} else {
		logger.Info("Redisに接続しました", zap.String("addr", cfg.Redis.Addr))
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router: router,
		port:   cfg.Port,
		store:  NewRedisStore(client),
		ttl:    cfg.InstanceTTL,
		logger: logger,
		now:    time.Now,
		redis:  client,
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
	return serve.Run(ctx, srv, s.logger)
}

// Close はRedis接続を閉じる。
func (s *Server) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	r := s.router.Group("/registry")
	{
		// インスタンス登録
		r.POST("/instances", s.handleRegister())
		// ハートビート
		r.PUT("/instances/:service/:id/heartbeat", s.handleHeartbeat())
		// 登録解除
		r.DELETE("/instances/:service/:id", s.handleDeregister())
		// サービス名一覧
		r.GET("/services", s.handleListServices())
		// サービスのインスタンス一覧
		r.GET("/services/:service", s.handleListInstances())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "registry"})
	})
}

// registerRequest はインスタンス登録リクエストのJSON構造。
type registerRequest struct {
	// Service はサービス名。
	Service string `json:"service" binding:"required"`
	// ID はインスタンスID。空ならサーバーで採番する。
	ID string `json:"id"`
	// URL はインスタンスのベースURL。
	URL string `json:"url" binding:"required"`
}

// validName はサービス名やインスタンスIDとして使える文字列かを判定する。
// キーの区切り文字とSCANのパターン文字は使えない。
func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, ":*?[]\\ ")
}

// handleRegister はインスタンス登録を処理するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.ID == "" {
			req.ID = req.Service + "-" + uuid.New().String()
		}
		if !validName(req.Service) || !validName(req.ID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "サービス名またはインスタンスIDに使用できない文字が含まれています"})
			return
		}

		now := s.now().UTC()
		inst, err := s.store.Put(c.Request.Context(), reg.Instance{
			Service:       req.Service,
			ID:            req.ID,
			URL:           strings.TrimRight(req.URL, "/"),
			RegisteredAt:  now,
			LastHeartbeat: now,
		}, s.ttl)
		if err != nil {
			s.logger.Error("インスタンス登録エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "インスタンスの登録に失敗しました"})
			return
		}

		s.logger.Info("インスタンスを登録しました",
			zap.String("service", inst.Service),
			zap.String("instance_id", inst.ID),
			zap.String("url", inst.URL),
		)
		c.JSON(http.StatusCreated, inst)
	}
}

// handleHeartbeat はハートビートを処理するハンドラを返す。
// 失効済みのインスタンスには404を返し、再登録を促す。
func (s *Server) handleHeartbeat() gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, err := s.store.Touch(c.Request.Context(), c.Param("service"), c.Param("id"), s.now().UTC(), s.ttl)
		if errors.Is(err, ErrInstanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "インスタンスが登録されていません"})
			return
		}
		if err != nil {
			s.logger.Error("ハートビート処理エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ハートビートの記録に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, inst)
	}
}

// handleDeregister は登録解除を処理するハンドラを返す。
func (s *Server) handleDeregister() gin.HandlerFunc {
	return func(c *gin.Context) {
		service, id := c.Param("service"), c.Param("id")
		if err := s.store.Delete(c.Request.Context(), service, id); err != nil {
			s.logger.Error("登録解除エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "登録解除に失敗しました"})
			return
		}
		s.logger.Info("インスタンスの登録を解除しました", zap.String("service", service), zap.String("instance_id", id))
		c.Status(http.StatusNoContent)
	}
}

// handleListServices はサービス名一覧を返すハンドラを返す。
func (s *Server) handleListServices() gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := s.store.Services(c.Request.Context())
		if err != nil {
			s.logger.Error("サービス一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サービス一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, names)
	}
}

// handleListInstances はサービスの生存中インスタンス一覧を返すハンドラを返す。
func (s *Server) handleListInstances() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := c.Param("service")
		if !validName(service) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "サービス名が不正です"})
			return
		}
		instances, err := s.store.List(c.Request.Context(), service)
		if err != nil {
			s.logger.Error("インスタンス一覧取得エラー", zap.String("service", service), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "インスタンス一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, instances)
	}
}
