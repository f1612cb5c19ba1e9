package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/config"
	"github.com/nao1215/fooddelivery/pkg/messaging"
	"github.com/nao1215/fooddelivery/pkg/middleware"
	"github.com/nao1215/fooddelivery/pkg/migration"
	"github.com/nao1215/fooddelivery/pkg/registry"
	"github.com/nao1215/fooddelivery/pkg/serve"
	"github.com/nao1215/fooddelivery/pkg/sqlitedb"
	"github.com/nao1215/fooddelivery/pkg/token"
)

// Server は認証サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// issuer はログインと登録を行う。
	issuer *Issuer
	// store は認証情報の保存先。
	store CredentialStore
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

// NewServer は新しい認証サーバーを生成する。
// 秘密鍵が弱い場合は起動に失敗する。
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

	store := NewSQLStore(db)
	issuer := NewIssuer(store, NewBcryptHasher(cfg.BcryptCost), codec, publisher, IssuerConfig{
		TTL:           cfg.TokenTTL,
		LookupTimeout: cfg.AuthLookupTimeout,
	}, logger)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:      router,
		port:        cfg.Port,
		issuer:      issuer,
		store:       store,
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

	auth := s.router.Group("/auth")
	{
		// ユーザー登録
		auth.POST("/register", s.handleRegister())
		// ログイン
		auth.POST("/login", s.handleLogin())
		// 認証済みユーザーの情報
		auth.GET("/me", s.handleMe())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "auth"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Name はユーザーの表示名。
	Name string `json:"name" binding:"required"`
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
	// Role は要求するロール。無視される。
	Role string `json:"role"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
}

// userResponse はユーザーのJSONレスポンス構造。パスワードハッシュは含めない。
type userResponse struct {
	// ID はユーザーID。
	ID int64 `json:"id"`
	// Name は表示名。
	Name string `json:"name"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// Role はロール。
	Role string `json:"role"`
}

// toUserResponse はUserをJSONレスポンスに変換する。
func toUserResponse(u *User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// handleRegister はユーザー登録を処理するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		u, err := s.issuer.Register(c.Request.Context(), RegisterInput{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Role:     req.Role,
		})
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrDuplicateEmail.Error()})
			return
		case errors.Is(err, ErrMissingField):
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrMissingField.Error()})
			return
		case err != nil:
			s.logger.Error("ユーザー登録エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, toUserResponse(u))
	}
}

// handleLogin はログインを処理するハンドラを返す。
// 成功時はトークン文字列をそのまま本文として返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		tok, err := s.issuer.Login(c.Request.Context(), req.Email, req.Password)
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidCredentials.Error()})
			return
		}
		if err != nil {
			s.logger.Error("ログイン処理エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログイン処理に失敗しました"})
			return
		}

		c.String(http.StatusOK, tok)
	}
}

// handleMe は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := middleware.CallerFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
			return
		}

		u, err := s.store.FindByID(c.Request.Context(), cl.SubjectID)
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrUserNotFound.Error()})
			return
		}
		if err != nil {
			s.logger.Error("ユーザー取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user":        toUserResponse(u),
			"authorities": cl.Authorities,
		})
	}
}
