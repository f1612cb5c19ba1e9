package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/config"
	"github.com/nao1215/fooddelivery/pkg/middleware"
	"github.com/nao1215/fooddelivery/pkg/registry"
	"github.com/nao1215/fooddelivery/pkg/serve"
	"github.com/nao1215/fooddelivery/pkg/token"
)

// Route はパスの先頭セグメントと転送先サービスの対応。
type Route struct {
	// Prefix はパスの先頭セグメント（"/"を含まない）。
	Prefix string
	// Service はレジストリ上のサービス名。
	Service string
}

// Routes はゲートウェイのルーティング表。
var Routes = []Route{
	{Prefix: "auth", Service: registry.ServiceAuth},
	{Prefix: "orders", Service: registry.ServiceOrder},
	{Prefix: "restaurant", Service: registry.ServiceRestaurant},
	{Prefix: "payment", Service: registry.ServicePayment},
}

// Resolver はサービス名から転送先のベースURLを解決する。
// *registry.Resolver が実装する。
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// resolver は転送先の解決に使う。
	resolver Resolver
	// client は転送に使うHTTPクライアント。
	client *http.Client
	// decoder はエッジでのトークン検証に使う。
	decoder middleware.TokenDecoder
	// publicPaths は認証を省略するパス。
	publicPaths []string
	// allowedOrigins はCORSで許可するオリジン。
	allowedOrigins []string
	// logger はロガー。
	logger *zap.Logger
	// workers はサーバーと並行して動かすバックグラウンド処理。
	workers []serve.Worker
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	codec, err := token.NewCodec(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("トークンコーデックの初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	resolver, agent := registry.Setup(cfg, logger)
	s := &Server{
		router:         router,
		port:           cfg.Port,
		resolver:       resolver,
		client:         &http.Client{Timeout: cfg.HTTPClientTimeout},
		decoder:        codec,
		publicPaths:    cfg.PublicPaths,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger,
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

// Close は何もしない。他のサービスと同じ形で呼び出せるように用意している。
func (s *Server) Close() error {
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.Use(middleware.CORS(s.allowedOrigins))
	s.router.Use(middleware.Authenticate(middleware.AuthConfig{
		Decoder:     s.decoder,
		PublicPaths: s.publicPaths,
		PathOf:      downstreamPath,
		Logger:      s.logger,
	}))

	for _, r := range Routes {
		// 内部サービスへのプロキシ
		s.router.Any("/"+r.Prefix+"/*path", s.handleProxy(r.Service))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// downstreamPath は先頭セグメントを取り除いた転送先のパスを返す。
// プロキシ以外のルートではリクエストパスをそのまま返す。
func downstreamPath(c *gin.Context) string {
	if p := c.Param("path"); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// handleProxy はserviceにリクエストを転送するハンドラを返す。
func (s *Server) handleProxy(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		baseURL, err := s.resolver.Resolve(c.Request.Context(), service)
		if err != nil {
			s.logger.Error("転送先の解決に失敗しました", zap.String("service", service), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
			return
		}

		url := baseURL + downstreamPath(c)
		if c.Request.URL.RawQuery != "" {
			url += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, service, url)
	}
}

// doProxy はリクエストを内部サービスに転送する共通処理。
// Authorizationヘッダーを転送し、ステータスコード・Content-Type・ボディをそのまま返す。
func (s *Server) doProxy(c *gin.Context, service, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}
	req.ContentLength = c.Request.ContentLength

	// 元のリクエストヘッダーを転送
	for _, h := range []string{"Authorization", "Content-Type", "Accept"} {
		if v := c.GetHeader(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("プロキシエラー", zap.String("service", service), zap.String("url", url), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Error("レスポンスの読み取りに失敗しました", zap.String("service", service), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}
