package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/caller"
	"github.com/nao1215/fooddelivery/pkg/token"
)

// callerContextKey はGinコンテキストにCallerを格納するキー。
const callerContextKey = "caller"

// TokenDecoder はトークン文字列を検証してクレームを返す。
// *token.Codec が実装する。
type TokenDecoder interface {
	Decode(tokenString string) (token.Claims, error)
}

// AuthConfig はAuthenticateミドルウェアの設定。
type AuthConfig struct {
	// Decoder はトークンの検証に使うデコーダ。
	Decoder TokenDecoder
	// PublicPaths は認証を省略するパスのパターン一覧。
	PublicPaths []string
	// PathOf はバイパス判定に使うパスを返す。nilの場合はリクエストパスを使う。
	PathOf func(c *gin.Context) string
	// Logger は認証失敗を記録するロガー。
	Logger *zap.Logger
}

// Authenticate はBearerトークンを検証して呼び出し元を確立するGinミドルウェアを返す。
//
// 処理は最初に該当した結果で終了する。
//  1. 公開パスなら何もせず次へ進む
//  2. Authorizationヘッダーが "Bearer <token>" でなければ401
//  3. トークン検証に失敗したら401（想定外の障害は500）
//  4. Callerが未設定の場合のみ設定する（先に設定した側が優先）
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	public := NewPathMatcher(cfg.PublicPaths)
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pathOf := cfg.PathOf
	if pathOf == nil {
		pathOf = func(c *gin.Context) string { return c.Request.URL.Path }
	}

	return func(c *gin.Context) {
		path := pathOf(c)
		if public.Match(path) {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Warn("認証ヘッダーがありません", zap.String("path", path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		raw, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			logger.Warn("Bearerトークン形式が不正です", zap.String("path", path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := cfg.Decoder.Decode(raw)
		if err != nil {
			if token.IsAuthenticationError(err) {
				logger.Warn("トークン検証に失敗しました", zap.String("path", path), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "トークンが無効です",
				})
				return
			}
			logger.Error("トークン処理中に想定外のエラーが発生しました", zap.String("path", path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "内部サーバーエラーが発生しました",
			})
			return
		}

		if _, exists := CallerFrom(c); !exists {
			setCaller(c, caller.FromClaims(claims, raw))
		}
		c.Next()
	}
}

// RequireRole は指定ロールのいずれかを持たない呼び出し元を403で拒否するGinミドルウェアを返す。
// Authenticateの後に適用する必要がある。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := CallerFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証が必要です",
			})
			return
		}
		if !cl.HasAnyAuthority(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// CallerFrom はGinコンテキストから認証済みの呼び出し元を取得する。
func CallerFrom(c *gin.Context) (*caller.Caller, bool) {
	v, ok := c.Get(callerContextKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*caller.Caller)
	return cl, ok && cl != nil
}

// setCaller はGinコンテキストとリクエストのcontextに呼び出し元を設定する。
func setCaller(c *gin.Context, cl *caller.Caller) {
	c.Set(callerContextKey, cl)
	c.Request = c.Request.WithContext(caller.WithCaller(c.Request.Context(), cl))
}

// PathMatcher は認証を省略するパスの判定器。
type PathMatcher struct {
	// exact は完全一致で判定するパス。
	exact map[string]struct{}
	// prefixes は前方一致で判定するパス。
	prefixes []string
}

// NewPathMatcher はパターン一覧からPathMatcherを生成する。
// "/" または "/*" で終わるパターンは前方一致、それ以外は完全一致で判定する。
func NewPathMatcher(patterns []string) *PathMatcher {
	m := &PathMatcher{exact: make(map[string]struct{}, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		switch {
		case strings.HasSuffix(p, "/*"):
			m.prefixes = append(m.prefixes, strings.TrimSuffix(p, "*"))
		case strings.HasSuffix(p, "/"):
			m.prefixes = append(m.prefixes, p)
		default:
			m.exact[p] = struct{}{}
		}
	}
	return m
}

// Match はpathが公開パスに該当するかを返す。
func (m *PathMatcher) Match(path string) bool {
	if _, ok := m.exact[path]; ok {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
