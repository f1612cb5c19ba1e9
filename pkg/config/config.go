// Package config は全サービス共通の実行時設定を読み込む。
//
// .envファイル（存在する場合）を読み込んだ後、環境変数から値を取得する。
// 値が設定されていない項目にはデフォルト値を使う。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultPublicPaths は認証を省略するパスのデフォルト値。
// gatewayと各サービスで同じ一覧を使う。
var DefaultPublicPaths = []string{
	"/auth/register",
	"/auth/login",
	"/health",
	"/swagger/",
	"/v3/api-docs",
	"/v3/api-docs/",
}

// Config はサービスの実行時設定。
type Config struct {
	// ServiceName はサービス名（ログやレジストリ登録に使う）。
	ServiceName string
	// Env は実行環境（development, productionなど）。
	Env string
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// LogLevel はログレベル。
	LogLevel string

	// JWTSecret はトークン署名用の共有秘密鍵。
	JWTSecret string
	// TokenTTL は発行するトークンの有効期間。
	TokenTTL time.Duration
	// PublicPaths は認証を省略するパスのパターン一覧。
	PublicPaths []string
	// BcryptCost はパスワードハッシュのコスト。
	BcryptCost int
	// AuthLookupTimeout は認証情報の検索に許す最大時間。
	AuthLookupTimeout time.Duration

	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string

	// HTTPClientTimeout はサービス間HTTP呼び出しのタイムアウト。
	HTTPClientTimeout time.Duration
	// OrderCallTimeout は注文処理中の外部呼び出し1回あたりのタイムアウト。
	OrderCallTimeout time.Duration
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string

	// RegistryURL はサービスレジストリのURL。空ならレジストリを使わない。
	RegistryURL string
	// AdvertiseURL はレジストリに登録する自サービスのURL。
	AdvertiseURL string
	// HeartbeatInterval はレジストリへのハートビート間隔。
	HeartbeatInterval time.Duration
	// InstanceTTL はハートビートが途絶えたインスタンスを失効させるまでの時間。
	InstanceTTL time.Duration

	// Redis はRedis接続設定。
	Redis RedisConfig
	// AMQP はRabbitMQ接続設定。
	AMQP AMQPConfig
	// Services はレジストリが使えない場合の各サービスのURL。
	Services ServiceURLs
}

// RedisConfig はRedis接続設定。
type RedisConfig struct {
	// Addr は接続先アドレス（host:port）。
	Addr string
	// Password は認証パスワード。
	Password string
	// DB はデータベース番号。
	DB int
}

// AMQPConfig はRabbitMQ接続設定。
type AMQPConfig struct {
	// URL は接続URL。空ならイベントは送信しない。
	URL string
	// Exchange はイベントを送信するトピックExchange名。
	Exchange string
}

// ServiceURLs は各サービスの静的URL。
type ServiceURLs struct {
	// Auth はauthサービスのURL。
	Auth string
	// Order はorderサービスのURL。
	Order string
	// Payment はpaymentサービスのURL。
	Payment string
	// Restaurant はrestaurantサービスのURL。
	Restaurant string
}

// Load はサービスの設定を読み込む。
// defaultPortはPORTが未設定の場合に使うポート番号。
func Load(serviceName, defaultPort string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v, serviceName, defaultPort)

	cfg := &Config{
		ServiceName:       serviceName,
		Env:               v.GetString("APP_ENV"),
		Port:              v.GetString("PORT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		TokenTTL:          v.GetDuration("TOKEN_TTL"),
		PublicPaths:       splitList(v.GetString("PUBLIC_PATHS")),
		BcryptCost:        v.GetInt("BCRYPT_COST"),
		AuthLookupTimeout: v.GetDuration("AUTH_LOOKUP_TIMEOUT"),
		DatabasePath:      v.GetString("DATABASE_PATH"),
		HTTPClientTimeout: v.GetDuration("HTTP_CLIENT_TIMEOUT"),
		OrderCallTimeout:  v.GetDuration("ORDER_CALL_TIMEOUT"),
		AllowedOrigins:    splitList(v.GetString("ALLOWED_ORIGINS")),
		RegistryURL:       strings.TrimRight(v.GetString("REGISTRY_URL"), "/"),
		AdvertiseURL:      strings.TrimRight(v.GetString("ADVERTISE_URL"), "/"),
		HeartbeatInterval: v.GetDuration("HEARTBEAT_INTERVAL"),
		InstanceTTL:       v.GetDuration("INSTANCE_TTL"),
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("AMQP_URL"),
			Exchange: v.GetString("AMQP_EXCHANGE"),
		},
		Services: ServiceURLs{
			Auth:       v.GetString("AUTH_URL"),
			Order:      v.GetString("ORDER_URL"),
			Payment:    v.GetString("PAYMENT_URL"),
			Restaurant: v.GetString("RESTAURANT_URL"),
		},
	}

	if cfg.AdvertiseURL == "" {
		cfg.AdvertiseURL = "http://localhost:" + cfg.Port
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults はデフォルト値を設定する。
func setDefaults(v *viper.Viper, serviceName, defaultPort string) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TOKEN_TTL", time.Hour)
	v.SetDefault("PUBLIC_PATHS", strings.Join(DefaultPublicPaths, ","))
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("AUTH_LOOKUP_TIMEOUT", 5*time.Second)
	v.SetDefault("DATABASE_PATH", fmt.Sprintf("/data/%s.db", serviceName))
	v.SetDefault("HTTP_CLIENT_TIMEOUT", 10*time.Second)
	v.SetDefault("ORDER_CALL_TIMEOUT", 5*time.Second)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("HEARTBEAT_INTERVAL", 10*time.Second)
	v.SetDefault("INSTANCE_TTL", 30*time.Second)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("AMQP_EXCHANGE", "fooddelivery.events")
	v.SetDefault("AUTH_URL", "http://localhost:8081")
	v.SetDefault("ORDER_URL", "http://localhost:8082")
	v.SetDefault("PAYMENT_URL", "http://localhost:8083")
	v.SetDefault("RESTAURANT_URL", "http://localhost:8084")
}

// validate は値の整合性を検証する。
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORTが空です")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTLは正の値である必要があります: %v", c.TokenTTL)
	}
	for name, d := range map[string]time.Duration{
		"AUTH_LOOKUP_TIMEOUT": c.AuthLookupTimeout,
		"HTTP_CLIENT_TIMEOUT": c.HTTPClientTimeout,
		"ORDER_CALL_TIMEOUT":  c.OrderCallTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%sは正の値である必要があります: %v", name, d)
		}
	}
	if c.HeartbeatInterval <= 0 || c.InstanceTTL <= c.HeartbeatInterval {
		return fmt.Errorf("INSTANCE_TTL(%v)はHEARTBEAT_INTERVAL(%v)より長い必要があります", c.InstanceTTL, c.HeartbeatInterval)
	}
	return nil
}

// splitList はカンマ区切りの文字列を分割し、空要素を除いて返す。
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
