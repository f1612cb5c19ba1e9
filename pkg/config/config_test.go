package config

import (
	"strings"
	"testing"
	"time"
)

// t.Setenvを使うため、このファイルのテストは並列実行しない。

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PUBLIC_PATHS", "")
	t.Setenv("TOKEN_TTL", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("ADVERTISE_URL", "")
	t.Setenv("ORDER_CALL_TIMEOUT", "")

	cfg, err := Load("order", "8082")
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}

	if cfg.ServiceName != "order" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "order")
	}
	if cfg.Port != "8082" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8082")
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.TokenTTL)
	}
	if cfg.DatabasePath != "/data/order.db" {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, "/data/order.db")
	}
	if got := strings.Join(cfg.PublicPaths, ","); got != strings.Join(DefaultPublicPaths, ",") {
		t.Errorf("PublicPaths = %q, want defaults", got)
	}
	if cfg.AdvertiseURL != "http://localhost:8082" {
		t.Errorf("AdvertiseURL = %q, want %q", cfg.AdvertiseURL, "http://localhost:8082")
	}
	if cfg.OrderCallTimeout != 5*time.Second {
		t.Errorf("OrderCallTimeout = %v, want 5s", cfg.OrderCallTimeout)
	}
	if cfg.JWTSecret != "" {
		t.Errorf("JWTSecret = %q, want empty", cfg.JWTSecret)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_SECRET", "from-env-secret")
	t.Setenv("TOKEN_TTL", "90m")
	t.Setenv("PUBLIC_PATHS", " /auth/login , ,/health")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example,http://b.example")
	t.Setenv("REGISTRY_URL", "http://registry:8761/")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ADVERTISE_URL", "")

	cfg, err := Load("auth", "8081")
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9000")
	}
	if cfg.JWTSecret != "from-env-secret" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.TokenTTL != 90*time.Minute {
		t.Errorf("TokenTTL = %v, want 90m", cfg.TokenTTL)
	}
	if got := strings.Join(cfg.PublicPaths, "|"); got != "/auth/login|/health" {
		t.Errorf("PublicPaths = %q, want %q", got, "/auth/login|/health")
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v, want 2 entries", cfg.AllowedOrigins)
	}
	if cfg.RegistryURL != "http://registry:8761" {
		t.Errorf("RegistryURL = %q, want trailing slash removed", cfg.RegistryURL)
	}
	if cfg.AdvertiseURL != "http://localhost:9000" {
		t.Errorf("AdvertiseURL = %q, want %q", cfg.AdvertiseURL, "http://localhost:9000")
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Redis.DB = %d, want 3", cfg.Redis.DB)
	}
}

func TestLoad_InvalidHeartbeat(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "30s")
	t.Setenv("INSTANCE_TTL", "10s")

	if _, err := Load("registry", "8761"); err == nil {
		t.Error("INSTANCE_TTLがHEARTBEAT_INTERVAL以下の場合はエラーになるべき")
	}
}

func TestLoad_NonPositiveTimeout(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "AUTH_LOOKUP_TIMEOUTが0の場合はエラーになること", key: "AUTH_LOOKUP_TIMEOUT", value: "0s"},
		{name: "HTTP_CLIENT_TIMEOUTが0の場合はエラーになること", key: "HTTP_CLIENT_TIMEOUT", value: "0s"},
		{name: "ORDER_CALL_TIMEOUTが負の場合はエラーになること", key: "ORDER_CALL_TIMEOUT", value: "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load("auth", "8081")
			if err == nil {
				t.Fatal("エラーが返されるべき")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("エラーに%sが含まれていない: %v", tt.key, err)
			}
		})
	}
}
