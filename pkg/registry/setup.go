package registry

import (
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/config"
)

// サービス名。レジストリの登録名とゲートウェイのルーティングで共通に使う。
const (
	ServiceAuth       = "auth"
	ServiceOrder      = "order"
	ServicePayment    = "payment"
	ServiceRestaurant = "restaurant"
)

// Setup は設定に応じたResolverとAgentを生成する。
// REGISTRY_URLが未設定の場合、Agentはnilで、Resolverは静的URLのみを使う。
func Setup(cfg *config.Config, logger *zap.Logger) (*Resolver, *Agent) {
	fallback := map[string]string{
		ServiceAuth:       cfg.Services.Auth,
		ServiceOrder:      cfg.Services.Order,
		ServicePayment:    cfg.Services.Payment,
		ServiceRestaurant: cfg.Services.Restaurant,
	}
	if cfg.RegistryURL == "" {
		return NewResolver(nil, fallback, logger), nil
	}

	client := NewClient(cfg.RegistryURL, cfg.HTTPClientTimeout)
	agent := NewAgent(client, cfg.ServiceName, cfg.AdvertiseURL, cfg.HeartbeatInterval, logger)
	return NewResolver(client, fallback, logger), agent
}
