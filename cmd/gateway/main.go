// API Gatewayサービスのエントリポイント。
// 外部からアクセス可能な唯一のサービスであり、トークンを検証して内部サービスに転送する。
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/internal/gateway"
	"github.com/nao1215/fooddelivery/pkg/config"
	"github.com/nao1215/fooddelivery/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("API Gatewayサービスの起動に失敗: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("gateway", "8080")
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	server, err := gateway.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("サーバーの初期化に失敗: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("リソースの解放に失敗しました", zap.Error(err))
		}
	}()

	logger.Info("API Gatewayサービスを起動します", zap.String("port", cfg.Port))
	return server.Run(ctx)
}
