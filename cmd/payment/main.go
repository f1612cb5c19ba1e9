// 決済サービスのエントリポイント。
// 注文サービスからの決済依頼を処理し、決済記録を管理する。
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/internal/payment"
	"github.com/nao1215/fooddelivery/pkg/config"
	"github.com/nao1215/fooddelivery/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("決済サービスの起動に失敗: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("payment", "8083")
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	server, err := payment.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("サーバーの初期化に失敗: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Error("リソースの解放に失敗しました", zap.Error(err))
		}
	}()

	logger.Info("決済サービスを起動します", zap.String("port", cfg.Port))
	return server.Run(ctx)
}
