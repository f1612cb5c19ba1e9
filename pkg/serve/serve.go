// Package serve はHTTPサーバーとバックグラウンド処理をまとめて起動し、
// コンテキストのキャンセルで正常終了させる。
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout は正常終了時に処理中のリクエスト完了を待つ最大時間。
const ShutdownTimeout = 10 * time.Second

// Worker はサーバーと並行して動くバックグラウンド処理。
// ctxがキャンセルされたら速やかに戻ること。
type Worker func(ctx context.Context) error

// Run はsrvとworkersを起動し、ctxがキャンセルされるかいずれかが失敗するまで待つ。
// サーバーの正常終了（http.ErrServerClosed）はエラーとして扱わない。
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger, workers ...Worker) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTPサーバーを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()

		logger.Info("HTTPサーバーを停止します")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})

	for _, w := range workers {
		if w == nil {
			continue
		}
		g.Go(func() error {
			return w(gctx)
		})
	}

	return g.Wait()
}
