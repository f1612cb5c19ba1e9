// Package migration は各サービスのSQLiteスキーマをgooseで適用する。
//
// マイグレーションはサービスごとにembed.FSへ埋め込んだgoose形式のSQLファイル
// （000001_description.sql、-- +goose Up / -- +goose Down）で管理する。
// 適用状態はgooseのバージョン管理テーブルに記録される。
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Run はfsysのdir配下にある未適用のマイグレーションをバージョン順に適用する。
// 各マイグレーションはトランザクション内で実行され、失敗したものは記録されない。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションディレクトリを開けません: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("マイグレーションの読み込みに失敗: %w", err)
	}

	results, err := provider.Up(ctx)
	for _, r := range results {
		if r.Error != nil {
			continue
		}
		logger.Info("マイグレーションを適用しました",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("duration", r.Duration),
		)
	}
	if err != nil {
		return fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}
	return nil
}
