package registry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Resolver はサービス名から接続先のベースURLを解決する。
// 生存中のインスタンスをラウンドロビンで選び、見つからなければ静的URLを返す。
type Resolver struct {
	// client はレジストリクライアント。nilなら常に静的URLを使う。
	client *Client
	// fallback はサービス名ごとの静的URL。
	fallback map[string]string
	// next はラウンドロビン用のカウンタ。
	next atomic.Uint64
	// logger はロガー。
	logger *zap.Logger
}

// NewResolver は新しいResolverを生成する。
func NewResolver(client *Client, fallback map[string]string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, fallback: fallback, logger: logger}
}

// Resolve はserviceの接続先ベースURLを返す。
func (r *Resolver) Resolve(ctx context.Context, service string) (string, error) {
	if r.client != nil {
		instances, err := r.client.Lookup(ctx, service)
		switch {
		case err != nil:
			r.logger.Warn("レジストリ検索に失敗したため静的URLを使います", zap.String("service", service), zap.Error(err))
		case len(instances) > 0:
			i := r.next.Add(1) - 1
			return instances[i%uint64(len(instances))].URL, nil
		}
	}

	if u, ok := r.fallback[service]; ok && u != "" {
		return u, nil
	}
	return "", fmt.Errorf("サービス %q の接続先が見つかりません", service)
}

// BaseURLFunc はhttpclient.WithBaseURLFuncに渡す解決関数を返す。
func (r *Resolver) BaseURLFunc(service string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return r.Resolve(ctx, service)
	}
}
