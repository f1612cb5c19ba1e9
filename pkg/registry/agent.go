package registry

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/fooddelivery/pkg/httpclient"
)

// Agent は自サービスをレジストリに登録し、ハートビートを送り続けるバックグラウンド処理。
type Agent struct {
	// client はレジストリクライアント。
	client *Client
	// instance は登録するインスタンス情報。
	instance Instance
	// interval はハートビート間隔。
	interval time.Duration
	// logger はロガー。
	logger *zap.Logger
}

// NewAgent は新しいAgentを生成する。インスタンスIDは起動ごとに採番する。
func NewAgent(client *Client, service, advertiseURL string, interval time.Duration, logger *zap.Logger) *Agent {
	return &Agent{
		client: client,
		instance: Instance{
			Service: service,
			ID:      service + "-" + uuid.New().String(),
			URL:     advertiseURL,
		},
		interval: interval,
		logger:   logger,
	}
}

// Run は登録とハートビートをctxがキャンセルされるまで続け、終了時に登録を解除する。
// レジストリに到達できなくてもエラーにはせず、次の周期で再試行する。
func (a *Agent) Run(ctx context.Context) error {
	registered := a.register(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if registered {
				a.deregister()
			}
			return nil
		case <-ticker.C:
			if !registered {
				registered = a.register(ctx)
				continue
			}
			registered = a.heartbeat(ctx)
		}
	}
}

// register はインスタンスを登録する。成功したらtrueを返す。
func (a *Agent) register(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, a.interval)
	defer cancel()

	if _, err := a.client.Register(callCtx, a.instance); err != nil {
		a.logger.Warn("レジストリへの登録に失敗しました", zap.String("instance_id", a.instance.ID), zap.Error(err))
		return false
	}
	a.logger.Info("レジストリに登録しました", zap.String("instance_id", a.instance.ID), zap.String("url", a.instance.URL))
	return true
}

// heartbeat はハートビートを送る。失効していた場合は再登録する。
func (a *Agent) heartbeat(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, a.interval)
	defer cancel()

	err := a.client.Heartbeat(callCtx, a.instance.Service, a.instance.ID)
	if err == nil {
		return true
	}
	if code, ok := httpclient.StatusCode(err); ok && code == http.StatusNotFound {
		a.logger.Info("登録が失効していたため再登録します", zap.String("instance_id", a.instance.ID))
		return a.register(ctx)
	}
	a.logger.Warn("ハートビートの送信に失敗しました", zap.String("instance_id", a.instance.ID), zap.Error(err))
	return true
}

// deregister は登録を解除する。呼び出し元のctxは既にキャンセルされているため独自の期限を使う。
func (a *Agent) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), a.interval)
	defer cancel()

	if err := a.client.Deregister(ctx, a.instance.Service, a.instance.ID); err != nil {
		a.logger.Warn("レジストリからの登録解除に失敗しました", zap.String("instance_id", a.instance.ID), zap.Error(err))
		return
	}
	a.logger.Info("レジストリから登録を解除しました", zap.String("instance_id", a.instance.ID))
}
