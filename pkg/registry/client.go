package registry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/fooddelivery/pkg/httpclient"
)

// Instance はレジストリに登録されたサービスインスタンス。
type Instance struct {
	// Service はサービス名（例: "restaurant"）。
	Service string `json:"service"`
	// ID はインスタンスの一意識別子。
	ID string `json:"id"`
	// URL はインスタンスのベースURL。
	URL string `json:"url"`
	// RegisteredAt は登録日時。
	RegisteredAt time.Time `json:"registeredAt"`
	// LastHeartbeat は最後にハートビートを受信した日時。
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Client はサービスレジストリのHTTPクライアント。
type Client struct {
	// http はレジストリへのHTTPクライアント。
	http *httpclient.Client
}

// NewClient は新しいレジストリクライアントを生成する。
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{http: httpclient.New(baseURL, httpclient.WithTimeout(timeout))}
}

// Register はインスタンスを登録し、レジストリが記録した内容を返す。
func (c *Client) Register(ctx context.Context, inst Instance) (Instance, error) {
	var registered Instance
	if err := c.http.PostJSON(ctx, "/registry/instances", inst, &registered); err != nil {
		return Instance{}, fmt.Errorf("インスタンス登録に失敗: %w", err)
	}
	return registered, nil
}

// Heartbeat はインスタンスの生存を通知する。
// 失効済みの場合は404のStatusErrorを返す。
func (c *Client) Heartbeat(ctx context.Context, service, id string) error {
	return c.http.PutJSON(ctx, instancePath(service, id)+"/heartbeat", nil, nil)
}

// Deregister はインスタンスの登録を解除する。
func (c *Client) Deregister(ctx context.Context, service, id string) error {
	return c.http.Delete(ctx, instancePath(service, id))
}

// Lookup はサービスの生存中のインスタンス一覧を返す。
func (c *Client) Lookup(ctx context.Context, service string) ([]Instance, error) {
	var instances []Instance
	if err := c.http.GetJSON(ctx, "/registry/services/"+url.PathEscape(service), &instances); err != nil {
		return nil, fmt.Errorf("インスタンス検索に失敗: %w", err)
	}
	return instances, nil
}

// instancePath はインスタンス操作用のパスを返す。
func instancePath(service, id string) string {
	return "/registry/instances/" + url.PathEscape(service) + "/" + url.PathEscape(id)
}
