package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	reg "github.com/nao1215/fooddelivery/pkg/registry"
)

// ErrInstanceNotFound はインスタンスが登録されていない（または失効した）ことを示す。
var ErrInstanceNotFound = errors.New("インスタンスが見つかりません")

// keyPrefix はインスタンスを格納するRedisキーの接頭辞。
const keyPrefix = "registry:instance:"

// scanCount はSCAN 1回あたりに要求するキー数の目安。
const scanCount = 100

// Store はインスタンス情報の永続化を抽象化する。
type Store interface {
	// Put はインスタンスをttl付きで保存する。既存の登録は上書きする。
	Put(ctx context.Context, inst reg.Instance, ttl time.Duration) (reg.Instance, error)
	// Touch は最終ハートビート日時を更新してttlを延長する。
	Touch(ctx context.Context, service, id string, at time.Time, ttl time.Duration) (reg.Instance, error)
	// Delete はインスタンスを削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, service, id string) error
	// List はサービスの生存中のインスタンスをID順に返す。
	List(ctx context.Context, service string) ([]reg.Instance, error)
	// Services はインスタンスが1つ以上あるサービス名を名前順に返す。
	Services(ctx context.Context) ([]string, error)
}

// RedisStore はRedisを使ったStoreの実装。
// インスタンスごとにJSONを1キーで保持し、キーのTTLで失効させる。
type RedisStore struct {
	// client はRedisクライアント。
	client redis.Cmdable
}

// NewRedisStore は新しいRedisStoreを生成する。
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// instanceKey はインスタンスのRedisキーを返す。
func instanceKey(service, id string) string {
	return keyPrefix + service + ":" + id
}

// Put はインスタンスを保存する。
func (s *RedisStore) Put(ctx context.Context, inst reg.Instance, ttl time.Duration) (reg.Instance, error) {
	data, err := json.Marshal(inst)
	if err != nil {
		return reg.Instance{}, fmt.Errorf("インスタンスのシリアライズに失敗: %w", err)
	}
	if err := s.client.Set(ctx, instanceKey(inst.Service, inst.ID), string(data), ttl).Err(); err != nil {
		return reg.Instance{}, fmt.Errorf("インスタンスの保存に失敗: %w", err)
	}
	return inst, nil
}

// Touch はハートビートを記録する。失効済みのキーは復活させない。
func (s *RedisStore) Touch(ctx context.Context, service, id string, at time.Time, ttl time.Duration) (reg.Instance, error) {
	key := instanceKey(service, id)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return reg.Instance{}, ErrInstanceNotFound
	}
	if err != nil {
		return reg.Instance{}, fmt.Errorf("インスタンスの取得に失敗: %w", err)
	}

	var inst reg.Instance
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return reg.Instance{}, fmt.Errorf("インスタンスのデシリアライズに失敗: %w", err)
	}
	inst.LastHeartbeat = at

	data, err := json.Marshal(inst)
	if err != nil {
		return reg.Instance{}, fmt.Errorf("インスタンスのシリアライズに失敗: %w", err)
	}
	ok, err := s.client.SetXX(ctx, key, string(data), ttl).Result()
	if err != nil {
		return reg.Instance{}, fmt.Errorf("インスタンスの更新に失敗: %w", err)
	}
	if !ok {
		return reg.Instance{}, ErrInstanceNotFound
	}
	return inst, nil
}

// Delete はインスタンスを削除する。
func (s *RedisStore) Delete(ctx context.Context, service, id string) error {
	if err := s.client.Del(ctx, instanceKey(service, id)).Err(); err != nil {
		return fmt.Errorf("インスタンスの削除に失敗: %w", err)
	}
	return nil
}

// List はサービスの生存中のインスタンスを返す。
func (s *RedisStore) List(ctx context.Context, service string) ([]reg.Instance, error) {
	keys, err := s.scanKeys(ctx, keyPrefix+service+":*")
	if err != nil {
		return nil, err
	}
	instances := make([]reg.Instance, 0, len(keys))
	if len(keys) == 0 {
		return instances, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("インスタンスの一括取得に失敗: %w", err)
	}
	for _, v := range values {
		// SCANとMGETの間に失効したキーはnilになる
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var inst reg.Instance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			return nil, fmt.Errorf("インスタンスのデシリアライズに失敗: %w", err)
		}
		instances = append(instances, inst)
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances, nil
}

// Services は登録されているサービス名を返す。
func (s *RedisStore) Services(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, key := range keys {
		service, _, found := strings.Cut(strings.TrimPrefix(key, keyPrefix), ":")
		if !found {
			continue
		}
		if _, dup := seen[service]; dup {
			continue
		}
		seen[service] = struct{}{}
		names = append(names, service)
	}
	sort.Strings(names)
	return names, nil
}

// scanKeys はpatternに一致するキーをSCANで全件列挙する。
func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("キーの走査に失敗: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
