package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix はRedisに保存するキーの接頭辞。
const DefaultRedisKeyPrefix = "marketgate:revoked:"

// RedisStore はRedisのキー有効期限で失効記録を管理するストア。
// 複数のゲートウェイインスタンスで失効状態を共有する場合に使用する。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore はredis://形式のURLからRedisStoreを生成し、疎通を確認する。
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("Redis URLの解析に失敗: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", errors.Join(ErrUnavailable, err))
	}

	return NewRedisStoreWithClient(client, DefaultRedisKeyPrefix), nil
}

// NewRedisStoreWithClient は既存のクライアントからRedisStoreを生成する。
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Revoke はkeyをttlRemainingの有効期限付きで保存する。
func (s *RedisStore) Revoke(ctx context.Context, key string, ttlRemaining time.Duration) error {
	if ttlRemaining <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+key, 1, ttlRemaining).Err(); err != nil {
		return fmt.Errorf("失効記録の保存に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	return nil
}

// IsRevoked はkeyが存在するかを返す。期限切れのキーはRedisが削除する。
func (s *RedisStore) IsRevoked(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("失効記録の参照に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	return n > 0, nil
}

// PurgeExpired は何もしない。期限切れのキーはRedis自身が削除する。
func (s *RedisStore) PurgeExpired(_ context.Context) (int, error) {
	return 0, nil
}

// Remove はkeyを削除する。
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("失効記録の削除に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	return nil
}

// TTL はkeyの残り有効期間を返す。記録がない場合は0を返す。
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("失効記録のTTL取得に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Close はRedisクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
