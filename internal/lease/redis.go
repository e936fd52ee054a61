// Package lease はRedisを使用したプロセス間の排他ロックを提供する。
// 複数のAPIプロセスやワーカーが同じ記事の音声を同時に合成しないようにする。
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultRetryInterval はロック取得を再試行する間隔。
const defaultRetryInterval = 100 * time.Millisecond

// ErrNotAcquired はTTLの間待機してもロックを取得できなかった場合に返す。
var ErrNotAcquired = errors.New("lease not acquired")

// releaseScript は自分が保持しているロックだけを削除する。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker はSET NX PXによるリース型のロック。
// 保持者が異常終了してもTTL経過後にロックは自動的に解放される。
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewRedisLocker はRedisLockerの新しいインスタンスを生成する。
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		logger:        logger,
	}
}

// NewRedisLockerWithURL はRedis URLからクライアントを生成してRedisLockerを返す。
func NewRedisLockerWithURL(url string, ttl time.Duration, logger *slog.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLのパースに失敗しました: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opts), ttl, logger), nil
}

// Acquire はkeyのロックを取得し、解放関数を返す。
// 他の保持者がいる場合は解放されるまで再試行する。最大でTTLの間待機する。
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.ttl)

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("ロックの取得に失敗しました: %s: %w", key, err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release は自分のトークンと一致する場合のみロックを削除する。
// 呼び出し元のキャンセル後でも確実に解放するため、独立したコンテキストを使用する。
func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("ロックの解放に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Ping はRedisへの疎通を確認する。
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
