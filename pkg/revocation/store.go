package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrUnavailable は失効ストアに到達できないことを表す。
var ErrUnavailable = errors.New("revocation_store_unavailable")

// Store は失効したトークンを記録するストア。
type Store interface {
	// Revoke はkeyを残り有効期間ttlRemainingの間だけ失効扱いにする。
	// ttlRemainingが0以下の場合は何もしない。
	Revoke(ctx context.Context, key string, ttlRemaining time.Duration) error
	// IsRevoked はkeyに期限内の失効記録があるかを返す。
	IsRevoked(ctx context.Context, key string) (bool, error)
	// PurgeExpired は期限切れの記録を削除し、削除件数を返す。
	PurgeExpired(ctx context.Context) (int, error)
	// Remove はkeyの記録を明示的に削除する。運用ツールとテストで使用する。
	Remove(ctx context.Context, key string) error
	// Close はストアが保持する接続を解放する。
	Close() error
}

// Key はトークン文字列から失効ストアのキーを計算する。
func Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
