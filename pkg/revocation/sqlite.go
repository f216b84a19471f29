package revocation

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/nao1215/marketgate/pkg/migration"
)

//go:embed sql/*.up.sql
var migrations embed.FS

// SQLiteStore はSQLiteファイルに失効記録を永続化するストア。
// 単一インスタンスで再起動後も失効状態を保持したい場合に使用する。
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore はSQLiteファイルを開き、スキーマを適用してSQLiteStoreを返す。
func OpenSQLiteStore(ctx context.Context, dsn string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが直列化されるため接続は1本で十分
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(ctx, db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore は既存の接続にスキーマを適用してSQLiteStoreを返す。
func NewSQLiteStore(ctx context.Context, db *sql.DB, log zerolog.Logger) (*SQLiteStore, error) {
	if err := migration.Run(ctx, db, migrations, "sql", "revocation", log); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Revoke はkeyの失効記録を保存する。既存の記録は有効期限を更新する。
func (s *SQLiteStore) Revoke(ctx context.Context, key string, ttlRemaining time.Duration) error {
	if ttlRemaining <= 0 {
		return nil
	}
	expiresAt := s.now().Add(ttlRemaining).UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_hash, expires_at) VALUES (?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET expires_at = MAX(expires_at, excluded.expires_at)
	`, key, expiresAt)
	if err != nil {
		return fmt.Errorf("失効記録の保存に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	return nil
}

// IsRevoked はkeyに期限内の記録があるかを返す。
// 削除前の期限切れ記録は条件で除外する。
func (s *SQLiteStore) IsRevoked(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_tokens WHERE token_hash = ? AND expires_at > ?",
		key, s.now().UnixMilli(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("失効記録の参照に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	return true, nil
}

// PurgeExpired は期限切れの記録を削除する。
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE expires_at <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("期限切れ記録の削除に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return int(n), nil
}

// Remove はkeyの記録を削除する。
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE token_hash = ?", key); err != nil {
		return fmt.Errorf("失効記録の削除に失敗: %w", errors.Join(ErrUnavailable, err))
	}
	return nil
}

// Count は保持している記録の件数を返す。期限切れで未削除のものも含む。
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM revoked_tokens").Scan(&n); err != nil {
		return 0, fmt.Errorf("件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
