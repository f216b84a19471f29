package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/nao1215/marketgate/internal/config"
	"github.com/nao1215/marketgate/pkg/credential"
	"github.com/nao1215/marketgate/pkg/httpclient"
	"github.com/nao1215/marketgate/pkg/revocation"
)

// sqliteDSN はWALとビジータイムアウトを有効にしたDSNを返す。
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// openSQLite はSQLiteファイルを開く。書き込みが直列化されるため接続は1本に制限する。
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// openStore は設定されたバックエンドの失効ストアを開く。
// SQLiteの場合はdbを使う。
func openStore(ctx context.Context, backend, redisURL string, db *sql.DB, log zerolog.Logger) (revocation.Store, error) {
	switch backend {
	case config.RevocationMemory:
		return revocation.NewMemoryStore(), nil
	case config.RevocationRedis:
		return revocation.NewRedisStore(ctx, redisURL)
	case config.RevocationSQLite:
		if db == nil {
			return nil, errors.New("SQLiteの失効ストアにはデータベースが必要です")
		}
		return revocation.NewSQLiteStore(ctx, db, log)
	default:
		return nil, fmt.Errorf("未対応の失効ストアです: %q", backend)
	}
}

// components はserveコマンドが組み立てる永続化まわりのコンポーネント。
type components struct {
	db          *sql.DB
	store       revocation.Store
	credentials credential.Validator
}

// openComponents は設定に従って失効ストアと資格情報検証を組み立てる。
func openComponents(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*components, error) {
	c := &components{}
	if cfg.UsesSQLite() {
		db, err := openSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		c.db = db
	}

	store, err := openStore(ctx, cfg.RevocationBackend, cfg.RedisURL, c.db, log)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.store = store

	if cfg.MemberServiceURL != "" {
		c.credentials = credential.NewHTTPValidator(
			httpclient.New(cfg.MemberServiceURL, httpclient.WithTimeout(cfg.MemberServiceTimeout)),
		)
	} else {
		v, err := credential.NewSQLiteValidator(ctx, c.db, log)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.credentials = v
	}
	return c, nil
}

// Close は開いた接続を全て閉じる。
func (c *components) Close() error {
	var errs []error
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}
