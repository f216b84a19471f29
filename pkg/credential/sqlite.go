package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/marketgate/pkg/migration"
)

//go:embed sql/*.up.sql
var migrations embed.FS

// SQLiteValidator はSQLiteの会員テーブルとbcryptハッシュで資格情報を検証する。
type SQLiteValidator struct {
	db   *sql.DB
	cost int
	// dummyHash は存在しない会員に対しても同じ時間をかけて比較するためのハッシュ。
	dummyHash []byte
}

// SQLiteOption はSQLiteValidatorの設定を変更する関数。
type SQLiteOption func(*SQLiteValidator)

// WithBcryptCost はパスワードハッシュのコストを設定する。
func WithBcryptCost(cost int) SQLiteOption {
	return func(v *SQLiteValidator) {
		v.cost = cost
	}
}

// OpenSQLiteValidator はSQLiteファイルを開き、スキーマを適用してSQLiteValidatorを返す。
func OpenSQLiteValidator(ctx context.Context, dsn string, log zerolog.Logger, opts ...SQLiteOption) (*SQLiteValidator, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)

	v, err := NewSQLiteValidator(ctx, db, log, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return v, nil
}

// NewSQLiteValidator は既存の接続にスキーマを適用してSQLiteValidatorを返す。
func NewSQLiteValidator(ctx context.Context, db *sql.DB, log zerolog.Logger, opts ...SQLiteOption) (*SQLiteValidator, error) {
	if err := migration.Run(ctx, db, migrations, "sql", "member", log); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	v := &SQLiteValidator{db: db, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(v)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), v.cost)
	if err != nil {
		return nil, fmt.Errorf("ダミーハッシュの生成に失敗: %w", err)
	}
	v.dummyHash = dummy
	return v, nil
}

// AddMember は会員を登録する。roleが空ならDefaultRoleを使う。
func (v *SQLiteValidator) AddMember(ctx context.Context, login, email, password, role string) (Member, error) {
	login = strings.TrimSpace(login)
	email = strings.ToLower(strings.TrimSpace(email))
	if login == "" || email == "" || password == "" {
		return Member{}, errors.New("ログインID、メールアドレス、パスワードは必須です")
	}
	if role == "" {
		role = DefaultRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return Member{}, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	m := Member{ID: uuid.NewString(), Email: email, Role: role}
	_, err = v.db.ExecContext(ctx,
		"INSERT INTO members (id, login, email, password_hash, role) VALUES (?, ?, ?, ?, ?)",
		m.ID, login, m.Email, string(hash), m.Role,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Member{}, ErrDuplicateLogin
		}
		return Member{}, fmt.Errorf("会員の登録に失敗: %w", err)
	}
	return m, nil
}

// ValidateCredentials はログインIDまたはメールアドレスとパスワードを検証する。
func (v *SQLiteValidator) ValidateCredentials(ctx context.Context, login, password string) (Member, error) {
	login = strings.TrimSpace(login)
	var (
		m    Member
		hash string
	)
	err := v.db.QueryRowContext(ctx,
		"SELECT id, email, role, password_hash FROM members WHERE login = ? OR email = ? LIMIT 1",
		login, strings.ToLower(login),
	).Scan(&m.ID, &m.Email, &m.Role, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
		return Member{}, ErrInvalidCredentials
	}
	if err != nil {
		return Member{}, fmt.Errorf("会員の取得に失敗: %w", errors.Join(ErrUnavailable, err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Member{}, ErrInvalidCredentials
	}
	return m, nil
}

// Close はデータベース接続を閉じる。
func (v *SQLiteValidator) Close() error {
	return v.db.Close()
}
