// Package config は環境変数からゲートウェイの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/nao1215/marketgate/pkg/ratelimit"
	"github.com/nao1215/marketgate/pkg/token"
)

// 失効ストアのバックエンド。
const (
	RevocationMemory = "memory"
	RevocationRedis  = "redis"
	RevocationSQLite = "sqlite"
)

// Config はゲートウェイの設定。
type Config struct {
	// サーバー
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// トークン
	JWTSecret   string        `env:"JWT_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"15m"`
	TokenIssuer string        `env:"TOKEN_ISSUER" envDefault:"marketgate"`

	// 流量制御。RATE_LIMIT_SUBJECT_HEADERは内側のプロキシが設定するヘッダーにのみ使う
	RateLimitCapacity      int           `env:"RATE_LIMIT_CAPACITY" envDefault:"60"`
	RateLimitRefillTokens  float64       `env:"RATE_LIMIT_REFILL_TOKENS" envDefault:"1"`
	RateLimitRefillPeriod  time.Duration `env:"RATE_LIMIT_REFILL_PERIOD" envDefault:"1s"`
	RateLimitSubjectHeader string        `env:"RATE_LIMIT_SUBJECT_HEADER"`
	RateLimitSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"1m"`

	// 失効ストア
	RevocationBackend       string        `env:"REVOCATION_BACKEND" envDefault:"memory"`
	RedisURL                string        `env:"REDIS_URL"`
	RevocationPurgeInterval time.Duration `env:"REVOCATION_PURGE_INTERVAL" envDefault:"1m"`

	// SQLite（失効ストアと会員テーブルで共有する）
	DatabasePath string `env:"DATABASE_PATH" envDefault:"/data/gateway.db"`

	// 会員サービス。空ならSQLiteの会員テーブルで検証する
	MemberServiceURL     string        `env:"MEMBER_SERVICE_URL"`
	MemberServiceTimeout time.Duration `env:"MEMBER_SERVICE_TIMEOUT" envDefault:"5s"`

	// ルーティングと転送
	RoutesFile           string        `env:"ROUTES_FILE" envDefault:"routes.yaml"`
	UpstreamTimeout      time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	ForwardAuthorization bool          `env:"FORWARD_AUTHORIZATION" envDefault:"false"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// ログ
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load は環境変数から設定を読み込み、検証する。
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom は与えられた環境変数の組から設定を読み込み、検証する。
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

// Defaults は環境変数から設定を読み込むが、検証はしない。
// JWT_SECRETを必要としない運用コマンドがフラグの既定値に使う。
func Defaults() (*Config, error) {
	return read(env.Options{})
}

// DefaultsFrom は与えられた環境変数の組から検証せずに設定を読み込む。
func DefaultsFrom(environ map[string]string) (*Config, error) {
	return read(env.Options{Environment: environ})
}

func read(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	cfg.RevocationBackend = strings.ToLower(strings.TrimSpace(cfg.RevocationBackend))
	cfg.MemberServiceURL = strings.TrimRight(strings.TrimSpace(cfg.MemberServiceURL), "/")
	return cfg, nil
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := read(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。全ての問題をまとめて返す。
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < token.MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRETは%dバイト以上必要です", token.MinSecretLength))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTLは正の値が必要です"))
	}
	if err := c.RateLimit().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.RevocationBackend {
	case RevocationMemory, RevocationSQLite:
	case RevocationRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REVOCATION_BACKEND=redisにはREDIS_URLが必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("未対応のREVOCATION_BACKENDです: %q", c.RevocationBackend))
	}
	if c.MemberServiceURL != "" {
		u, err := url.Parse(c.MemberServiceURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("MEMBER_SERVICE_URLが不正です: %q", c.MemberServiceURL))
		}
	}
	if c.MemberServiceTimeout <= 0 {
		errs = append(errs, errors.New("MEMBER_SERVICE_TIMEOUTは正の値が必要です"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUTは正の値が必要です"))
	}
	if c.RevocationPurgeInterval <= 0 || c.RateLimitSweepInterval <= 0 {
		errs = append(errs, errors.New("バックグラウンド処理の間隔は正の値が必要です"))
	}
	return errors.Join(errs...)
}

// RateLimit は流量制御の設定を返す。
func (c *Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		Capacity:     c.RateLimitCapacity,
		RefillTokens: c.RateLimitRefillTokens,
		RefillPeriod: c.RateLimitRefillPeriod,
	}
}

// UsesSQLite はSQLiteファイルを開く必要があるかを返す。
func (c *Config) UsesSQLite() bool {
	return c.RevocationBackend == RevocationSQLite || c.MemberServiceURL == ""
}
