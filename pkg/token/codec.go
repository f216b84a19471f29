package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed はトークンの構造が解析できないことを表す。
	ErrMalformed = errors.New("malformed_token")
	// ErrInvalidSignature は署名が一致しないことを表す。
	ErrInvalidSignature = errors.New("invalid_signature")
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("expired_token")
	// ErrSigningKeyUnavailable は署名鍵が利用できないことを表す。
	ErrSigningKeyUnavailable = errors.New("signing_key_unavailable")
)

// timePrecision はiatとexpの精度。1秒未満のTTLでもexp > iatが保たれる。
const timePrecision = time.Millisecond

// MinSecretLength は署名用シークレットの最小バイト数。
const MinSecretLength = 16

// DefaultIssuer はissクレームの既定値。
const DefaultIssuer = "marketgate"

// Claims は検証済みトークンから取り出したクレーム。
type Claims struct {
	// Subject は認証済みユーザーの識別子。
	Subject string
	// ID はトークン固有のID（jti）。
	ID string
	// IssuedAt は発行日時。
	IssuedAt time.Time
	// ExpiresAt は有効期限。
	ExpiresAt time.Time
	// Custom はemailやroleなど任意のクレーム。
	Custom map[string]any
}

// String はカスタムクレームの文字列値を返す。存在しない場合は空文字列。
func (c Claims) String(key string) string {
	v, _ := c.Custom[key].(string)
	return v
}

// TTLRemaining はnow時点での残り有効期間を返す。
func (c Claims) TTLRemaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// numericDate はミリ秒精度で直列化するJWTの日時。
// jwt.NumericDateの精度はパッケージ変数jwt.TimePrecisionで決まるため使わない。
type numericDate struct {
	time.Time
}

func newNumericDate(t time.Time) *numericDate {
	return &numericDate{Time: t.Truncate(timePrecision)}
}

// MarshalJSON は小数点以下を持つ秒数として直列化する。
func (d numericDate) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(d.UnixMilli())/1000, 'f', -1, 64)), nil
}

// UnmarshalJSON は秒数（整数または小数）をミリ秒精度で読み込む。
func (d *numericDate) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	d.Time = time.UnixMilli(int64(math.Round(f * 1000)))
	return nil
}

// jwtClaims はJWTペイロードの表現。jwt.Claimsを実装する。
type jwtClaims struct {
	Subject   string       `json:"sub,omitempty"`
	Issuer    string       `json:"iss,omitempty"`
	ID        string       `json:"jti,omitempty"`
	IssuedAt  *numericDate `json:"iat,omitempty"`
	ExpiresAt *numericDate `json:"exp,omitempty"`
	// Custom は任意のクレーム。登録済みクレームと衝突しないよう入れ子にする。
	Custom map[string]any `json:"ctx,omitempty"`
}

func (c jwtClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return toJWTDate(c.ExpiresAt), nil
}

func (c jwtClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return toJWTDate(c.IssuedAt), nil
}

func (c jwtClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c jwtClaims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c jwtClaims) GetSubject() (string, error) {
	return c.Subject, nil
}

func (c jwtClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}

// toJWTDate は検証用にjwt.NumericDateへ変換する。NewNumericDateは精度を落とすため使わない。
func toJWTDate(d *numericDate) *jwt.NumericDate {
	if d == nil {
		return nil
	}
	return &jwt.NumericDate{Time: d.Time}
}

// Codec はHS256でトークンを署名・検証する。
// 状態を持たないため並行に使用してよい。
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithIssuer はissクレームの値を指定する。
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// WithClock は現在時刻の取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec は署名用シークレットからCodecを生成する。
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("署名用シークレットは%dバイト以上必要です: %w", MinSecretLength, ErrSigningKeyUnavailable)
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue はsubjectとクレームからトークンを発行する。
// 失敗するのは署名鍵が使えない等の内部エラーの場合のみ。
func (c *Codec) Issue(subject string, custom map[string]any, ttl time.Duration) (string, Claims, error) {
	if len(c.secret) == 0 {
		return "", Claims{}, ErrSigningKeyUnavailable
	}

	issuedAt := c.now().Truncate(timePrecision)
	expiresAt := issuedAt.Add(ttl).Truncate(timePrecision)
	if !expiresAt.After(issuedAt) {
		expiresAt = issuedAt.Add(timePrecision)
	}

	payload := jwtClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		ID:        uuid.NewString(),
		IssuedAt:  newNumericDate(issuedAt),
		ExpiresAt: newNumericDate(expiresAt),
		Custom:    copyClaims(custom),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("トークンの署名に失敗: %w", errors.Join(ErrSigningKeyUnavailable, err))
	}

	return signed, Claims{
		Subject:   subject,
		ID:        payload.ID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Custom:    payload.Custom,
	}, nil
}

// Verify はトークンを検証してクレームを返す。
func (c *Codec) Verify(tokenString string) (Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrMalformed
	}

	payload := &jwtClaims{}
	_, err := jwt.ParseWithClaims(tokenString, payload, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Claims{}, classify(err)
	}

	if payload.Subject == "" || payload.IssuedAt == nil {
		return Claims{}, ErrMalformed
	}

	return Claims{
		Subject:   payload.Subject,
		ID:        payload.ID,
		IssuedAt:  payload.IssuedAt.Time,
		ExpiresAt: payload.ExpiresAt.Time,
		Custom:    payload.Custom,
	}, nil
}

// classify はjwtライブラリのエラーを3種類の検証エラーに変換する。
// jwtライブラリは構造、署名、クレームの順に検査するため、返るエラーも同じ順序になる。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// ParseBearer はAuthorizationヘッダーの値からトークン部分を取り出す。
// Bearer形式でない場合は空文字列を返す。
func ParseBearer(authorization string) string {
	scheme, value, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func copyClaims(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
