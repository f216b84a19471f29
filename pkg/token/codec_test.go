package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret はテスト用の署名シークレット。
var testSecret = []byte("test-secret-key-for-unit-tests")

// fakeClock はテストで時刻を進めるための時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()

	codec, err := NewCodec(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewCodec()でエラーが発生: %v", err)
	}
	return codec
}

// TestNewCodec はCodec生成時のシークレット検証をテストする。
func TestNewCodec(t *testing.T) {
	t.Parallel()

	t.Run("短いシークレットを拒否すること", func(t *testing.T) {
		t.Parallel()

		_, err := NewCodec([]byte("short"))
		if !errors.Is(err, ErrSigningKeyUnavailable) {
			t.Errorf("err = %v, want ErrSigningKeyUnavailable", err)
		}
	})

	t.Run("十分な長さのシークレットを受け入れること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewCodec(testSecret); err != nil {
			t.Errorf("NewCodec()でエラーが発生: %v", err)
		}
	})
}

// TestCodecRoundTrip は発行したトークンがそのまま検証できることをテストする。
func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	subjects := []string{"user-1", "alice@example.com", "日本語ユーザー", strings.Repeat("x", 512)}
	ttls := []time.Duration{time.Second, time.Minute, 24 * time.Hour}

	for _, subject := range subjects {
		for _, ttl := range ttls {
			signed, issued, err := codec.Issue(subject, nil, ttl)
			if err != nil {
				t.Fatalf("Issue(%q, %v)でエラーが発生: %v", subject, ttl, err)
			}

			claims, err := codec.Verify(signed)
			if err != nil {
				t.Fatalf("Verify()でエラーが発生: %v", err)
			}
			if claims.Subject != subject {
				t.Errorf("Subject = %q, want %q", claims.Subject, subject)
			}
			if !claims.ExpiresAt.After(claims.IssuedAt) {
				t.Errorf("ExpiresAt(%v)がIssuedAt(%v)より後ではない", claims.ExpiresAt, claims.IssuedAt)
			}
			if !claims.ExpiresAt.Equal(issued.ExpiresAt) {
				t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, issued.ExpiresAt)
			}
			if claims.ID == "" {
				t.Error("jtiが空")
			}
		}
	}
}

// TestCodecMillisecondPrecision はjwtパッケージの設定を変えずにミリ秒精度で発行されることをテストする。
func TestCodecMillisecondPrecision(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	clock.Advance(123*time.Millisecond + 456*time.Microsecond)
	codec := newTestCodec(t, WithClock(clock.Now))

	signed, issued, err := codec.Issue("user-1", nil, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("Issue()でエラーが発生: %v", err)
	}
	if jwt.TimePrecision != time.Second {
		t.Errorf("jwt.TimePrecision = %v, want 1s (変更されていないこと)", jwt.TimePrecision)
	}
	if want := clock.Now().Truncate(time.Millisecond); !issued.IssuedAt.Equal(want) {
		t.Errorf("IssuedAt = %v, want %v", issued.IssuedAt, want)
	}

	claims, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("Verify()でエラーが発生: %v", err)
	}
	if !claims.IssuedAt.Equal(issued.IssuedAt) || !claims.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("往復後の日時 = (%v, %v), want (%v, %v)", claims.IssuedAt, claims.ExpiresAt, issued.IssuedAt, issued.ExpiresAt)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != 250*time.Millisecond {
		t.Errorf("有効期間 = %v, want 250ms", got)
	}

	// 1秒未満の残り時間でも期限を過ぎれば失効扱いになる
	clock.Advance(251 * time.Millisecond)
	if _, err := codec.Verify(signed); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}
}

// TestCodecCustomClaims はカスタムクレームの往復をテストする。
func TestCodecCustomClaims(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	signed, _, err := codec.Issue("user-1", map[string]any{"email": "a@example.com", "role": "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue()でエラーが発生: %v", err)
	}

	claims, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("Verify()でエラーが発生: %v", err)
	}
	if got := claims.String("email"); got != "a@example.com" {
		t.Errorf("email = %q, want %q", got, "a@example.com")
	}
	if got := claims.String("role"); got != "admin" {
		t.Errorf("role = %q, want %q", got, "admin")
	}
	if got := claims.String("missing"); got != "" {
		t.Errorf("missing = %q, want empty", got)
	}
}

// TestCodecVerifyFailures は検証失敗の分類をテストする。
func TestCodecVerifyFailures(t *testing.T) {
	t.Parallel()

	t.Run("TTL 1msのトークンは5ms後にErrExpiredになること", func(t *testing.T) {
		t.Parallel()

		codec := newTestCodec(t)
		signed, _, err := codec.Issue("user-1", nil, time.Millisecond)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		time.Sleep(5 * time.Millisecond)

		if _, err := codec.Verify(signed); !errors.Is(err, ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
	})

	t.Run("時計を進めると有効期限切れになること", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		codec := newTestCodec(t, WithClock(clock.Now))
		signed, _, err := codec.Issue("user-1", nil, time.Minute)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		clock.Advance(59 * time.Second)
		if _, err := codec.Verify(signed); err != nil {
			t.Fatalf("期限内のトークンでエラー: %v", err)
		}
		clock.Advance(2 * time.Second)
		if _, err := codec.Verify(signed); !errors.Is(err, ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
	})

	t.Run("別のシークレットで署名されたトークンはErrInvalidSignatureになること", func(t *testing.T) {
		t.Parallel()

		other, err := NewCodec([]byte("another-secret-key-0123456789"))
		if err != nil {
			t.Fatalf("NewCodec()でエラーが発生: %v", err)
		}
		signed, _, err := other.Issue("user-1", nil, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		if _, err := newTestCodec(t).Verify(signed); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("ペイロードを改ざんしたトークンはErrInvalidSignatureになること", func(t *testing.T) {
		t.Parallel()

		codec := newTestCodec(t)
		signed, _, err := codec.Issue("user-1", nil, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		parts := strings.Split(signed, ".")
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		forged := strings.Replace(string(payload), "user-1", "admin-1", 1)
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

		if _, err := codec.Verify(strings.Join(parts, ".")); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("署名が不正かつ期限切れの場合は署名エラーが優先されること", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		other, err := NewCodec([]byte("another-secret-key-0123456789"), WithClock(clock.Now))
		if err != nil {
			t.Fatalf("NewCodec()でエラーが発生: %v", err)
		}
		signed, _, err := other.Issue("user-1", nil, time.Second)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		clock.Advance(time.Hour)

		codec := newTestCodec(t, WithClock(clock.Now))
		if _, err := codec.Verify(signed); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("alg=noneのトークンはErrInvalidSignatureになること", func(t *testing.T) {
		t.Parallel()

		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("署名なしトークンの生成に失敗: %v", err)
		}

		if _, err := newTestCodec(t).Verify(signed); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("構造が不正なトークンはErrMalformedになること", func(t *testing.T) {
		t.Parallel()

		codec := newTestCodec(t)
		inputs := []string{"", "   ", "abc", "a.b", "a.b.c.d", "!!!.@@@.###"}
		for _, input := range inputs {
			if _, err := codec.Verify(input); !errors.Is(err, ErrMalformed) {
				t.Errorf("Verify(%q) err = %v, want ErrMalformed", input, err)
			}
		}
	})

	t.Run("subjectが空のトークンはErrMalformedになること", func(t *testing.T) {
		t.Parallel()

		codec := newTestCodec(t)
		signed, _, err := codec.Issue("", nil, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		if _, err := codec.Verify(signed); !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want ErrMalformed", err)
		}
	})

	t.Run("issuerが異なるトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		other := newTestCodec(t, WithIssuer("someone-else"))
		signed, _, err := other.Issue("user-1", nil, time.Hour)
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		if _, err := newTestCodec(t).Verify(signed); !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v, want ErrMalformed", err)
		}
	})
}

// TestParseBearer はAuthorizationヘッダーの解析をテストする。
func TestParseBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "Bearer形式", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "小文字のbearer", header: "bearer abc", want: "abc"},
		{name: "前後の空白", header: "  Bearer   abc  ", want: "abc"},
		{name: "Basic形式", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "スキームなし", header: "abc.def.ghi", want: ""},
		{name: "空", header: "", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ParseBearer(tt.header); got != tt.want {
				t.Errorf("ParseBearer(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
