package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config はトークンバケットの設定。
type Config struct {
	// Capacity はバケットに貯められるトークンの最大数。
	Capacity int
	// RefillTokens はRefillPeriodごとに補充されるトークン数。
	RefillTokens float64
	// RefillPeriod は補充の単位期間。
	RefillPeriod time.Duration
}

// Validate は設定値を検証する。
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.New("ratelimit: Capacityは1以上である必要があります")
	}
	if c.RefillTokens <= 0 || c.RefillPeriod <= 0 {
		return errors.New("ratelimit: 補充量と補充期間は正の値である必要があります")
	}
	return nil
}

// ratePerSecond は1秒あたりの補充トークン数を返す。
func (c Config) ratePerSecond() float64 {
	return c.RefillTokens / c.RefillPeriod.Seconds()
}

// Decision はAdmitの判定結果。
type Decision struct {
	// Allowed はリクエストを受け付けたかどうか。
	Allowed bool
	// Limit はバケットの容量。
	Limit int
	// Remaining は判定後に残っているトークン数（切り捨て）。
	Remaining int
	// RetryAfter は拒否時に次のトークンが貯まるまでの待ち時間（秒単位に切り上げ）。
	RetryAfter time.Duration
}

// bucket は1クライアント分のトークンバケット。
// evictedはSweepで削除済みであることを示し、mu を保持して読み書きする。
type bucket struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	evicted bool
}

// Limiter はクライアントキーごとのバケットを管理する。
// 異なるキーのバケットは互いにブロックしない。
type Limiter struct {
	cfg     Config
	limit   rate.Limit
	buckets sync.Map // string -> *bucket
	now     func() time.Time
}

// Option はLimiterの設定を変更する。
type Option func(*Limiter)

// WithClock は現在時刻の取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New は新しいLimiterを生成する。
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:   cfg,
		limit: rate.Limit(cfg.ratePerSecond()),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Admit はkeyのバケットからトークンを1つ消費できるかを判定する。
// 経過時間分のトークンを補充してから消費を試み、足りなければ消費せずに拒否する。
func (l *Limiter) Admit(key string) Decision {
	for {
		b := l.bucketFor(key)

		b.mu.Lock()
		if b.evicted {
			// Sweepで削除されたバケットは使わず、作り直したものから消費する
			b.mu.Unlock()
			continue
		}
		// ロック内で時刻を取り、同じバケットに渡す時刻が逆行しないようにする
		now := l.now()
		allowed := b.lim.AllowN(now, 1)
		tokens := b.lim.TokensAt(now)
		b.mu.Unlock()

		if allowed {
			return Decision{
				Allowed:   true,
				Limit:     l.cfg.Capacity,
				Remaining: int(math.Floor(tokens)),
			}
		}
		return Decision{
			Allowed:    false,
			Limit:      l.cfg.Capacity,
			Remaining:  0,
			RetryAfter: l.retryAfter(tokens),
		}
	}
}

// retryAfter はトークンが1つ貯まるまでの時間を秒単位に切り上げて返す。
func (l *Limiter) retryAfter(tokens float64) time.Duration {
	seconds := math.Ceil((1 - tokens) * l.cfg.RefillPeriod.Seconds() / l.cfg.RefillTokens)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// bucketFor はkeyのバケットを返す。初めてのキーには満タンのバケットを作成する。
func (l *Limiter) bucketFor(key string) *bucket {
	if b, ok := l.buckets.Load(key); ok {
		return b.(*bucket)
	}
	b, _ := l.buckets.LoadOrStore(key, &bucket{
		lim: rate.NewLimiter(l.limit, l.cfg.Capacity),
	})
	return b.(*bucket)
}

// Sweep は満タンまで回復しているバケットを削除し、削除数を返す。
// 削除されたキーの次のリクエストでは満タンのバケットが作り直されるため、判定結果は変わらない。
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0

	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if b.lim.TokensAt(now) >= float64(b.lim.Burst()) && l.buckets.CompareAndDelete(key, b) {
			b.evicted = true
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// Len は管理しているバケット数を返す。
func (l *Limiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunSweeper はctxがキャンセルされるまでinterval間隔でSweepを実行する。
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}
