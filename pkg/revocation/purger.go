package revocation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Purger はストアの期限切れ記録を定期的に削除するバックグラウンド処理。
type Purger struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger
}

// NewPurger は新しいPurgerを生成する。
func NewPurger(store Store, interval time.Duration, log zerolog.Logger) *Purger {
	return &Purger{
		store:    store,
		interval: interval,
		log:      log.With().Str("component", "revocation-purger").Logger(),
	}
}

// Run はctxがキャンセルされるまでinterval間隔で期限切れ記録を削除する。
// 削除の失敗はログに出力して次の周期で再試行する。
func (p *Purger) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.store.PurgeExpired(ctx)
			if err != nil {
				p.log.Warn().Err(err).Msg("期限切れ失効記録の削除に失敗")
				continue
			}
			if n > 0 {
				p.log.Debug().Int("purged", n).Msg("期限切れ失効記録を削除しました")
			}
		}
	}
}
