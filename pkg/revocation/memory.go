package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内のマップで失効記録を保持するストア。
// 単一インスタンスでの運用とテストで使用する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock は時刻取得関数を指定してMemoryStoreを生成する。
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Revoke はkeyを失効扱いにする。
func (s *MemoryStore) Revoke(_ context.Context, key string, ttlRemaining time.Duration) error {
	if ttlRemaining <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttlRemaining)
	if current, ok := s.entries[key]; ok && current.After(expiresAt) {
		return nil
	}
	s.entries[key] = expiresAt
	return nil
}

// IsRevoked はkeyが失効しているかを返す。
// 期限切れの記録を見つけた場合はその場で削除する。
func (s *MemoryStore) IsRevoked(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !expiresAt.After(s.now()) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

// PurgeExpired は期限切れの記録を削除する。
func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for key, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}

// Remove はkeyの記録を削除する。
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len は保持している記録の件数を返す。期限切れで未削除のものも含む。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Close は何もしない。
func (s *MemoryStore) Close() error {
	return nil
}
