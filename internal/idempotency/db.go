package idempotency

import (
	"context"
	"time"

	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBStore keeps keys in the idempotency_keys table. Expired rows are reclaimed
// lazily by the next Remember of the same key, and in bulk by Purge.
type DBStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewDBStore(db *gorm.DB, ttl time.Duration) *DBStore {
	return &DBStore{db: db, ttl: ttl, now: time.Now}
}

func (s *DBStore) Remember(ctx context.Context, key string) (Outcome, error) {
	now := s.now()
	row := models.IdempotencyKey{Key: key, ExpiresAt: now.Add(s.ttl), CreatedAt: now}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return FirstSeen, res.Error
	}
	if res.RowsAffected == 1 {
		return FirstSeen, nil
	}

	// The key exists; it only counts if it has not expired. The conditional
	// update lets one caller reclaim an expired key.
	res = s.db.WithContext(ctx).Model(&models.IdempotencyKey{}).
		Where("idem_key = ? AND expires_at <= ?", key, now).
		Updates(map[string]interface{}{"expires_at": now.Add(s.ttl), "created_at": now})
	if res.Error != nil {
		return FirstSeen, res.Error
	}
	if res.RowsAffected == 1 {
		return FirstSeen, nil
	}
	return AlreadySeen, nil
}

func (s *DBStore) Forget(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("idem_key = ?", key).Delete(&models.IdempotencyKey{}).Error
}

// Purge deletes expired keys and returns how many were removed.
func (s *DBStore) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
