package gormstore

import (
	"context"
	"errors"
	"time"

	"booner/internal/store"
	"booner/internal/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TryAcquireLock removes an expired lock for key and inserts a fresh one.
// The insert is a no-op when a live lock exists, so the caller holds the
// lock iff exactly one row was written.
func (s *GormStore) TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.write(ctx, "acquire_lock", func(tx *gorm.DB) error {
		now := s.now()
		if err := tx.Where("lock_key = ? AND expires_at <= ?", key, now.UnixMilli()).Delete(&lockModel{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&lockModel{
			LockKey:       key,
			Owner:         owner,
			CreatedAtUnix: now.UnixMilli(),
			ExpiresAtUnix: now.Add(ttl).UnixMilli(),
		})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	return acquired, err
}

func (s *GormStore) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	released := false
	err := s.write(ctx, "release_lock", func(tx *gorm.DB) error {
		res := tx.Where("lock_key = ? AND owner = ?", key, owner).Delete(&lockModel{})
		if res.Error != nil {
			return res.Error
		}
		released = res.RowsAffected > 0
		return nil
	})
	return released, err
}

func (s *GormStore) GetCooldown(ctx context.Context, asset string) (store.CooldownRecord, bool, error) {
	var m cooldownModel
	err := s.db.WithContext(ctx).Where("asset = ?", types.NormalizeAsset(asset)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.CooldownRecord{}, false, nil
	}
	if err != nil {
		return store.CooldownRecord{}, false, err
	}
	return store.CooldownRecord{Asset: m.Asset, LastTradeAt: millisToTime(m.LastTradeUnix), Version: m.Version}, true, nil
}

func (s *GormStore) UpsertCooldown(ctx context.Context, asset string, mutate func(*store.CooldownRecord) error) (store.CooldownRecord, error) {
	asset = types.NormalizeAsset(asset)
	var out store.CooldownRecord
	err := s.write(ctx, "upsert_cooldown", func(tx *gorm.DB) error {
		var cur cooldownModel
		found := true
		err := tx.Where("asset = ?", asset).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}
		rec := store.CooldownRecord{Asset: asset}
		if found {
			rec = store.CooldownRecord{Asset: cur.Asset, LastTradeAt: millisToTime(cur.LastTradeUnix), Version: cur.Version}
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		rec.Asset = asset
		if !found {
			rec.Version = 1
			next := cooldownModel{Asset: asset, LastTradeUnix: timeToMillis(rec.LastTradeAt), Version: 1}
			if err := tx.Create(&next).Error; err != nil {
				if isDuplicate(err) {
					return errVersionConflict
				}
				return err
			}
			out = rec
			return nil
		}
		res := tx.Model(&cooldownModel{}).
			Where("asset = ? AND version = ?", asset, cur.Version).
			Updates(map[string]interface{}{
				"last_trade_at": timeToMillis(rec.LastTradeAt),
				"version":       cur.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}
		rec.Version = cur.Version + 1
		out = rec
		return nil
	})
	return out, err
}
