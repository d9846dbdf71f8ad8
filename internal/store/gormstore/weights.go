package gormstore

import (
	"context"
	"encoding/json"
	"errors"

	"booner/internal/store"
	"booner/internal/types"

	"gorm.io/gorm"
)

func (s *GormStore) GetWeights(ctx context.Context, asset, strategy string) (store.WeightsRecord, bool, error) {
	asset, strategy = types.NormalizeAsset(asset), types.NormalizeStrategy(strategy)
	var m weightsModel
	err := s.db.WithContext(ctx).Where("asset = ? AND strategy = ?", asset, strategy).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.WeightsRecord{}, false, nil
	}
	if err != nil {
		return store.WeightsRecord{}, false, err
	}
	rec, err := weightsModelToRecord(m)
	if err != nil {
		return store.WeightsRecord{}, false, err
	}
	return rec, true, nil
}

// UpsertWeights reads the current row (or a zero record carrying only the key),
// applies mutate and writes the result with a version check.
func (s *GormStore) UpsertWeights(ctx context.Context, asset, strategy string, mutate func(*store.WeightsRecord) error) (store.WeightsRecord, error) {
	asset, strategy = types.NormalizeAsset(asset), types.NormalizeStrategy(strategy)
	var out store.WeightsRecord
	err := s.write(ctx, "upsert_weights", func(tx *gorm.DB) error {
		var cur weightsModel
		found := true
		err := tx.Where("asset = ? AND strategy = ?", asset, strategy).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}
		rec := store.WeightsRecord{Asset: asset, Strategy: strategy}
		if found {
			if rec, err = weightsModelToRecord(cur); err != nil {
				return err
			}
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		rec.Asset, rec.Strategy = asset, strategy
		rec.UpdatedAt = s.now()
		payload, err := json.Marshal(rec.Weights)
		if err != nil {
			return err
		}
		if !found {
			next := weightsModel{
				Asset:         asset,
				Strategy:      strategy,
				Weights:       payload,
				Updates:       rec.Updates,
				Version:       1,
				UpdatedAtUnix: rec.UpdatedAt.UnixMilli(),
			}
			if err := tx.Create(&next).Error; err != nil {
				if isDuplicate(err) {
					return errVersionConflict
				}
				return err
			}
			rec.Version = 1
			out = rec
			return nil
		}
		res := tx.Model(&weightsModel{}).
			Where("id = ? AND version = ?", cur.ID, cur.Version).
			Updates(map[string]interface{}{
				"weights":    payload,
				"updates":    rec.Updates,
				"version":    cur.Version + 1,
				"updated_at": rec.UpdatedAt.UnixMilli(),
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

func (s *GormStore) AppendWeightHistory(ctx context.Context, rec store.WeightHistoryRecord) error {
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return err
	}
	contrib, err := json.Marshal(nonNilMap(rec.Contributions))
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	m := weightHistoryModel{
		Asset:         types.NormalizeAsset(rec.Asset),
		Strategy:      types.NormalizeStrategy(rec.Strategy),
		PositionID:    rec.PositionID,
		Outcome:       rec.Outcome,
		Before:        before,
		After:         after,
		Contributions: contrib,
		CreatedAtUnix: created.UnixMilli(),
	}
	return s.write(ctx, "append_weight_history", func(tx *gorm.DB) error {
		return tx.Create(&m).Error
	})
}

// ListWeightHistory returns the newest entries first.
func (s *GormStore) ListWeightHistory(ctx context.Context, asset, strategy string, limit int) ([]store.WeightHistoryRecord, error) {
	q := s.db.WithContext(ctx).
		Where("asset = ? AND strategy = ?", types.NormalizeAsset(asset), types.NormalizeStrategy(strategy)).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []weightHistoryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.WeightHistoryRecord, 0, len(rows))
	for _, m := range rows {
		rec := store.WeightHistoryRecord{
			ID:         m.ID,
			Asset:      m.Asset,
			Strategy:   m.Strategy,
			PositionID: m.PositionID,
			Outcome:    m.Outcome,
			CreatedAt:  millisToTime(m.CreatedAtUnix),
		}
		if err := decodeColumn("weight_history", "before_weights", m.Before, &rec.Before); err != nil {
			return nil, err
		}
		if err := decodeColumn("weight_history", "after_weights", m.After, &rec.After); err != nil {
			return nil, err
		}
		if err := decodeColumn("weight_history", "contributions", m.Contributions, &rec.Contributions); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func weightsModelToRecord(m weightsModel) (store.WeightsRecord, error) {
	rec := store.WeightsRecord{
		Asset:     m.Asset,
		Strategy:  m.Strategy,
		Updates:   m.Updates,
		Version:   m.Version,
		UpdatedAt: millisToTime(m.UpdatedAtUnix),
	}
	if err := decodeColumn("pillar_weights", "weights", m.Weights, &rec.Weights); err != nil {
		return store.WeightsRecord{}, err
	}
	return rec, nil
}
