package gormstore

import (
	"context"
	"encoding/json"
	"fmt"

	"booner/internal/store"
	"booner/internal/types"

	"gorm.io/gorm"
)

func (s *GormStore) AppendDecision(ctx context.Context, rec store.DecisionRecord) error {
	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return err
	}
	trail, err := json.Marshal(rec.Trail)
	if err != nil {
		return err
	}
	contrib, err := json.Marshal(nonNilMap(rec.Contributions))
	if err != nil {
		return fmt.Errorf("encode decision %s contributions: %w", rec.ID, err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	m := decisionModel{
		ID:                    rec.ID,
		Asset:                 types.NormalizeAsset(rec.Asset),
		Strategy:              rec.Strategy,
		Direction:             rec.Direction,
		OriginalScore:         rec.OriginalScore,
		CorrelationMultiplier: rec.CorrelationMultiplier,
		RuleDelta:             rec.RuleDelta,
		FinalScore:            rec.FinalScore,
		Threshold:             rec.Threshold,
		Outcome:               rec.Outcome,
		Approved:              rec.Approved,
		Reasons:               reasons,
		Trail:                 trail,
		Narrative:             rec.Narrative,
		Contributions:         contrib,
		CreatedAtUnix:         created.UnixMilli(),
	}
	return s.write(ctx, "append_decision", func(tx *gorm.DB) error {
		return tx.Create(&m).Error
	})
}

// ListDecisions returns the newest decisions first. An empty asset lists all.
func (s *GormStore) ListDecisions(ctx context.Context, asset string, limit int) ([]store.DecisionRecord, error) {
	q := s.db.WithContext(ctx).Model(&decisionModel{})
	if a := types.NormalizeAsset(asset); a != "" {
		q = q.Where("asset = ?", a)
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []decisionModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.DecisionRecord, 0, len(rows))
	for _, m := range rows {
		rec := store.DecisionRecord{
			ID:                    m.ID,
			Asset:                 m.Asset,
			Strategy:              m.Strategy,
			Direction:             m.Direction,
			OriginalScore:         m.OriginalScore,
			CorrelationMultiplier: m.CorrelationMultiplier,
			RuleDelta:             m.RuleDelta,
			FinalScore:            m.FinalScore,
			Threshold:             m.Threshold,
			Outcome:               m.Outcome,
			Approved:              m.Approved,
			Narrative:             m.Narrative,
			CreatedAt:             millisToTime(m.CreatedAtUnix),
		}
		if err := decodeColumn("decisions", "reasons", m.Reasons, &rec.Reasons); err != nil {
			return nil, err
		}
		if err := decodeColumn("decisions", "trail", m.Trail, &rec.Trail); err != nil {
			return nil, err
		}
		if err := decodeColumn("decisions", "contributions", m.Contributions, &rec.Contributions); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
