package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"booner/internal/store"
	"booner/internal/types"

	"gorm.io/gorm"
)

func (s *GormStore) SavePosition(ctx context.Context, pos types.Position) error {
	if strings.TrimSpace(pos.ID) == "" {
		return fmt.Errorf("position id is required")
	}
	pos.Asset = types.NormalizeAsset(pos.Asset)
	pos.Strategy = types.NormalizeStrategy(pos.Strategy)
	if pos.Status == "" {
		pos.Status = types.PositionOpen
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = s.now()
	}
	m, err := newPositionModel(pos)
	if err != nil {
		return err
	}
	m.Version = 1
	m.UpdatedAtUnix = s.now().UnixMilli()
	return s.write(ctx, "save_position", func(tx *gorm.DB) error {
		return tx.Create(&m).Error
	})
}

func (s *GormStore) GetPosition(ctx context.Context, id string) (types.Position, bool, error) {
	var m positionModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Position{}, false, nil
	}
	if err != nil {
		return types.Position{}, false, err
	}
	pos, err := positionModelToRecord(m)
	if err != nil {
		return types.Position{}, false, err
	}
	return pos, true, nil
}

func (s *GormStore) ListPositions(ctx context.Context, filter store.PositionFilter) ([]types.Position, error) {
	q := s.db.WithContext(ctx).Model(&positionModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if asset := types.NormalizeAsset(filter.Asset); asset != "" {
		q = q.Where("asset = ?", asset)
	}
	if strat := strings.TrimSpace(filter.Strategy); strat != "" {
		q = q.Where("strategy = ?", types.NormalizeStrategy(strat))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []positionModel
	if err := q.Order("opened_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for _, m := range rows {
		pos, err := positionModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

func (s *GormStore) UpdatePosition(ctx context.Context, id string, mutate func(*types.Position) error) (types.Position, error) {
	var out types.Position
	err := s.write(ctx, "update_position", func(tx *gorm.DB) error {
		var cur positionModel
		err := tx.Where("id = ?", id).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("position %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		before, err := positionModelToRecord(cur)
		if err != nil {
			return err
		}
		next := before
		next.Contributions = cloneFloatMap(before.Contributions)
		if err := mutate(&next); err != nil {
			return err
		}
		if err := checkImmutable(before, next); err != nil {
			return err
		}
		m, err := newPositionModel(next)
		if err != nil {
			return err
		}
		m.Version = cur.Version + 1
		m.UpdatedAtUnix = s.now().UnixMilli()
		res := tx.Model(&positionModel{}).
			Where("id = ? AND version = ?", cur.ID, cur.Version).
			Select("*").
			Updates(&m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}
		updated, err := positionModelToRecord(m)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

func (s *GormStore) CountClosedTrades(ctx context.Context, asset, strategy string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("asset = ? AND strategy = ? AND status = ?",
			types.NormalizeAsset(asset), types.NormalizeStrategy(strategy), string(types.PositionClosed)).
		Count(&n).Error
	return int(n), err
}

func checkImmutable(before, after types.Position) error {
	switch {
	case after.ID != before.ID:
		return fmt.Errorf("%w: id", store.ErrImmutableField)
	case after.Asset != before.Asset:
		return fmt.Errorf("%w: asset", store.ErrImmutableField)
	case after.Direction != before.Direction:
		return fmt.Errorf("%w: direction", store.ErrImmutableField)
	case after.EntryPrice != before.EntryPrice:
		return fmt.Errorf("%w: entry_price", store.ErrImmutableField)
	case after.Strategy != before.Strategy:
		return fmt.Errorf("%w: strategy", store.ErrImmutableField)
	}
	return nil
}

func newPositionModel(p types.Position) (positionModel, error) {
	contrib, err := json.Marshal(nonNilMap(p.Contributions))
	if err != nil {
		return positionModel{}, err
	}
	m := positionModel{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Asset:         p.Asset,
		Direction:     string(p.Direction),
		Size:          p.Size,
		EntryPrice:    p.EntryPrice,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		Strategy:      p.Strategy,
		Status:        string(p.Status),
		OpenedAtUnix:  timeToMillis(p.OpenedAt),
		ClosePrice:    p.ClosePrice,
		CloseReason:   string(p.CloseReason),
		RealizedPnL:   p.RealizedPnL,
		DecisionID:    p.DecisionID,
		Contributions: contrib,
	}
	if p.ClosedAt != nil {
		m.ClosedAtUnix = timeToMillis(*p.ClosedAt)
	}
	return m, nil
}

func positionModelToRecord(m positionModel) (types.Position, error) {
	p := types.Position{
		ID:          m.ID,
		OrderID:     m.OrderID,
		Asset:       m.Asset,
		Direction:   types.Direction(m.Direction),
		Size:        m.Size,
		EntryPrice:  m.EntryPrice,
		StopLoss:    m.StopLoss,
		TakeProfit:  m.TakeProfit,
		Strategy:    m.Strategy,
		Status:      types.PositionStatus(m.Status),
		OpenedAt:    millisToTime(m.OpenedAtUnix),
		ClosePrice:  m.ClosePrice,
		CloseReason: types.CloseReason(m.CloseReason),
		RealizedPnL: m.RealizedPnL,
		DecisionID:  m.DecisionID,
	}
	if m.ClosedAtUnix > 0 {
		ts := millisToTime(m.ClosedAtUnix)
		p.ClosedAt = &ts
	}
	if err := decodeColumn("positions", "contributions", m.Contributions, &p.Contributions); err != nil {
		return types.Position{}, err
	}
	return p, nil
}

func nonNilMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return map[string]float64{}
	}
	return in
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
