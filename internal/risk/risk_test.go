package risk

import (
	"context"
	"errors"
	"testing"

	"booner/internal/store"
	"booner/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListPositions(ctx context.Context, filter store.PositionFilter) ([]types.Position, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Position), args.Error(1)
}

func TestPortfolioRiskPct(t *testing.T) {
	lister := new(mockLister)
	lister.On("ListPositions", mock.Anything, store.PositionFilter{Status: types.PositionOpen}).Return([]types.Position{
		{EntryPrice: 100, StopLoss: 95, Size: 10},
		{EntryPrice: 50, StopLoss: 52, Size: 20, Direction: types.DirectionSell},
	}, nil)

	g := NewGauge(lister, 10000, nil)
	pct, err := g.PortfolioRiskPct(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.9, pct, 1e-9)
	lister.AssertExpectations(t)
}

func TestPositionRiskWithoutStopUsesNotional(t *testing.T) {
	assert.Equal(t, 200.0, PositionRisk(types.Position{EntryPrice: 100, Size: 2}))
	assert.Zero(t, PositionRisk(types.Position{}))
}

func TestPortfolioRiskErrors(t *testing.T) {
	lister := new(mockLister)
	lister.On("ListPositions", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	_, err := NewGauge(lister, 1000, nil).PortfolioRiskPct(context.Background())
	assert.ErrorContains(t, err, "db down")

	_, err = NewGauge(lister, 0, nil).PortfolioRiskPct(context.Background())
	assert.Error(t, err)
}
