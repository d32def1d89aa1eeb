package analytics

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smehta/brokersync/internal/modules/holdings"
)

type fakeHistory struct {
	values []holdings.PortfolioValue
}

func (f *fakeHistory) GetValueHistory(_ context.Context, _ int64, _ int) ([]holdings.PortfolioValue, error) {
	return f.values, nil
}

func history(values ...float64) []holdings.PortfolioValue {
	out := make([]holdings.PortfolioValue, len(values))
	for i, v := range values {
		out[i] = holdings.PortfolioValue{UserID: 1, Date: "2026-08-01", TotalValue: v}
	}
	return out
}

func TestDailyReturns(t *testing.T) {
	returns := DailyReturns(history(100, 110, 99))

	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0].Return, 1e-9)
	assert.InDelta(t, -0.10, returns[1].Return, 1e-9)
}

func TestDailyReturns_SkipsZeroBase(t *testing.T) {
	returns := DailyReturns(history(0, 100, 110))

	require.Len(t, returns, 1)
	assert.InDelta(t, 0.10, returns[0].Return, 1e-9)
}

func TestSummarize(t *testing.T) {
	svc := NewService(&fakeHistory{values: history(100, 110, 121)}, zerolog.Nop())

	summary, err := svc.Summarize(context.Background(), 1, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Days)
	assert.InDelta(t, 0.10, summary.MeanDailyReturn, 1e-9)
	assert.InDelta(t, 0.21, summary.CumulativeReturn, 1e-9)
	assert.Empty(t, summary.SMA20) // fewer than 20 points
}

func TestSummarize_EmptyHistory(t *testing.T) {
	svc := NewService(&fakeHistory{}, zerolog.Nop())

	summary, err := svc.Summarize(context.Background(), 1, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Days)
	assert.Zero(t, summary.CumulativeReturn)
}

func TestSummarize_SMAWithEnoughHistory(t *testing.T) {
	values := make([]float64, 25)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	svc := NewService(&fakeHistory{values: history(values...)}, zerolog.Nop())

	summary, err := svc.Summarize(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, summary.SMA20, 25)
	// SMA of a linear series is the midpoint of the window.
	assert.InDelta(t, 114.5, summary.SMA20[24], 1e-9)
}
