// Package analytics derives return statistics from the portfolio value
// history produced by the daily sync.
package analytics

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/smehta/brokersync/internal/modules/holdings"
)

const smaPeriod = 20

// DailyReturn is one day's percentage change in portfolio value.
type DailyReturn struct {
	Date   string  `json:"date"`
	Return float64 `json:"return"`
}

// Summary aggregates a user's return series.
type Summary struct {
	Days             int           `json:"days"`
	MeanDailyReturn  float64       `json:"mean_daily_return"`
	StdDevDaily      float64       `json:"stddev_daily"`
	CumulativeReturn float64       `json:"cumulative_return"`
	SMA20            []float64     `json:"sma_20,omitempty"`
	Returns          []DailyReturn `json:"returns"`
}

// ValueHistorySource provides the daily value series.
type ValueHistorySource interface {
	GetValueHistory(ctx context.Context, userID int64, limit int) ([]holdings.PortfolioValue, error)
}

// Service computes return analytics over the stored value history.
type Service struct {
	source ValueHistorySource
	log    zerolog.Logger
}

// NewService creates an analytics service.
func NewService(source ValueHistorySource, log zerolog.Logger) *Service {
	return &Service{
		source: source,
		log:    log.With().Str("component", "analytics").Logger(),
	}
}

// DailyReturns computes day-over-day percentage returns from the value
// history. Days where the previous value is zero are skipped.
func DailyReturns(history []holdings.PortfolioValue) []DailyReturn {
	var returns []DailyReturn
	for i := 1; i < len(history); i++ {
		prev := history[i-1].TotalValue
		if prev == 0 {
			continue
		}
		returns = append(returns, DailyReturn{
			Date:   history[i].Date,
			Return: (history[i].TotalValue - prev) / prev,
		})
	}
	return returns
}

// Summarize computes the return summary for a user over the last `days`
// portfolio values.
func (s *Service) Summarize(ctx context.Context, userID int64, days int) (*Summary, error) {
	history, err := s.source.GetValueHistory(ctx, userID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load value history: %w", err)
	}

	returns := DailyReturns(history)
	summary := &Summary{
		Days:    len(returns),
		Returns: returns,
	}
	if len(returns) == 0 {
		return summary, nil
	}

	series := make([]float64, len(returns))
	cumulative := 1.0
	for i, r := range returns {
		series[i] = r.Return
		cumulative *= 1 + r.Return
	}

	summary.MeanDailyReturn = stat.Mean(series, nil)
	summary.CumulativeReturn = cumulative - 1
	if len(series) > 1 {
		summary.StdDevDaily = stat.StdDev(series, nil)
	}

	// Smoothed value trend; talib needs at least one full period.
	if len(history) >= smaPeriod {
		values := make([]float64, len(history))
		for i, v := range history {
			values[i] = v.TotalValue
		}
		summary.SMA20 = talib.Sma(values, smaPeriod)
	}

	return summary, nil
}
