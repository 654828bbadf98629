package service

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/records"
)

// DefaultAnalyticsWindow is used when no window is requested.
const DefaultAnalyticsWindow = 30

// Insights joins database analytics with the brain's derived view.
type Insights struct {
	UserID   string             `json:"user_id"`
	Records  *records.Analytics `json:"database_analytics"`
	Brain    brain.Summary      `json:"brain_insights"`
	Combined bool               `json:"combined_analysis"`
}

// Analytics reads both stores for the user. Neither read takes the
// user's exclusive lock unless the brain document has to be created.
func (s *Service) Analytics(ctx context.Context, userID string, window int) (*Insights, error) {
	if window == 0 {
		window = DefaultAnalyticsWindow
	}
	if window < 1 || window > 366 {
		return nil, fmt.Errorf("%w: window must be between 1 and 366 days", ErrInvalidInput)
	}

	in := &Insights{UserID: userID, Combined: true}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.records.QueryRecentAnalytics(gctx, userID, window)
		in.Records = a
		return err
	})
	g.Go(func() error {
		sum, err := s.brain.Summary(gctx, userID)
		in.Brain = sum
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// Metric names written by SnapshotMetrics.
const (
	MetricAverageSleep    = "average_sleep"
	MetricAverageExercise = "average_exercise"
	MetricExerciseStreak  = "exercise_streak"
)

// SnapshotMetrics copies the brain's current habit metrics into the
// analytics cache so their history can be charted later.
func (s *Service) SnapshotMetrics(ctx context.Context, userID string) ([]records.Metric, error) {
	doc, err := s.brain.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	bp := doc.BehaviorPatterns
	streak := float64(bp.ExerciseStreak)
	span := habitSpan(doc)

	var out []records.Metric
	for _, m := range []records.Metric{
		{Name: MetricAverageSleep, Value: bp.AverageSleep, DateRange: span},
		{Name: MetricAverageExercise, Value: bp.AverageExercise, DateRange: span},
		{Name: MetricExerciseStreak, Value: &streak, DateRange: span},
	} {
		stored, err := s.records.CacheMetric(ctx, userID, m)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// MetricHistory returns every cached value of one metric.
func (s *Service) MetricHistory(ctx context.Context, userID, name string) ([]records.Metric, error) {
	return s.records.CachedMetrics(ctx, userID, name)
}

// habitSpan renders the first and last habit dates as "from..to".
func habitSpan(doc *brain.Document) string {
	if len(doc.HabitMemory) == 0 {
		return ""
	}
	dates := make([]string, 0, len(doc.HabitMemory))
	for d := range doc.HabitMemory {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates[0] + ".." + dates[len(dates)-1]
}
