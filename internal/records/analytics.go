package records

import (
	"context"
	"fmt"
	"time"
)

// Analytics summarizes a user's records over a trailing window of days.
type Analytics struct {
	WindowDays      int             `json:"window_days"`
	From            string          `json:"from"`
	DailyTrends     []DailyLog      `json:"daily_trends"`
	HabitStatistics []HabitStat     `json:"habit_statistics"`
	Productivity    []CategoryTotal `json:"productivity"`
	ActiveGoals     []Goal          `json:"active_goals"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// HabitStat is the completion record of one habit inside the window.
type HabitStat struct {
	HabitName     string `json:"habit_name"`
	TotalDays     int    `json:"total_days"`
	CompletedDays int    `json:"completed_days"`
	BestStreak    int    `json:"best_streak"`
}

// CategoryTotal aggregates productivity entries for one category.
type CategoryTotal struct {
	Category     string   `json:"category"`
	Entries      int      `json:"entries"`
	TotalMinutes int      `json:"total_minutes"`
	AverageFocus *float64 `json:"average_focus"`
}

// RecentAnalytics computes analytics for the windowDays days ending at now.
func (db *DB) RecentAnalytics(ctx context.Context, windowDays int, now time.Time) (*Analytics, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("%w: window must be at least one day", ErrInvalidInput)
	}
	from := now.AddDate(0, 0, -windowDays).Format(dateLayout)
	a := &Analytics{WindowDays: windowDays, From: from, GeneratedAt: now}

	var err error
	if a.DailyTrends, err = db.dailyTrends(ctx, from); err != nil {
		return nil, err
	}
	if a.HabitStatistics, err = db.habitStats(ctx, from); err != nil {
		return nil, err
	}
	if a.Productivity, err = db.productivityTotals(ctx, from); err != nil {
		return nil, err
	}
	if a.ActiveGoals, err = db.ListGoals(ctx, GoalActive); err != nil {
		return nil, err
	}
	return a, nil
}

func (db *DB) dailyTrends(ctx context.Context, from string) ([]DailyLog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, date, mood_rating, energy_level, productivity_score, notes, created_at
		FROM daily_logs WHERE date >= ?
		ORDER BY date DESC, id DESC
	`, from)
	if err != nil {
		return nil, fmt.Errorf("daily trends: %w", err)
	}
	defer rows.Close()

	var logs []DailyLog
	for rows.Next() {
		var l DailyLog
		var created int64
		if err := rows.Scan(&l.ID, &l.Date, &l.MoodRating, &l.EnergyLevel, &l.ProductivityScore, &l.Notes, &created); err != nil {
			return nil, fmt.Errorf("scan daily log: %w", err)
		}
		l.CreatedAt = time.UnixMilli(created).UTC()
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (db *DB) habitStats(ctx context.Context, from string) ([]HabitStat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT habit_name,
		       COUNT(DISTINCT date),
		       COUNT(DISTINCT CASE WHEN completed = 1 THEN date END),
		       MAX(streak_count)
		FROM habit_tracking
		WHERE date >= ?
		GROUP BY habit_name
		ORDER BY habit_name
	`, from)
	if err != nil {
		return nil, fmt.Errorf("habit stats: %w", err)
	}
	defer rows.Close()

	var stats []HabitStat
	for rows.Next() {
		var s HabitStat
		if err := rows.Scan(&s.HabitName, &s.TotalDays, &s.CompletedDays, &s.BestStreak); err != nil {
			return nil, fmt.Errorf("scan habit stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (db *DB) productivityTotals(ctx context.Context, from string) ([]CategoryTotal, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT category, COUNT(*), COALESCE(SUM(duration_minutes), 0), AVG(focus_level)
		FROM productivity_logs
		WHERE date >= ?
		GROUP BY category
		ORDER BY category
	`, from)
	if err != nil {
		return nil, fmt.Errorf("productivity totals: %w", err)
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var c CategoryTotal
		if err := rows.Scan(&c.Category, &c.Entries, &c.TotalMinutes, &c.AverageFocus); err != nil {
			return nil, fmt.Errorf("scan productivity total: %w", err)
		}
		totals = append(totals, c)
	}
	return totals, rows.Err()
}
