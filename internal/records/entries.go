package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidInput is returned for entries that fail validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when an entry addressed by id does not exist.
	ErrNotFound = errors.New("record not found")
)

// DailyLog is a daily check-in. Ratings are on a 1-10 scale.
type DailyLog struct {
	ID                int64     `json:"id"`
	Date              string    `json:"date"`
	MoodRating        *int      `json:"mood_rating"`
	EnergyLevel       *int      `json:"energy_level"`
	ProductivityScore *int      `json:"productivity_score"`
	Notes             string    `json:"notes"`
	CreatedAt         time.Time `json:"created_at"`
}

// HabitEntry records whether a habit was done on a date. StreakCount is
// computed on insert and never taken from the caller.
type HabitEntry struct {
	ID          int64     `json:"id"`
	HabitName   string    `json:"habit_name"`
	Completed   bool      `json:"completed"`
	Date        string    `json:"date"`
	StreakCount int       `json:"streak_count"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Goal statuses.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalAbandoned = "abandoned"
)

type Goal struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Priority    int       `json:"priority"`
	Status      string    `json:"status"`
	TargetDate  *string   `json:"target_date"`
	Progress    int       `json:"progress_percentage"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductivityEntry struct {
	ID              int64     `json:"id"`
	TaskName        string    `json:"task_name"`
	DurationMinutes *int      `json:"duration_minutes"`
	Category        string    `json:"category"`
	FocusLevel      *int      `json:"focus_level"`
	Date            string    `json:"date"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChatTurn is one side of a mentor exchange.
type ChatTurn struct {
	ID          int64           `json:"id"`
	Message     string          `json:"message"`
	IsUser      bool            `json:"is_user_message"`
	Timestamp   time.Time       `json:"timestamp"`
	ContextData json.RawMessage `json:"context_data,omitempty"`
}

// Metric is a cached computed value.
type Metric struct {
	ID           int64     `json:"id"`
	Name         string    `json:"metric_name"`
	Value        *float64  `json:"metric_value"`
	DateRange    string    `json:"date_range"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// normalizeDate defaults an empty date to today and rejects anything that is
// not YYYY-MM-DD.
func normalizeDate(date string, now time.Time) (string, error) {
	if date == "" {
		return now.Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, date)
	}
	return date, nil
}

func checkRating(name string, v *int) error {
	if v != nil && (*v < 1 || *v > 10) {
		return fmt.Errorf("%w: %s must be between 1 and 10", ErrInvalidInput, name)
	}
	return nil
}

// AddDailyLog inserts a daily check-in.
func (db *DB) AddDailyLog(ctx context.Context, l DailyLog, now time.Time) (DailyLog, error) {
	date, err := normalizeDate(l.Date, now)
	if err != nil {
		return DailyLog{}, err
	}
	for name, v := range map[string]*int{"mood_rating": l.MoodRating, "energy_level": l.EnergyLevel, "productivity_score": l.ProductivityScore} {
		if err := checkRating(name, v); err != nil {
			return DailyLog{}, err
		}
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO daily_logs (date, mood_rating, energy_level, productivity_score, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, date, l.MoodRating, l.EnergyLevel, l.ProductivityScore, l.Notes, now.UnixMilli())
	if err != nil {
		return DailyLog{}, fmt.Errorf("add daily log: %w", err)
	}
	l.ID, _ = res.LastInsertId()
	l.Date = date
	l.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return l, nil
}

// AddHabitEntry inserts a habit entry. A completed entry extends the streak
// of the same habit completed on the previous day; anything else resets it.
func (db *DB) AddHabitEntry(ctx context.Context, h HabitEntry, now time.Time) (HabitEntry, error) {
	if h.HabitName == "" {
		return HabitEntry{}, fmt.Errorf("%w: habit_name is required", ErrInvalidInput)
	}
	date, err := normalizeDate(h.Date, now)
	if err != nil {
		return HabitEntry{}, err
	}
	day, _ := time.Parse(dateLayout, date)
	prev := day.AddDate(0, 0, -1).Format(dateLayout)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return HabitEntry{}, fmt.Errorf("begin habit entry: %w", err)
	}
	defer tx.Rollback()

	streak := 0
	if h.Completed {
		var last sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT MAX(streak_count) FROM habit_tracking
			WHERE habit_name = ? AND date = ? AND completed = 1
		`, h.HabitName, prev).Scan(&last)
		if err != nil {
			return HabitEntry{}, fmt.Errorf("previous streak: %w", err)
		}
		streak = int(last.Int64) + 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO habit_tracking (habit_name, completed, date, streak_count, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.HabitName, h.Completed, date, streak, h.Notes, now.UnixMilli())
	if err != nil {
		return HabitEntry{}, fmt.Errorf("add habit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return HabitEntry{}, fmt.Errorf("commit habit entry: %w", err)
	}

	h.ID, _ = res.LastInsertId()
	h.Date = date
	h.StreakCount = streak
	h.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return h, nil
}

// AddGoal inserts a goal. Status defaults to active and priority to 1.
func (db *DB) AddGoal(ctx context.Context, g Goal, now time.Time) (Goal, error) {
	if g.Title == "" {
		return Goal{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if g.Status == "" {
		g.Status = GoalActive
	}
	if g.Priority == 0 {
		g.Priority = 1
	}
	if g.TargetDate != nil {
		if _, err := normalizeDate(*g.TargetDate, now); err != nil {
			return Goal{}, err
		}
	}
	g.Progress = min(max(g.Progress, 0), 100)

	res, err := db.ExecContext(ctx, `
		INSERT INTO goals (title, description, category, priority, status, target_date, progress_percentage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.Title, g.Description, g.Category, g.Priority, g.Status, g.TargetDate, g.Progress, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Goal{}, fmt.Errorf("add goal: %w", err)
	}
	g.ID, _ = res.LastInsertId()
	g.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	g.UpdatedAt = g.CreatedAt
	return g, nil
}

// UpdateGoalProgress sets a goal's progress, clamped to 0-100. Reaching 100
// completes the goal.
func (db *DB) UpdateGoalProgress(ctx context.Context, id int64, progress int, now time.Time) (Goal, error) {
	progress = min(max(progress, 0), 100)
	res, err := db.ExecContext(ctx, `
		UPDATE goals SET
			progress_percentage = ?,
			status = CASE WHEN ? = 100 THEN 'completed' ELSE status END,
			updated_at = ?
		WHERE id = ?
	`, progress, progress, now.UnixMilli(), id)
	if err != nil {
		return Goal{}, fmt.Errorf("update goal progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Goal{}, fmt.Errorf("%w: goal %d", ErrNotFound, id)
	}
	return db.GetGoal(ctx, id)
}

const goalColumns = `id, title, description, category, priority, status, target_date, progress_percentage, created_at, updated_at`

func scanGoal(row interface{ Scan(...any) error }) (Goal, error) {
	var g Goal
	var created, updated int64
	err := row.Scan(&g.ID, &g.Title, &g.Description, &g.Category, &g.Priority, &g.Status, &g.TargetDate, &g.Progress, &created, &updated)
	g.CreatedAt = time.UnixMilli(created).UTC()
	g.UpdatedAt = time.UnixMilli(updated).UTC()
	return g, err
}

// GetGoal returns a goal by id.
func (db *DB) GetGoal(ctx context.Context, id int64) (Goal, error) {
	g, err := scanGoal(db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Goal{}, fmt.Errorf("%w: goal %d", ErrNotFound, id)
	}
	if err != nil {
		return Goal{}, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

// ListGoals returns goals with the given status, or all goals when status is
// empty, highest priority first.
func (db *DB) ListGoals(ctx context.Context, status string) ([]Goal, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+goalColumns+` FROM goals
		WHERE ? = '' OR status = ?
		ORDER BY priority DESC, created_at
	`, status, status)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// AddProductivityEntry inserts a task/focus record.
func (db *DB) AddProductivityEntry(ctx context.Context, p ProductivityEntry, now time.Time) (ProductivityEntry, error) {
	if p.TaskName == "" {
		return ProductivityEntry{}, fmt.Errorf("%w: task_name is required", ErrInvalidInput)
	}
	if p.DurationMinutes != nil && *p.DurationMinutes < 0 {
		return ProductivityEntry{}, fmt.Errorf("%w: duration_minutes must not be negative", ErrInvalidInput)
	}
	if err := checkRating("focus_level", p.FocusLevel); err != nil {
		return ProductivityEntry{}, err
	}
	date, err := normalizeDate(p.Date, now)
	if err != nil {
		return ProductivityEntry{}, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO productivity_logs (task_name, duration_minutes, category, focus_level, date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.TaskName, p.DurationMinutes, p.Category, p.FocusLevel, date, now.UnixMilli())
	if err != nil {
		return ProductivityEntry{}, fmt.Errorf("add productivity entry: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	p.Date = date
	p.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return p, nil
}

// AddChatTurn stores one side of a conversation.
func (db *DB) AddChatTurn(ctx context.Context, c ChatTurn, now time.Time) (ChatTurn, error) {
	if c.Message == "" {
		return ChatTurn{}, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}
	var contextData *string
	if len(c.ContextData) > 0 {
		if !json.Valid(c.ContextData) {
			return ChatTurn{}, fmt.Errorf("%w: context_data is not JSON", ErrInvalidInput)
		}
		s := string(c.ContextData)
		contextData = &s
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO chat_history (message, is_user_message, timestamp, context_data)
		VALUES (?, ?, ?, ?)
	`, c.Message, c.IsUser, c.Timestamp.UnixMilli(), contextData)
	if err != nil {
		return ChatTurn{}, fmt.Errorf("add chat turn: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	c.Timestamp = time.UnixMilli(c.Timestamp.UnixMilli()).UTC()
	return c, nil
}

// RecentChat returns up to limit of the latest turns, oldest first.
func (db *DB) RecentChat(ctx context.Context, limit int) ([]ChatTurn, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, message, is_user_message, timestamp, context_data FROM (
			SELECT * FROM chat_history ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp, id
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chat: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var c ChatTurn
		var ts int64
		var contextData sql.NullString
		if err := rows.Scan(&c.ID, &c.Message, &c.IsUser, &ts, &contextData); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		c.Timestamp = time.UnixMilli(ts).UTC()
		if contextData.Valid {
			c.ContextData = json.RawMessage(contextData.String)
		}
		turns = append(turns, c)
	}
	return turns, rows.Err()
}

// CacheMetric stores a computed metric value.
func (db *DB) CacheMetric(ctx context.Context, m Metric, now time.Time) (Metric, error) {
	if m.Name == "" {
		return Metric{}, fmt.Errorf("%w: metric_name is required", ErrInvalidInput)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO analytics_cache (metric_name, metric_value, date_range, calculated_at)
		VALUES (?, ?, ?, ?)
	`, m.Name, m.Value, m.DateRange, now.UnixMilli())
	if err != nil {
		return Metric{}, fmt.Errorf("cache metric: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	m.CalculatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return m, nil
}

// CachedMetrics returns stored values of a metric, newest first.
func (db *DB) CachedMetrics(ctx context.Context, name string) ([]Metric, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, metric_name, metric_value, date_range, calculated_at
		FROM analytics_cache WHERE metric_name = ?
		ORDER BY calculated_at DESC, id DESC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("cached metrics: %w", err)
	}
	defer rows.Close()

	var metrics []Metric
	for rows.Next() {
		var m Metric
		var at int64
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &m.DateRange, &at); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.CalculatedAt = time.UnixMilli(at).UTC()
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
