package records

import (
	"context"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "daily_logs and habit_tracking",
		SQL: `
CREATE TABLE daily_logs (
    id                 INTEGER PRIMARY KEY,
    date               TEXT NOT NULL,
    mood_rating        INTEGER CHECK (mood_rating BETWEEN 1 AND 10),
    energy_level       INTEGER CHECK (energy_level BETWEEN 1 AND 10),
    productivity_score INTEGER CHECK (productivity_score BETWEEN 1 AND 10),
    notes              TEXT NOT NULL DEFAULT '',
    created_at         INTEGER NOT NULL
);

CREATE TABLE habit_tracking (
    id           INTEGER PRIMARY KEY,
    habit_name   TEXT NOT NULL,
    completed    INTEGER NOT NULL DEFAULT 0,
    date         TEXT NOT NULL,
    streak_count INTEGER NOT NULL DEFAULT 0,
    notes        TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_daily_logs_date     ON daily_logs(date);
CREATE INDEX idx_habit_tracking_date ON habit_tracking(habit_name, date);
`,
	},
	{
		Version:     2,
		Description: "goals and productivity_logs",
		SQL: `
CREATE TABLE goals (
    id                  INTEGER PRIMARY KEY,
    title               TEXT NOT NULL,
    description         TEXT NOT NULL DEFAULT '',
    category            TEXT NOT NULL DEFAULT '',
    priority            INTEGER NOT NULL DEFAULT 1,
    status              TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'abandoned')),
    target_date         TEXT,
    progress_percentage INTEGER NOT NULL DEFAULT 0 CHECK (progress_percentage BETWEEN 0 AND 100),
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);

CREATE TABLE productivity_logs (
    id               INTEGER PRIMARY KEY,
    task_name        TEXT NOT NULL,
    duration_minutes INTEGER,
    category         TEXT NOT NULL DEFAULT '',
    focus_level      INTEGER,
    date             TEXT NOT NULL,
    created_at       INTEGER NOT NULL
);

CREATE INDEX idx_goals_status            ON goals(status);
CREATE INDEX idx_productivity_logs_date  ON productivity_logs(date);
`,
	},
	{
		Version:     3,
		Description: "chat_history and analytics_cache",
		SQL: `
CREATE TABLE chat_history (
    id              INTEGER PRIMARY KEY,
    message         TEXT NOT NULL,
    is_user_message INTEGER NOT NULL,
    timestamp       INTEGER NOT NULL,
    context_data    TEXT
);

CREATE TABLE analytics_cache (
    id            INTEGER PRIMARY KEY,
    metric_name   TEXT NOT NULL,
    metric_value  REAL,
    date_range    TEXT NOT NULL DEFAULT '',
    calculated_at INTEGER NOT NULL
);

CREATE INDEX idx_chat_history_timestamp ON chat_history(timestamp);
CREATE INDEX idx_analytics_cache_name   ON analytics_cache(metric_name, calculated_at DESC);
`,
	},
}

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
