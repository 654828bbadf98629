// Package service combines the brain document, the record database and the
// mentor into the operations the API exposes. Every call is scoped to one
// user; nothing here reads or writes across users.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/mentor"
	"github.com/lazypower/sanctum/internal/records"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMentorUnavailable wraps responder failures.
	ErrMentorUnavailable = errors.New("mentor unavailable")
)

type Service struct {
	brain   *brain.Store
	records *records.Store
	mentor  mentor.Responder
	logger  *slog.Logger
	now     func() time.Time
}

func New(b *brain.Store, r *records.Store, m mentor.Responder) *Service {
	return &Service{
		brain:   b,
		records: r,
		mentor:  m,
		logger:  slog.Default().With("component", "service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) date(d string) (string, error) {
	if d == "" {
		return s.now().Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, d); err != nil {
		return "", fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, d)
	}
	return d, nil
}

func checkLevel(name string, v *int) error {
	if v != nil && (*v < 1 || *v > 10) {
		return fmt.Errorf("%w: %s must be between 1 and 10", ErrInvalidInput, name)
	}
	return nil
}

// HabitLog is one day's habit report.
type HabitLog struct {
	Date              string   `json:"date"`
	SleepHours        *float64 `json:"sleep_hours"`
	ExerciseMinutes   *float64 `json:"exercise_minutes"`
	MeditationMinutes *float64 `json:"meditation_minutes"`
	ReadingMinutes    *float64 `json:"reading_minutes"`
	Notes             string   `json:"notes"`
}

// HabitResult is what LogHabits stored.
type HabitResult struct {
	Date     string                 `json:"date"`
	Entries  []records.HabitEntry   `json:"entries"`
	Patterns brain.BehaviorPatterns `json:"behavior_patterns"`
}

// LogHabits stores the day's snapshot in the brain, which recomputes the
// behavior patterns, and records one habit entry per reported value. A
// value above zero counts as completed.
func (s *Service) LogHabits(ctx context.Context, userID string, in HabitLog) (*HabitResult, error) {
	date, err := s.date(in.Date)
	if err != nil {
		return nil, err
	}
	habits := []struct {
		name string
		v    *float64
	}{
		{"sleep", in.SleepHours},
		{"exercise", in.ExerciseMinutes},
		{"meditation", in.MeditationMinutes},
		{"reading", in.ReadingMinutes},
	}
	reported := 0
	for _, h := range habits {
		if h.v == nil {
			continue
		}
		if *h.v < 0 {
			return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, h.name)
		}
		reported++
	}
	if reported == 0 {
		return nil, fmt.Errorf("%w: no habit values reported", ErrInvalidInput)
	}

	doc, err := s.brain.SetHabitSnapshot(ctx, userID, date, brain.HabitSnapshot{
		SleepHours:        in.SleepHours,
		ExerciseMinutes:   in.ExerciseMinutes,
		MeditationMinutes: in.MeditationMinutes,
		ReadingMinutes:    in.ReadingMinutes,
	})
	if err != nil {
		return nil, err
	}

	res := &HabitResult{Date: date, Patterns: doc.BehaviorPatterns}
	for _, h := range habits {
		if h.v == nil {
			continue
		}
		e, err := s.records.AddHabitEntry(ctx, userID, records.HabitEntry{
			HabitName: h.name,
			Completed: *h.v > 0,
			Date:      date,
			Notes:     in.Notes,
		})
		if err != nil {
			return nil, err
		}
		res.Entries = append(res.Entries, e)
	}
	return res, nil
}

// MoodLog is a mood check-in. Levels are on a 1-10 scale.
type MoodLog struct {
	Date      string `json:"date"`
	Stress    *int   `json:"stress_level"`
	Happiness *int   `json:"happiness_level"`
	Energy    *int   `json:"energy_level"`
	Notes     string `json:"notes"`
}

// MoodResult is what LogMood stored.
type MoodResult struct {
	Log               records.DailyLog   `json:"daily_log"`
	EmotionalPatterns []brain.MoodSample `json:"emotional_patterns"`
}

// LogMood records the check-in as a daily log and feeds the brain's
// emotional patterns.
func (s *Service) LogMood(ctx context.Context, userID string, in MoodLog) (*MoodResult, error) {
	for name, v := range map[string]*int{"stress_level": in.Stress, "happiness_level": in.Happiness, "energy_level": in.Energy} {
		if err := checkLevel(name, v); err != nil {
			return nil, err
		}
	}
	if in.Stress == nil && in.Happiness == nil && in.Energy == nil {
		return nil, fmt.Errorf("%w: no mood levels reported", ErrInvalidInput)
	}
	date, err := s.date(in.Date)
	if err != nil {
		return nil, err
	}

	entry, err := s.records.AddDailyLog(ctx, userID, records.DailyLog{
		Date:        date,
		MoodRating:  in.Happiness,
		EnergyLevel: in.Energy,
		Notes:       in.Notes,
	})
	if err != nil {
		return nil, err
	}
	doc, err := s.brain.RecordMood(ctx, userID, brain.Mood{
		Stress:    in.Stress,
		Happiness: in.Happiness,
		Energy:    in.Energy,
		Notes:     in.Notes,
	})
	if err != nil {
		return nil, err
	}
	return &MoodResult{Log: entry, EmotionalPatterns: doc.BehaviorPatterns.EmotionalPatterns}, nil
}

// ProductivityLog is one work report.
type ProductivityLog struct {
	Date           string `json:"date"`
	TaskName       string `json:"task_name"`
	Category       string `json:"category"`
	TasksPlanned   int    `json:"tasks_planned"`
	TasksCompleted int    `json:"tasks_completed"`
	FocusMinutes   *int   `json:"focus_time_minutes"`
	FocusLevel     *int   `json:"focus_level"`
}

// ProductivityResult is what LogProductivity stored.
type ProductivityResult struct {
	Entry    records.ProductivityEntry  `json:"entry"`
	Patterns []brain.ProductivitySample `json:"productivity_patterns"`
}

// LogProductivity records a productivity entry and feeds the brain's
// productivity patterns.
func (s *Service) LogProductivity(ctx context.Context, userID string, in ProductivityLog) (*ProductivityResult, error) {
	if in.TasksPlanned < 0 || in.TasksCompleted < 0 {
		return nil, fmt.Errorf("%w: task counts must not be negative", ErrInvalidInput)
	}
	if in.FocusMinutes != nil && *in.FocusMinutes < 0 {
		return nil, fmt.Errorf("%w: focus time must not be negative", ErrInvalidInput)
	}
	if err := checkLevel("focus_level", in.FocusLevel); err != nil {
		return nil, err
	}
	date, err := s.date(in.Date)
	if err != nil {
		return nil, err
	}
	task := strings.TrimSpace(in.TaskName)
	if task == "" {
		task = "daily report"
	}

	entry, err := s.records.AddProductivityEntry(ctx, userID, records.ProductivityEntry{
		TaskName:        task,
		DurationMinutes: in.FocusMinutes,
		Category:        in.Category,
		FocusLevel:      in.FocusLevel,
		Date:            date,
	})
	if err != nil {
		return nil, err
	}
	doc, err := s.brain.RecordProductivity(ctx, userID, brain.Productivity{
		TasksPlanned:   in.TasksPlanned,
		TasksCompleted: in.TasksCompleted,
		FocusMinutes:   in.FocusMinutes,
		Category:       in.Category,
	})
	if err != nil {
		return nil, err
	}
	return &ProductivityResult{Entry: entry, Patterns: doc.BehaviorPatterns.ProductivityPatterns}, nil
}

// EventDaily is the learning event type for daily check-ins.
const EventDaily = "daily_log"

// LogDaily stores a daily check-in and notes it in the learning history.
func (s *Service) LogDaily(ctx context.Context, userID string, in records.DailyLog) (records.DailyLog, error) {
	out, err := s.records.AddDailyLog(ctx, userID, in)
	if err != nil {
		return records.DailyLog{}, err
	}
	if _, err := s.brain.AppendLearningEvent(ctx, userID, EventDaily, out); err != nil {
		return records.DailyLog{}, err
	}
	return out, nil
}
