package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/fault"
	"github.com/lazypower/sanctum/internal/keylock"
	"github.com/lazypower/sanctum/internal/mentor"
	"github.com/lazypower/sanctum/internal/records"
	"github.com/lazypower/sanctum/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *Service
	brain   *brain.Store
	records *records.Store
	mentor  *mentor.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := tenant.New(t.TempDir(), nil)
	require.NoError(t, err)
	locks := keylock.New()
	b := brain.New(dir, locks, nil, brain.Options{ConversationCap: 3})
	r := records.New(dir, locks, nil, records.Options{})
	t.Cleanup(func() { r.Close() })
	m := &mentor.Mock{Response: &mentor.Response{Content: "keep it up", Provider: "mock", TokensUsed: 12}}
	return &fixture{svc: New(b, r, m), brain: b, records: r, mentor: m}
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int { return &v }

func TestLogHabitsFeedsBothStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, day := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		_, err := f.svc.LogHabits(ctx, "alice", HabitLog{Date: day, SleepHours: f64(6), ExerciseMinutes: f64(40)})
		require.NoError(t, err)
	}
	res, err := f.svc.LogHabits(ctx, "alice", HabitLog{Date: "2024-03-04", SleepHours: f64(8), ExerciseMinutes: f64(0)})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-04", res.Date)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "sleep", res.Entries[0].HabitName)
	assert.Equal(t, 4, res.Entries[0].StreakCount)
	assert.Equal(t, "exercise", res.Entries[1].HabitName)
	assert.False(t, res.Entries[1].Completed)
	assert.Equal(t, 0, res.Entries[1].StreakCount)

	assert.Equal(t, 0, res.Patterns.ExerciseStreak)
	require.NotNil(t, res.Patterns.AverageSleep)
	assert.InDelta(t, 6.5, *res.Patterns.AverageSleep, 1e-9)
	assert.Equal(t, brain.TrendImproving, res.Patterns.SleepTrend)

	doc, err := f.brain.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, doc.HabitMemory, 4)
}

func TestLogHabitsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LogHabits(ctx, "alice", HabitLog{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.LogHabits(ctx, "alice", HabitLog{SleepHours: f64(-1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.LogHabits(ctx, "alice", HabitLog{Date: "03/01/2024", SleepHours: f64(7)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.LogHabits(ctx, "../bob", HabitLog{SleepHours: f64(7)})
	assert.ErrorIs(t, err, fault.ErrInvalidUser)
}

func TestLogMood(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.LogMood(ctx, "alice", MoodLog{Stress: intp(3), Happiness: intp(8), Energy: intp(6), Notes: "good day"})
	require.NoError(t, err)
	require.NotNil(t, res.Log.MoodRating)
	assert.Equal(t, 8, *res.Log.MoodRating)
	require.Len(t, res.EmotionalPatterns, 1)
	assert.Equal(t, 3, *res.EmotionalPatterns[0].Stress)

	_, err = f.svc.LogMood(ctx, "alice", MoodLog{Stress: intp(11)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.LogMood(ctx, "alice", MoodLog{Notes: "nothing"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLogProductivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.LogProductivity(ctx, "alice", ProductivityLog{
		Category: "work", TasksPlanned: 4, TasksCompleted: 3, FocusMinutes: intp(90), FocusLevel: intp(7),
	})
	require.NoError(t, err)
	assert.Equal(t, "daily report", res.Entry.TaskName)
	require.Len(t, res.Patterns, 1)
	assert.InDelta(t, 0.75, res.Patterns[0].CompletionRate, 1e-9)

	_, err = f.svc.LogProductivity(ctx, "alice", ProductivityLog{TasksPlanned: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.LogProductivity(ctx, "alice", ProductivityLog{FocusLevel: intp(0)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLogDailyAddsLearningEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.LogDaily(ctx, "alice", records.DailyLog{Date: "2024-03-01", EnergyLevel: intp(5), Notes: "ok"})
	require.NoError(t, err)
	assert.NotZero(t, out.ID)

	doc, err := f.brain.Load(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, doc.LearningHistory, 1)
	assert.Equal(t, EventDaily, doc.LearningHistory[0].Type)

	_, err = f.svc.LogDaily(ctx, "alice", records.DailyLog{MoodRating: intp(0)})
	assert.ErrorIs(t, err, records.ErrInvalidInput)
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for n := 1; n <= 4; n++ {
		res, err := f.svc.Chat(ctx, "alice", "question")
		require.NoError(t, err)
		assert.Equal(t, "keep it up", res.Response)
		assert.Equal(t, min(n, 3), res.ConversationTurns, "conversation buffer is capped")
	}

	history, err := f.svc.ChatHistory(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 8)
	assert.True(t, history[0].IsUser)
	assert.Equal(t, "question", history[0].Message)
	assert.False(t, history[1].IsUser)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(history[1].ContextData, &meta))
	assert.Equal(t, "mock", meta["provider"])

	calls := f.mentor.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "alice", calls[0].UserID)
}

func TestChatMentorFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mentor.Err = errors.New("provider down")

	_, err := f.svc.Chat(ctx, "alice", "hello")
	assert.ErrorIs(t, err, ErrMentorUnavailable)

	history, err := f.svc.ChatHistory(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	doc, err := f.brain.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, doc.ConversationContext)

	_, err = f.svc.Chat(ctx, "alice", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChatSeesOnlyOwnDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.brain.SetGoal(ctx, "bob", "secret goal", "x")
	require.NoError(t, err)
	f.svc.mentor = mentor.Rules{}

	res, err := f.svc.Chat(ctx, "alice", "what are my goals?")
	require.NoError(t, err)
	assert.NotContains(t, res.Response, "secret goal")
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LogHabits(ctx, "alice", HabitLog{ExerciseMinutes: f64(30)})
	require.NoError(t, err)
	_, err = f.svc.LogProductivity(ctx, "alice", ProductivityLog{Category: "work", FocusMinutes: intp(25)})
	require.NoError(t, err)

	in, err := f.svc.Analytics(ctx, "alice", 0)
	require.NoError(t, err)
	assert.True(t, in.Combined)
	assert.Equal(t, DefaultAnalyticsWindow, in.Records.WindowDays)
	require.Len(t, in.Records.HabitStatistics, 1)
	assert.Equal(t, "exercise", in.Records.HabitStatistics[0].HabitName)
	assert.Equal(t, 1, in.Brain.HabitsTracked)
	assert.Equal(t, 1, in.Brain.BehaviorInsights.ExerciseStreak)

	_, err = f.svc.Analytics(ctx, "alice", -3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSnapshotMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LogHabits(ctx, "alice", HabitLog{Date: "2024-03-01", SleepHours: f64(7)})
	require.NoError(t, err)
	_, err = f.svc.LogHabits(ctx, "alice", HabitLog{Date: "2024-03-02", SleepHours: f64(8)})
	require.NoError(t, err)

	out, err := f.svc.SnapshotMetrics(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "2024-03-01..2024-03-02", out[0].DateRange)
	assert.InDelta(t, 7.5, *out[0].Value, 1e-9)
	assert.Nil(t, out[1].Value, "no exercise reported")

	time.Sleep(2 * time.Millisecond)
	_, err = f.svc.SnapshotMetrics(ctx, "alice")
	require.NoError(t, err)
	history, err := f.svc.MetricHistory(ctx, "alice", MetricAverageSleep)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
