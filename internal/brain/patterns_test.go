package brain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) string {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n).Format(dateLayout)
}

func TestExerciseStreakCountsTrailingRun(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Exercise on 5 of 7 days; the last 3 are consecutive.
	minutes := []float64{30, 20, 0, 0, 15, 45, 10}
	var doc *Document
	var err error
	for i, m := range minutes {
		doc, err = s.SetHabitSnapshot(ctx, "alice", day(i), HabitSnapshot{ExerciseMinutes: ptr(m)})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, doc.BehaviorPatterns.ExerciseStreak)
}

func TestExerciseStreakBreaksOnMissingDay(t *testing.T) {
	d := NewDocument("alice", time.Now())
	d.HabitMemory[day(0)] = HabitSnapshot{ExerciseMinutes: ptr(30.0)}
	d.HabitMemory[day(1)] = HabitSnapshot{ExerciseMinutes: ptr(30.0)}
	d.HabitMemory[day(3)] = HabitSnapshot{ExerciseMinutes: ptr(30.0)}
	d.recomputeHabitPatterns(DefaultPatternWindow)
	assert.Equal(t, 1, d.BehaviorPatterns.ExerciseStreak)

	d.HabitMemory[day(4)] = HabitSnapshot{SleepHours: ptr(8.0)}
	d.recomputeHabitPatterns(DefaultPatternWindow)
	assert.Equal(t, 0, d.BehaviorPatterns.ExerciseStreak, "no exercise on the latest day ends the streak")
}

func TestExerciseStreakIsNotWindowed(t *testing.T) {
	d := NewDocument("alice", time.Now())
	for i := 0; i < 40; i++ {
		d.HabitMemory[day(i)] = HabitSnapshot{ExerciseMinutes: ptr(10.0)}
	}
	d.recomputeHabitPatterns(5)
	assert.Equal(t, 40, d.BehaviorPatterns.ExerciseStreak)
}

func TestAveragesUseRecentWindow(t *testing.T) {
	d := NewDocument("alice", time.Now())
	d.HabitMemory[day(0)] = HabitSnapshot{SleepHours: ptr(2.0), ExerciseMinutes: ptr(100.0)}
	d.HabitMemory[day(1)] = HabitSnapshot{SleepHours: ptr(6.0)}
	d.HabitMemory[day(2)] = HabitSnapshot{SleepHours: ptr(8.0), ExerciseMinutes: ptr(20.0)}

	d.recomputeHabitPatterns(2)
	require.NotNil(t, d.BehaviorPatterns.AverageSleep)
	assert.InDelta(t, 7.0, *d.BehaviorPatterns.AverageSleep, 1e-9)
	require.NotNil(t, d.BehaviorPatterns.AverageExercise)
	assert.InDelta(t, 20.0, *d.BehaviorPatterns.AverageExercise, 1e-9, "days without a value are skipped")

	d.recomputeHabitPatterns(DefaultPatternWindow)
	assert.InDelta(t, 16.0/3, *d.BehaviorPatterns.AverageSleep, 1e-9)
	assert.InDelta(t, 60.0, *d.BehaviorPatterns.AverageExercise, 1e-9)
}

func TestTrendNeedsThreeSnapshots(t *testing.T) {
	d := NewDocument("alice", time.Now())
	d.BehaviorPatterns.SleepTrend = TrendStable

	d.HabitMemory[day(0)] = HabitSnapshot{SleepHours: ptr(6.0), ExerciseMinutes: ptr(40.0)}
	d.HabitMemory[day(1)] = HabitSnapshot{SleepHours: ptr(8.0), ExerciseMinutes: ptr(20.0)}
	d.recomputeHabitPatterns(DefaultPatternWindow)
	assert.Equal(t, TrendStable, d.BehaviorPatterns.SleepTrend, "prior label kept below three snapshots")
	assert.Empty(t, d.BehaviorPatterns.ExerciseTrend)

	d.HabitMemory[day(2)] = HabitSnapshot{SleepHours: ptr(7.0), ExerciseMinutes: ptr(10.0)}
	d.recomputeHabitPatterns(DefaultPatternWindow)
	assert.Equal(t, TrendImproving, d.BehaviorPatterns.SleepTrend)
	assert.Equal(t, TrendDeclining, d.BehaviorPatterns.ExerciseTrend)
}

func TestTrendComparesAcrossLastWeek(t *testing.T) {
	d := NewDocument("alice", time.Now())
	// Day 0 is outside the seven-snapshot span and must not count.
	d.HabitMemory[day(0)] = HabitSnapshot{SleepHours: ptr(12.0)}
	for i := 1; i <= 7; i++ {
		d.HabitMemory[day(i)] = HabitSnapshot{SleepHours: ptr(5.0)}
	}
	d.recomputeHabitPatterns(DefaultPatternWindow)
	assert.Equal(t, TrendStable, d.BehaviorPatterns.SleepTrend)
}

func TestHabitSnapshotLastWriteWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetHabitSnapshot(ctx, "alice", "2024-03-01", HabitSnapshot{SleepHours: ptr(5.0)})
	require.NoError(t, err)
	doc, err := s.SetHabitSnapshot(ctx, "alice", "2024-03-01", HabitSnapshot{SleepHours: ptr(9.0)})
	require.NoError(t, err)

	require.Len(t, doc.HabitMemory, 1)
	assert.Equal(t, 9.0, *doc.HabitMemory["2024-03-01"].SleepHours)
	assert.Len(t, doc.LearningHistory, 2, "history keeps both writes")

	_, err = s.SetHabitSnapshot(ctx, "alice", "March 1", HabitSnapshot{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPatternSamplesAreBounded(t *testing.T) {
	var moods []MoodSample
	for i := 0; i < maxPatternSamples+10; i++ {
		moods = appendMood(moods, MoodSample{Energy: ptr(i)})
	}
	require.Len(t, moods, maxPatternSamples)
	assert.Equal(t, 10, *moods[0].Energy)
}
