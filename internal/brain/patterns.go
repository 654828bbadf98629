package brain

import (
	"sort"
	"time"
)

// Trend labels.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

type datedSnapshot struct {
	date time.Time
	snap HabitSnapshot
}

// sortedHabits returns the habit snapshots oldest first. Keys that are not
// calendar dates are ignored.
func (d *Document) sortedHabits() []datedSnapshot {
	out := make([]datedSnapshot, 0, len(d.HabitMemory))
	for key, snap := range d.HabitMemory {
		day, err := time.Parse(dateLayout, key)
		if err != nil {
			continue
		}
		out = append(out, datedSnapshot{date: day, snap: snap})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out
}

// recomputeHabitPatterns rebuilds the habit-derived fields of
// behavior_patterns. Averages look at the last window snapshots; the streak
// looks at all of them.
func (d *Document) recomputeHabitPatterns(window int) {
	habits := d.sortedHabits()
	bp := &d.BehaviorPatterns

	recent := habits
	if window > 0 && len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	bp.AverageSleep = average(recent, func(s HabitSnapshot) *float64 { return s.SleepHours })
	bp.AverageExercise = average(recent, func(s HabitSnapshot) *float64 { return s.ExerciseMinutes })

	// Too few points to call a direction; keep whatever was there.
	if len(habits) >= minTrendSnapshots {
		span := habits
		if len(span) > trendSpan {
			span = span[len(span)-trendSpan:]
		}
		first, last := span[0].snap, span[len(span)-1].snap
		bp.SleepTrend = trend(valueOf(first.SleepHours), valueOf(last.SleepHours))
		bp.ExerciseTrend = trend(valueOf(first.ExerciseMinutes), valueOf(last.ExerciseMinutes))
	}

	bp.ExerciseStreak = exerciseStreak(habits)
}

// exerciseStreak counts the trailing run of consecutive calendar days with
// exercise, ending at the most recent snapshot.
func exerciseStreak(habits []datedSnapshot) int {
	streak := 0
	for i := len(habits) - 1; i >= 0; i-- {
		if valueOf(habits[i].snap.ExerciseMinutes) <= 0 {
			break
		}
		if i < len(habits)-1 && !habits[i].date.AddDate(0, 0, 1).Equal(habits[i+1].date) {
			break
		}
		streak++
	}
	return streak
}

func average(habits []datedSnapshot, field func(HabitSnapshot) *float64) *float64 {
	var sum float64
	n := 0
	for _, h := range habits {
		if v := field(h.snap); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

func trend(first, last float64) string {
	switch {
	case last > first:
		return TrendImproving
	case last < first:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func valueOf(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func appendMood(samples []MoodSample, s MoodSample) []MoodSample {
	samples = append(samples, s)
	if len(samples) > maxPatternSamples {
		samples = samples[len(samples)-maxPatternSamples:]
	}
	return samples
}

func appendProductivity(samples []ProductivitySample, s ProductivitySample) []ProductivitySample {
	samples = append(samples, s)
	if len(samples) > maxPatternSamples {
		samples = samples[len(samples)-maxPatternSamples:]
	}
	return samples
}
