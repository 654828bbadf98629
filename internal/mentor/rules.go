package mentor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lazypower/sanctum/internal/brain"
)

// Advice thresholds.
const (
	SleepTargetHours      = 7.0
	ExerciseTargetMinutes = 30.0
)

// Rules answers from the document's derived patterns without calling a
// model. It is the default responder and needs no credentials.
type Rules struct{}

func (Rules) Respond(ctx context.Context, doc *brain.Document, message string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bp := doc.BehaviorPatterns

	var b strings.Builder
	b.WriteString("Based on your personal data and patterns:\n\n")
	b.WriteString("Your patterns:\n")
	fmt.Fprintf(&b, "- Average sleep: %s hours\n", number(bp.AverageSleep))
	fmt.Fprintf(&b, "- Average exercise: %s minutes\n", number(bp.AverageExercise))
	fmt.Fprintf(&b, "- Sleep trend: %s\n", label(bp.SleepTrend))
	fmt.Fprintf(&b, "- Exercise streak: %d days\n", bp.ExerciseStreak)

	b.WriteString("\nPersonalized advice:")
	// A missing average counts as zero.
	if value(bp.AverageSleep) < SleepTargetHours {
		b.WriteString("\n- You're averaging less than 7 hours of sleep. Consider prioritizing rest for better productivity.")
	}
	if value(bp.AverageExercise) < ExerciseTargetMinutes {
		b.WriteString("\n- Your exercise routine could be improved. Even 30 minutes daily can boost your energy levels.")
	}
	if active := activeGoals(doc); len(active) > 0 {
		fmt.Fprintf(&b, "\n- Keep going on: %s.", strings.Join(active, ", "))
	}

	if n := len(doc.ConversationContext); n > 0 {
		last := doc.ConversationContext[n-1].User
		if last == "" {
			last = "goals"
		}
		fmt.Fprintf(&b, "\n\nContinuing from our last conversation about your %s...", last)
	}

	return &Response{Content: b.String(), Provider: "rules"}, nil
}

func activeGoals(doc *brain.Document) []string {
	var names []string
	for name, g := range doc.GoalsProgress {
		if g.Status == brain.StatusActive {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func number(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", *v)
}

func label(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
