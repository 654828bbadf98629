package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Summary is a compact view of a document for dashboards.
type Summary struct {
	UserID           string           `json:"user_id"`
	DataPoints       int              `json:"data_points"`
	HabitsTracked    int              `json:"habits_tracked"`
	Conversations    int              `json:"conversations"`
	ActiveGoals      int              `json:"active_goals"`
	Achievements     int              `json:"achievements"`
	ActiveChallenges int              `json:"challenges"`
	GrowthAreas      int              `json:"growth_areas"`
	LastUpdated      time.Time        `json:"last_updated"`
	BehaviorInsights BehaviorPatterns `json:"behavior_insights"`
}

// Summarize counts what the document holds.
func (d *Document) Summarize() Summary {
	s := Summary{
		UserID:           d.UserID,
		DataPoints:       len(d.LearningHistory),
		HabitsTracked:    len(d.HabitMemory),
		Conversations:    len(d.ConversationContext),
		Achievements:     len(d.Achievements),
		GrowthAreas:      len(d.GrowthAreas),
		LastUpdated:      d.LastUpdated,
		BehaviorInsights: d.BehaviorPatterns,
	}
	for _, g := range d.GoalsProgress {
		if g.Status == StatusActive {
			s.ActiveGoals++
		}
	}
	for _, c := range d.Challenges {
		if c.Status == StatusActive {
			s.ActiveChallenges++
		}
	}
	return s
}

// Summary loads the user's document and summarizes it.
func (s *Store) Summary(ctx context.Context, userID string) (Summary, error) {
	d, err := s.Load(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	return d.Summarize(), nil
}

// PromptContext renders the document as context for a mentor prompt: the
// derived patterns, the last week of habits, the last five exchanges and
// the user's goals, achievements, challenges and growth areas.
func (d *Document) PromptContext() string {
	habits := d.sortedHabits()
	if len(habits) > trendSpan {
		habits = habits[len(habits)-trendSpan:]
	}
	recent := make(map[string]HabitSnapshot, len(habits))
	for _, h := range habits {
		recent[h.date.Format(dateLayout)] = h.snap
	}

	turns := d.ConversationContext
	if len(turns) > 5 {
		turns = turns[len(turns)-5:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "USER CONTEXT (private to this user)\n")
	fmt.Fprintf(&b, "Member since: %s\n", d.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Last updated: %s\n", d.LastUpdated.Format(time.RFC3339))
	section(&b, "BEHAVIOR PATTERNS", d.BehaviorPatterns)
	section(&b, "RECENT HABITS", recent)
	section(&b, "RECENT CONVERSATION", turns)
	section(&b, "GOALS", d.GoalsProgress)
	section(&b, "ACHIEVEMENTS", d.Achievements)
	section(&b, "CHALLENGES", d.Challenges)
	section(&b, "GROWTH AREAS", d.GrowthAreas)
	return b.String()
}

func section(b *strings.Builder, title string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte("null")
	}
	fmt.Fprintf(b, "\n%s:\n%s\n", title, data)
}

// PromptContext loads the user's document and renders it for a prompt.
func (s *Store) PromptContext(ctx context.Context, userID string) (string, error) {
	d, err := s.Load(ctx, userID)
	if err != nil {
		return "", err
	}
	return d.PromptContext(), nil
}
