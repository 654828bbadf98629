package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidInput is returned when a helper is given unusable arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrGoalNotFound is returned when progress is reported for an unknown goal.
	ErrGoalNotFound = errors.New("goal not found")
	// ErrChallengeNotFound is returned when resolving a challenge that is not active.
	ErrChallengeNotFound = errors.New("challenge not found")
)

// Mood is a mood check-in. Levels are on a 1-10 scale.
type Mood struct {
	Stress    *int   `json:"stress_level"`
	Happiness *int   `json:"happiness_level"`
	Energy    *int   `json:"energy_level"`
	Notes     string `json:"notes,omitempty"`
}

// Productivity is one day's task and focus report.
type Productivity struct {
	TasksPlanned   int    `json:"tasks_planned"`
	TasksCompleted int    `json:"tasks_completed"`
	FocusMinutes   *int   `json:"focus_time_minutes"`
	Category       string `json:"category,omitempty"`
}

// AppendLearningEvent records an arbitrary event in learning_history.
func (s *Store) AppendLearningEvent(ctx context.Context, userID, eventType string, payload any) (*Document, error) {
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidInput)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		d.LearningHistory = append(d.LearningHistory, s.event(eventType, raw))
		return nil
	})
}

// SetHabitSnapshot stores the habit snapshot for date (YYYY-MM-DD), replacing
// any earlier snapshot for the same date.
func (s *Store) SetHabitSnapshot(ctx context.Context, userID, date string, snap HabitSnapshot) (*Document, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, date)
	}
	raw, err := marshalPayload(struct {
		Date string `json:"date"`
		HabitSnapshot
	}{date, snap})
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		d.LearningHistory = append(d.LearningHistory, s.event(EventHabit, raw))
		d.HabitMemory[date] = snap
		return nil
	})
}

// RecordMood appends a mood check-in to the history and emotional patterns.
func (s *Store) RecordMood(ctx context.Context, userID string, m Mood) (*Document, error) {
	raw, err := marshalPayload(m)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		d.LearningHistory = append(d.LearningHistory, s.event(EventMood, raw))
		d.BehaviorPatterns.EmotionalPatterns = appendMood(d.BehaviorPatterns.EmotionalPatterns, MoodSample{
			Date:      s.now(),
			Stress:    m.Stress,
			Happiness: m.Happiness,
			Energy:    m.Energy,
		})
		return nil
	})
}

// RecordProductivity appends a productivity report to the history and
// productivity patterns.
func (s *Store) RecordProductivity(ctx context.Context, userID string, p Productivity) (*Document, error) {
	if p.TasksPlanned < 0 || p.TasksCompleted < 0 {
		return nil, fmt.Errorf("%w: task counts must not be negative", ErrInvalidInput)
	}
	raw, err := marshalPayload(p)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		d.LearningHistory = append(d.LearningHistory, s.event(EventProductivity, raw))
		d.BehaviorPatterns.ProductivityPatterns = appendProductivity(d.BehaviorPatterns.ProductivityPatterns, ProductivitySample{
			Date:           s.now(),
			TasksCompleted: p.TasksCompleted,
			CompletionRate: float64(p.TasksCompleted) / float64(max(p.TasksPlanned, 1)),
			FocusMinutes:   p.FocusMinutes,
		})
		return nil
	})
}

// PushConversationTurn adds an exchange to the conversation ring buffer,
// evicting the oldest turns beyond the configured cap.
func (s *Store) PushConversationTurn(ctx context.Context, userID, userMsg, aiMsg string) (*Document, error) {
	return s.Update(ctx, userID, func(d *Document) error {
		d.ConversationContext = append(d.ConversationContext, ConversationTurn{
			Timestamp: s.now(),
			User:      userMsg,
			AI:        aiMsg,
		})
		if over := len(d.ConversationContext) - s.opts.ConversationCap; over > 0 {
			d.ConversationContext = append([]ConversationTurn(nil), d.ConversationContext[over:]...)
		}
		return nil
	})
}

// SetGoal starts (or restarts) tracking goal with the given target.
func (s *Store) SetGoal(ctx context.Context, userID, goal, target string) (*Document, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: goal is required", ErrInvalidInput)
	}
	raw, err := marshalPayload(map[string]string{"goal": goal, "target": target})
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		d.LearningHistory = append(d.LearningHistory, s.event(EventGoal, raw))
		d.GoalsProgress[goal] = GoalProgress{
			Target:  target,
			SetDate: s.now(),
			Status:  StatusActive,
		}
		return nil
	})
}

// UpdateGoalProgress sets progress (clamped to 0-100) on an existing goal.
// Reaching 100 marks the goal completed.
func (s *Store) UpdateGoalProgress(ctx context.Context, userID, goal string, progress int) (*Document, error) {
	progress = min(max(progress, 0), 100)
	return s.Update(ctx, userID, func(d *Document) error {
		g, ok := d.GoalsProgress[goal]
		if !ok {
			return fmt.Errorf("%w: %q", ErrGoalNotFound, goal)
		}
		g.Progress = progress
		if progress == 100 {
			g.Status = StatusCompleted
		} else {
			g.Status = StatusActive
		}
		d.GoalsProgress[goal] = g
		return nil
	})
}

func (s *Store) AddAchievement(ctx context.Context, userID, achievement string) (*Document, error) {
	achievement = strings.TrimSpace(achievement)
	if achievement == "" {
		return nil, fmt.Errorf("%w: achievement is required", ErrInvalidInput)
	}
	raw, err := marshalPayload(map[string]string{"achievement": achievement})
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		d.LearningHistory = append(d.LearningHistory, s.event(EventAchievement, raw))
		d.Achievements = append(d.Achievements, Achievement{Achievement: achievement, Date: s.now()})
		return nil
	})
}

func (s *Store) AddChallenge(ctx context.Context, userID, challenge string) (*Document, error) {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		return nil, fmt.Errorf("%w: challenge is required", ErrInvalidInput)
	}
	raw, err := marshalPayload(map[string]string{"challenge": challenge})
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		d.LearningHistory = append(d.LearningHistory, s.event(EventChallenge, raw))
		d.Challenges = append(d.Challenges, Challenge{
			Challenge:      challenge,
			IdentifiedDate: s.now(),
			Status:         StatusActive,
		})
		return nil
	})
}

// ResolveChallenge marks the oldest active challenge with this text resolved.
func (s *Store) ResolveChallenge(ctx context.Context, userID, challenge string) (*Document, error) {
	return s.Update(ctx, userID, func(d *Document) error {
		for i := range d.Challenges {
			c := &d.Challenges[i]
			if c.Challenge == challenge && c.Status == StatusActive {
				now := s.now()
				c.Status = StatusResolved
				c.ResolvedDate = &now
				return nil
			}
		}
		return fmt.Errorf("%w: %q", ErrChallengeNotFound, challenge)
	})
}

// AddGrowthArea notes an area to work on. Adding an area already present is
// a no-op apart from the save.
func (s *Store) AddGrowthArea(ctx context.Context, userID, area string) (*Document, error) {
	area = strings.TrimSpace(area)
	if area == "" {
		return nil, fmt.Errorf("%w: area is required", ErrInvalidInput)
	}
	return s.Update(ctx, userID, func(d *Document) error {
		for _, g := range d.GrowthAreas {
			if strings.EqualFold(g.Area, area) {
				return nil
			}
		}
		d.GrowthAreas = append(d.GrowthAreas, GrowthArea{Area: area, NotedAt: s.now()})
		return nil
	})
}

// UpdatePersonalInfo merges the set fields of info into the profile. Nil
// pointers and nil slices leave the stored value alone.
func (s *Store) UpdatePersonalInfo(ctx context.Context, userID string, info PersonalInfo) (*Document, error) {
	raw, err := marshalPayload(info)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, userID, func(d *Document) error {
		p := &d.PersonalInfo
		mergeString(&p.FullName, info.FullName)
		mergeString(&p.Gender, info.Gender)
		mergeString(&p.Occupation, info.Occupation)
		mergeString(&p.Location, info.Location)
		mergeString(&p.Timezone, info.Timezone)
		mergeString(&p.PreferredCommunicationStyle, info.PreferredCommunicationStyle)
		mergeString(&p.MotivationType, info.MotivationType)
		mergeString(&p.WorkStyle, info.WorkStyle)
		mergeString(&p.WhyUsingApp, info.WhyUsingApp)
		mergeString(&p.CustomNotes, info.CustomNotes)
		if info.Age != nil {
			p.Age = info.Age
		}
		if info.PrimaryGoals != nil {
			p.PrimaryGoals = info.PrimaryGoals
		}
		if info.Interests != nil {
			p.Interests = info.Interests
		}
		if info.Challenges != nil {
			p.Challenges = info.Challenges
		}

		now := s.now()
		if p.CollectedAt == nil {
			p.CollectedAt = &now
		}
		p.LastUpdated = &now
		d.LearningHistory = append(d.LearningHistory, s.event(EventProfile, raw))
		return nil
	})
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = src
	}
}

func (s *Store) event(eventType string, payload json.RawMessage) LearningEvent {
	return LearningEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: s.now(),
		Payload:   payload,
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidInput, err)
	}
	return raw, nil
}
