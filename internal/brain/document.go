package brain

import (
	"encoding/json"
	"time"
)

const (
	// SchemaVersion is stamped on every document this package writes.
	SchemaVersion = "2.0"

	// DefaultConversationCap bounds conversation_context.
	DefaultConversationCap = 20

	// DefaultPatternWindow is how many recent habit snapshots feed the
	// rolling averages. Streaks are never windowed.
	DefaultPatternWindow = 30

	// trendSpan is how many recent snapshots a trend label looks across, and
	// minTrendSnapshots how many must exist before a label is emitted.
	trendSpan         = 7
	minTrendSnapshots = 3

	// maxPatternSamples bounds the mood and productivity sample lists kept in
	// behavior_patterns.
	maxPatternSamples = 90

	dateLayout = "2006-01-02"
)

// Document is the learned-state record for one user.
type Document struct {
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	Version      string    `json:"version"`
	PrivacyLevel string    `json:"privacy_level"`

	PersonalInfo        PersonalInfo             `json:"personal_info"`
	LearningHistory     []LearningEvent          `json:"learning_history"`
	BehaviorPatterns    BehaviorPatterns         `json:"behavior_patterns"`
	HabitMemory         map[string]HabitSnapshot `json:"habit_memory"`
	ConversationContext []ConversationTurn       `json:"conversation_context"`
	GoalsProgress       map[string]GoalProgress  `json:"goals_progress"`
	Achievements        []Achievement            `json:"achievements"`
	Challenges          []Challenge              `json:"challenges"`
	GrowthAreas         []GrowthArea             `json:"growth_areas"`

	// Extra holds fields this version does not model. They are carried
	// through load and save untouched.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// PersonalInfo is the free-form profile. Every field is optional.
type PersonalInfo struct {
	FullName                    *string    `json:"full_name"`
	Age                         *int       `json:"age"`
	Gender                      *string    `json:"gender"`
	Occupation                  *string    `json:"occupation"`
	Location                    *string    `json:"location"`
	Timezone                    *string    `json:"timezone"`
	PrimaryGoals                []string   `json:"primary_goals"`
	Interests                   []string   `json:"interests"`
	Challenges                  []string   `json:"challenges"`
	PreferredCommunicationStyle *string    `json:"preferred_communication_style"`
	MotivationType              *string    `json:"motivation_type"`
	WorkStyle                   *string    `json:"work_style"`
	WhyUsingApp                 *string    `json:"why_using_app"`
	CustomNotes                 *string    `json:"custom_notes"`
	CollectedAt                 *time.Time `json:"collected_at"`
	LastUpdated                 *time.Time `json:"last_updated"`
}

// LearningEvent is one entry of the append-only learning history.
type LearningEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Learning event types written by the helpers.
const (
	EventHabit        = "habit"
	EventMood         = "mood"
	EventProductivity = "productivity"
	EventGoal         = "goal"
	EventAchievement  = "achievement"
	EventChallenge    = "challenge"
	EventProfile      = "profile"
)

// HabitSnapshot is the latest habit record for one date.
type HabitSnapshot struct {
	SleepHours        *float64 `json:"sleep_hours"`
	ExerciseMinutes   *float64 `json:"exercise_minutes"`
	MeditationMinutes *float64 `json:"meditation_minutes"`
	ReadingMinutes    *float64 `json:"reading_minutes"`
}

// BehaviorPatterns is derived state. It is recomputed from habit_memory and
// the mood/productivity inputs and is never edited directly.
type BehaviorPatterns struct {
	AverageSleep         *float64             `json:"average_sleep,omitempty"`
	AverageExercise      *float64             `json:"average_exercise,omitempty"`
	SleepTrend           string               `json:"sleep_trend,omitempty"`
	ExerciseTrend        string               `json:"exercise_trend,omitempty"`
	ExerciseStreak       int                  `json:"exercise_streak"`
	EmotionalPatterns    []MoodSample         `json:"emotional_patterns,omitempty"`
	ProductivityPatterns []ProductivitySample `json:"productivity_patterns,omitempty"`
}

// MoodSample is one mood reading kept for pattern analysis.
type MoodSample struct {
	Date      time.Time `json:"date"`
	Stress    *int      `json:"stress"`
	Happiness *int      `json:"happiness"`
	Energy    *int      `json:"energy"`
}

// ProductivitySample is one productivity reading kept for pattern analysis.
type ProductivitySample struct {
	Date           time.Time `json:"date"`
	TasksCompleted int       `json:"tasks_completed"`
	CompletionRate float64   `json:"completion_rate"`
	FocusMinutes   *int      `json:"focus_time"`
}

// ConversationTurn is one exchange with the mentor.
type ConversationTurn struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	AI        string    `json:"ai"`
}

// GoalProgress tracks one goal set in the brain.
type GoalProgress struct {
	Target   string    `json:"target"`
	SetDate  time.Time `json:"set_date"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
}

// Goal and challenge statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusResolved  = "resolved"
)

type Achievement struct {
	Achievement string    `json:"achievement"`
	Date        time.Time `json:"date"`
}

type Challenge struct {
	Challenge      string     `json:"challenge"`
	IdentifiedDate time.Time  `json:"identified_date"`
	Status         string     `json:"status"`
	ResolvedDate   *time.Time `json:"resolved_date,omitempty"`
}

type GrowthArea struct {
	Area    string    `json:"area"`
	NotedAt time.Time `json:"noted_at"`
}

// NewDocument returns an empty document owned by userID.
func NewDocument(userID string, now time.Time) *Document {
	d := &Document{
		UserID:       userID,
		CreatedAt:    now,
		LastUpdated:  now,
		Version:      SchemaVersion,
		PrivacyLevel: "private",
	}
	d.normalize()
	return d
}

// normalize replaces nil collections with empty ones so a document encodes
// the same way whether it was just created or read back from disk.
func (d *Document) normalize() {
	if d.LearningHistory == nil {
		d.LearningHistory = []LearningEvent{}
	}
	if d.HabitMemory == nil {
		d.HabitMemory = map[string]HabitSnapshot{}
	}
	if d.ConversationContext == nil {
		d.ConversationContext = []ConversationTurn{}
	}
	if d.GoalsProgress == nil {
		d.GoalsProgress = map[string]GoalProgress{}
	}
	if d.Achievements == nil {
		d.Achievements = []Achievement{}
	}
	if d.Challenges == nil {
		d.Challenges = []Challenge{}
	}
	if d.GrowthAreas == nil {
		d.GrowthAreas = []GrowthArea{}
	}
	if d.PersonalInfo.PrimaryGoals == nil {
		d.PersonalInfo.PrimaryGoals = []string{}
	}
	if d.PersonalInfo.Interests == nil {
		d.PersonalInfo.Interests = []string{}
	}
	if d.PersonalInfo.Challenges == nil {
		d.PersonalInfo.Challenges = []string{}
	}
	if d.Version == "" {
		d.Version = SchemaVersion
	}
	if d.PrivacyLevel == "" {
		d.PrivacyLevel = "private"
	}
}

var documentFields = map[string]bool{
	"user_id": true, "created_at": true, "last_updated": true, "version": true,
	"privacy_level": true, "personal_info": true, "learning_history": true,
	"behavior_patterns": true, "habit_memory": true, "conversation_context": true,
	"goals_progress": true, "achievements": true, "challenges": true,
	"growth_areas": true, "extra": true,
}

// decode parses a stored document. Top-level keys the struct does not model
// are moved into Extra rather than dropped.
func decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		if documentFields[k] {
			continue
		}
		if doc.Extra == nil {
			doc.Extra = map[string]json.RawMessage{}
		}
		if _, ok := doc.Extra[k]; !ok {
			doc.Extra[k] = v
		}
	}
	doc.normalize()
	return &doc, nil
}

// IsEmpty reports whether the document holds no user data yet.
func (d *Document) IsEmpty() bool {
	return len(d.LearningHistory) == 0 &&
		len(d.HabitMemory) == 0 &&
		len(d.ConversationContext) == 0 &&
		len(d.GoalsProgress) == 0 &&
		len(d.Achievements) == 0 &&
		len(d.Challenges) == 0 &&
		len(d.GrowthAreas) == 0
}
