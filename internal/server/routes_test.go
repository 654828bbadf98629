package server

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/isolation"
	"github.com/lazypower/sanctum/internal/lifecycle"
	"github.com/lazypower/sanctum/internal/records"
	"github.com/lazypower/sanctum/internal/service"
)

func TestProvisionEraseFlow(t *testing.T) {
	env := testServer(t)

	var prov lifecycle.ProvisionReport
	w := env.do(t, "POST", "/api/users/alice", "", &prov)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, prov.IsolationVerified)

	w = env.do(t, "POST", "/api/users/alice", "", &prov)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, prov.SpaceCreated)

	var iso isolation.Report
	w = env.do(t, "GET", "/api/users/alice/isolation", "", &iso)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, iso.Verified)

	var erased lifecycle.EraseReport
	w = env.do(t, "DELETE", "/api/users/alice", "", &erased)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, erased.AllDataDeleted)
	assert.True(t, erased.Existed)

	w = env.do(t, "GET", "/api/users/alice/isolation", "", &iso)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, iso.Verified)
	assert.False(t, iso.DirectoryExists)
}

func TestEraseWhileBusyIsServerError(t *testing.T) {
	env := testServer(t)
	env.do(t, "POST", "/api/users/alice", "", nil)

	unlock, err := env.locks.RLock(context.Background(), "alice")
	require.NoError(t, err)
	defer unlock()

	var body errorBody
	w := env.do(t, "DELETE", "/api/users/alice", "", &body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "erase", body.Kind)
	assert.False(t, body.Retryable)
}

func TestWriteContentionIsRetryable(t *testing.T) {
	env := testServer(t)
	env.do(t, "POST", "/api/users/alice", "", nil)

	unlock, err := env.locks.Lock(context.Background(), "alice")
	require.NoError(t, err)
	defer unlock()

	var body errorBody
	w := env.do(t, "POST", "/api/users/alice/brain/achievements", `{"achievement":"ran 5k"}`, &body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, body.Retryable)
	assert.Equal(t, "write", body.Kind)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestBrainRoutes(t *testing.T) {
	env := testServer(t)
	var doc brain.Document

	w := env.do(t, "GET", "/api/users/alice/brain", "", &doc)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", doc.UserID)
	assert.True(t, doc.IsEmpty())

	steps := []struct {
		method, path, body string
	}{
		{"POST", "/api/users/alice/brain/goals", `{"goal":"run","target":"5k"}`},
		{"PATCH", "/api/users/alice/brain/goals", `{"goal":"run","progress":40}`},
		{"POST", "/api/users/alice/brain/achievements", `{"achievement":"first run"}`},
		{"POST", "/api/users/alice/brain/challenges", `{"challenge":"late nights"}`},
		{"POST", "/api/users/alice/brain/challenges/resolve", `{"challenge":"late nights"}`},
		{"POST", "/api/users/alice/brain/growth-areas", `{"area":"patience"}`},
		{"PUT", "/api/users/alice/brain/personal-info", `{"occupation":"nurse","interests":["running"]}`},
		{"POST", "/api/users/alice/brain/events", `{"type":"note","payload":{"text":"hi"}}`},
	}
	for _, st := range steps {
		w := env.do(t, st.method, st.path, st.body, &doc)
		require.Equal(t, http.StatusOK, w.Code, "%s %s: %s", st.method, st.path, w.Body.String())
	}
	assert.Equal(t, 40, doc.GoalsProgress["run"].Progress)
	assert.Len(t, doc.Achievements, 1)
	require.Len(t, doc.Challenges, 1)
	assert.Equal(t, brain.StatusResolved, doc.Challenges[0].Status)
	require.NotNil(t, doc.PersonalInfo.Occupation)
	assert.Equal(t, "nurse", *doc.PersonalInfo.Occupation)

	var sum brain.Summary
	w = env.do(t, "GET", "/api/users/alice/brain/summary", "", &sum)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sum.ActiveGoals)
	assert.Equal(t, 1, sum.GrowthAreas)

	var ctxBody map[string]string
	w = env.do(t, "GET", "/api/users/alice/brain/context", "", &ctxBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, ctxBody["context"], "patience")

	// Quarantined documents are an operator concern; the user API has no
	// route that exposes them.
	w = env.do(t, "GET", "/api/users/alice/brain/quarantine", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBrainRouteErrors(t *testing.T) {
	env := testServer(t)

	var body errorBody
	w := env.do(t, "PATCH", "/api/users/alice/brain/goals", `{"goal":"ghost","progress":1}`, &body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "POST", "/api/users/alice/brain/goals", `{"goal":""}`, &body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/users/alice/brain/goals", `{"goal":"x","unknown":1}`, &body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/users/alice/brain/goals", `not json`, &body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackingRoutes(t *testing.T) {
	env := testServer(t)

	var habits service.HabitResult
	w := env.do(t, "POST", "/api/users/alice/habits", `{"date":"2024-03-01","sleep_hours":7.5,"exercise_minutes":30}`, &habits)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, habits.Entries, 2)
	assert.Equal(t, 1, habits.Patterns.ExerciseStreak)

	var mood service.MoodResult
	w = env.do(t, "POST", "/api/users/alice/mood", `{"stress_level":4,"happiness_level":7}`, &mood)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, mood.EmotionalPatterns, 1)

	var prod service.ProductivityResult
	w = env.do(t, "POST", "/api/users/alice/productivity", `{"category":"work","tasks_planned":2,"tasks_completed":1}`, &prod)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.InDelta(t, 0.5, prod.Patterns[0].CompletionRate, 1e-9)

	var daily records.DailyLog
	w = env.do(t, "POST", "/api/users/alice/daily", `{"energy_level":6,"notes":"fine"}`, &daily)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotZero(t, daily.ID)

	var body errorBody
	w = env.do(t, "POST", "/api/users/alice/mood", `{"stress_level":12}`, &body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGoalRoutes(t *testing.T) {
	env := testServer(t)

	var g records.Goal
	w := env.do(t, "POST", "/api/users/alice/goals", `{"title":"Read 12 books","category":"learning"}`, &g)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, records.GoalActive, g.Status)

	w = env.do(t, "PATCH", "/api/users/alice/goals/"+itoa(g.ID), `{"progress_percentage":100}`, &g)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 100, g.Progress)

	var goals []records.Goal
	w = env.do(t, "GET", "/api/users/alice/goals?status=active", "", &goals)
	require.Equal(t, http.StatusOK, w.Code)
	for _, goal := range goals {
		assert.Equal(t, records.GoalActive, goal.Status)
	}

	// Bob sees none of alice's goals.
	w = env.do(t, "GET", "/api/users/bob/goals", "", &goals)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, goals)

	var body errorBody
	w = env.do(t, "PATCH", "/api/users/bob/goals/"+itoa(g.ID), `{"progress_percentage":5}`, &body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, "PATCH", "/api/users/bob/goals/abc", `{"progress_percentage":5}`, &body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatRoutes(t *testing.T) {
	env := testServer(t)

	var res service.ChatResult
	w := env.do(t, "POST", "/api/users/alice/chat", `{"message":"how do I sleep better?"}`, &res)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "rest well", res.Response)
	assert.Equal(t, 1, res.ConversationTurns)

	var turns []records.ChatTurn
	w = env.do(t, "GET", "/api/users/alice/chat?limit=10", "", &turns)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, turns, 2)

	w = env.do(t, "GET", "/api/users/bob/chat", "", &turns)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, turns)

	var body errorBody
	w = env.do(t, "GET", "/api/users/alice/chat?limit=many", "", &body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatMentorDown(t *testing.T) {
	env := testServer(t)
	env.mentor.Err = assert.AnError

	var body errorBody
	w := env.do(t, "POST", "/api/users/alice/chat", `{"message":"hello"}`, &body)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	env := testServer(t)
	env.do(t, "POST", "/api/users/alice/habits", `{"sleep_hours":8}`, nil)

	var in service.Insights
	w := env.do(t, "GET", "/api/users/alice/analytics?window=7", "", &in)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 7, in.Records.WindowDays)
	assert.Equal(t, 1, in.Brain.HabitsTracked)

	var snap []records.Metric
	w = env.do(t, "POST", "/api/users/alice/analytics/snapshot", "", &snap)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, snap, 3)

	var hist []records.Metric
	w = env.do(t, "GET", "/api/users/alice/analytics/metrics/average_sleep", "", &hist)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, hist, 1)
	assert.InDelta(t, 8.0, *hist[0].Value, 1e-9)

	var body errorBody
	w = env.do(t, "GET", "/api/users/alice/analytics?window=0x", "", &body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
