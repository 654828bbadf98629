package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/fault"
	"github.com/lazypower/sanctum/internal/records"
	"github.com/lazypower/sanctum/internal/service"
)

var errBadRequest = errors.New("bad request")

func userID(r *http.Request) string { return chi.URLParam(r, "userID") }

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, key)
	}
	return n, nil
}

// Lifecycle

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	report, err := s.Lifecycle.Provision(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, fault.ErrProvisioning) && report != nil {
			s.writeErrorDetail(w, r, err, report)
			return
		}
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if report.SpaceCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, report)
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	report, err := s.Lifecycle.Erase(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleIsolation(w http.ResponseWriter, r *http.Request) {
	report, err := s.Verifier.Verify(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Brain

func (s *Server) handleBrain(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Brain.Load(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleBrainSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Brain.Summary(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleBrainContext(w http.ResponseWriter, r *http.Request) {
	text, err := s.Brain.PromptContext(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": text})
}

// brainMutation decodes req and applies it, answering with the updated
// document.
func brainMutation[T any](s *Server, apply func(r *http.Request, req T) (*brain.Document, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		doc, err := apply(r, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func (s *Server) handleLearningEvent(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}) (*brain.Document, error) {
		return s.Brain.AppendLearningEvent(r.Context(), userID(r), req.Type, req.Payload)
	})(w, r)
}

func (s *Server) handleBrainGoal(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req struct {
		Goal   string `json:"goal"`
		Target string `json:"target"`
	}) (*brain.Document, error) {
		return s.Brain.SetGoal(r.Context(), userID(r), req.Goal, req.Target)
	})(w, r)
}

func (s *Server) handleBrainGoalProgress(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req struct {
		Goal     string `json:"goal"`
		Progress int    `json:"progress"`
	}) (*brain.Document, error) {
		return s.Brain.UpdateGoalProgress(r.Context(), userID(r), req.Goal, req.Progress)
	})(w, r)
}

func (s *Server) handleAchievement(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req struct {
		Achievement string `json:"achievement"`
	}) (*brain.Document, error) {
		return s.Brain.AddAchievement(r.Context(), userID(r), req.Achievement)
	})(w, r)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req struct {
		Challenge string `json:"challenge"`
	}) (*brain.Document, error) {
		return s.Brain.AddChallenge(r.Context(), userID(r), req.Challenge)
	})(w, r)
}

func (s *Server) handleResolveChallenge(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req struct {
		Challenge string `json:"challenge"`
	}) (*brain.Document, error) {
		return s.Brain.ResolveChallenge(r.Context(), userID(r), req.Challenge)
	})(w, r)
}

func (s *Server) handleGrowthArea(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req struct {
		Area string `json:"area"`
	}) (*brain.Document, error) {
		return s.Brain.AddGrowthArea(r.Context(), userID(r), req.Area)
	})(w, r)
}

func (s *Server) handlePersonalInfo(w http.ResponseWriter, r *http.Request) {
	brainMutation(s, func(r *http.Request, req brain.PersonalInfo) (*brain.Document, error) {
		return s.Brain.UpdatePersonalInfo(r.Context(), userID(r), req)
	})(w, r)
}

// Tracking

func (s *Server) handleHabits(w http.ResponseWriter, r *http.Request) {
	var req service.HabitLog
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Service.LogHabits(r.Context(), userID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleMood(w http.ResponseWriter, r *http.Request) {
	var req service.MoodLog
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Service.LogMood(r.Context(), userID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleProductivity(w http.ResponseWriter, r *http.Request) {
	var req service.ProductivityLog
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Service.LogProductivity(r.Context(), userID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date              string `json:"date"`
		MoodRating        *int   `json:"mood_rating"`
		EnergyLevel       *int   `json:"energy_level"`
		ProductivityScore *int   `json:"productivity_score"`
		Notes             string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.Service.LogDaily(r.Context(), userID(r), records.DailyLog{
		Date:              req.Date,
		MoodRating:        req.MoodRating,
		EnergyLevel:       req.EnergyLevel,
		ProductivityScore: req.ProductivityScore,
		Notes:             req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// Goals

func (s *Server) handleAddGoal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Category    string  `json:"category"`
		Priority    int     `json:"priority"`
		TargetDate  *string `json:"target_date"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.Records.AddGoal(r.Context(), userID(r), records.Goal{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		TargetDate:  req.TargetDate,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.Records.ListGoals(r.Context(), userID(r), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if goals == nil {
		goals = []records.Goal{}
	}
	writeJSON(w, http.StatusOK, goals)
}

func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "goalID"), 10, 64)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: goal id must be an integer", errBadRequest))
		return
	}
	var req struct {
		Progress int `json:"progress_percentage"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.Records.UpdateGoalProgress(r.Context(), userID(r), id, req.Progress)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// Chat

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Service.Chat(r.Context(), userID(r), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	turns, err := s.Service.ChatHistory(r.Context(), userID(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []records.ChatTurn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

// Analytics

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	window, err := queryInt(r, "window")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.Service.Analytics(r.Context(), userID(r), window)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleSnapshotMetrics(w http.ResponseWriter, r *http.Request) {
	out, err := s.Service.SnapshotMetrics(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleMetricHistory(w http.ResponseWriter, r *http.Request) {
	out, err := s.Service.MetricHistory(r.Context(), userID(r), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []records.Metric{}
	}
	writeJSON(w, http.StatusOK, out)
}
