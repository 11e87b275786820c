package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/store"
)

// historyLimit is the number of finished jobs returned by /api/jobs
const historyLimit = 20

// APIPreset is the JSON form of a preset, moving averages are keyed by "ma_N" slot
type APIPreset struct {
	ID             int64                          `json:"id"`
	Title          string                         `json:"title"`
	Description    string                         `json:"description"`
	URL            string                         `json:"url"`
	Period         string                         `json:"period"`
	Range          string                         `json:"range"`
	MovingAverages map[string]chart.MovingAverage `json:"moving_averages"`
	Schedule       string                         `json:"schedule,omitempty"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

// presetRequest is the body of preset create and update
type presetRequest struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	URL            string          `json:"url"`
	Period         string          `json:"period"`
	Range          string          `json:"range"`
	MovingAverages json.RawMessage `json:"moving_averages"`
	Schedule       string          `json:"schedule"`
}

// APIJob is a job in the history list
type APIJob struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Status       string     `json:"status"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	Charts       int        `json:"charts"`
	Error        string     `json:"error,omitempty"`
	Active       bool       `json:"active"`       // job is kept in memory, status is live
	Downloadable bool       `json:"downloadable"` // report can still be downloaded
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// settingsRequest is the body of update_settings
type settingsRequest struct {
	TelegramToken  string `json:"telegram_bot_token"`
	TelegramChatID string `json:"telegram_chat_id"`
}

// handleListPresets returns presets of the current user
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return
	}
	presets, err := s.store.ListPresets(r.Context(), user.ID)
	if err != nil {
		log.Printf("[ERROR] failed to list presets of %s: %v", user.Username, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load presets")
		return
	}
	res := make([]APIPreset, 0, len(presets))
	for _, p := range presets {
		res = append(res, toAPIPreset(p))
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleCreatePreset saves a new preset
func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return
	}
	p, err := s.decodePreset(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.UserID = user.ID
	created, err := s.store.CreatePreset(r.Context(), p)
	if err != nil {
		log.Printf("[ERROR] failed to create preset for %s: %v", user.Username, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to save preset")
		return
	}
	log.Printf("[INFO] preset %d %q created by %s", created.ID, created.Title, user.Username)
	s.presetsChanged(created.Schedule != "")
	s.writeJSON(w, http.StatusCreated, toAPIPreset(created))
}

// handleUpdatePreset replaces a preset of the current user
func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid preset id")
		return
	}
	old, err := s.store.GetPreset(r.Context(), user.ID, id)
	if err != nil {
		s.presetError(w, err)
		return
	}
	p, err := s.decodePreset(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.ID, p.UserID = id, user.ID
	updated, err := s.store.UpdatePreset(r.Context(), p)
	if err != nil {
		s.presetError(w, err)
		return
	}
	s.presetsChanged(old.Schedule != "" || updated.Schedule != "")
	s.writeJSON(w, http.StatusOK, toAPIPreset(updated))
}

// handleDeletePreset removes a preset of the current user
func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid preset id")
		return
	}
	if err := s.store.DeletePreset(r.Context(), user.ID, id); err != nil {
		s.presetError(w, err)
		return
	}
	log.Printf("[INFO] preset %d deleted by %s", id, user.Username)
	s.presetsChanged(true)
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleUpdateSettings stores telegram bot token and chat id of the current user, empty values disable telegram
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, chatID := strings.TrimSpace(req.TelegramToken), strings.TrimSpace(req.TelegramChatID)
	if (token == "") != (chatID == "") {
		s.writeJSONError(w, http.StatusBadRequest, "both bot token and chat id are required")
		return
	}
	if token != "" && !strings.Contains(token, ":") {
		s.writeJSONError(w, http.StatusBadRequest, "invalid bot token")
		return
	}
	if err := s.store.UpdateTelegram(r.Context(), user.ID, token, chatID); err != nil {
		log.Printf("[ERROR] failed to update settings of %s: %v", user.Username, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	log.Printf("[INFO] telegram settings of %s updated, enabled: %v", user.Username, token != "")
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Settings saved"})
}

// handleListJobs returns live jobs of the current user followed by finished jobs from history
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.recentJobs(r.Context(), user))
}

// recentJobs returns live jobs of the user followed by the stored history, without duplicates
func (s *Server) recentJobs(ctx context.Context, user store.User) []APIJob {
	res := []APIJob{}
	seen := map[string]bool{}
	for _, j := range s.jobs.List(user.ID) {
		seen[j.ID] = true
		res = append(res, APIJob{
			ID: j.ID, URL: j.URL, Status: j.Status.String(), Total: j.Total, Processed: j.Processed,
			Charts: j.Charts, Error: j.Error, Active: true, Downloadable: j.Status.HasReport() && j.Charts > 0,
			StartedAt: timePtr(j.StartedAt), FinishedAt: timePtr(j.FinishedAt),
		})
	}

	history, err := s.store.ListJobs(ctx, user.ID, historyLimit)
	if err != nil {
		log.Printf("[WARN] failed to load job history of %s: %v", user.Username, err)
	}
	for _, j := range history {
		if seen[j.ID] {
			continue
		}
		res = append(res, APIJob{
			ID: j.ID, URL: j.URL, Status: j.Status.String(), Total: j.Total, Processed: j.Processed,
			Charts: j.Charts, Error: j.Error, StartedAt: timePtr(j.StartedAt), FinishedAt: timePtr(j.FinishedAt),
		})
	}
	return res
}

// Started returns start time, zero if the job has not started
func (j APIJob) Started() time.Time {
	if j.StartedAt == nil {
		return time.Time{}
	}
	return *j.StartedAt
}

// Elapsed returns run time of a finished job, zero otherwise
func (j APIJob) Elapsed() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// decodePreset reads and validates preset request body
func (s *Server) decodePreset(r *http.Request) (store.Preset, error) {
	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return store.Preset{}, errors.New("invalid request body")
	}
	res := store.Preset{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		URL:         strings.TrimSpace(req.URL),
		Period:      req.Period,
		Range:       req.Range,
		Schedule:    strings.TrimSpace(req.Schedule),
	}
	if res.Title == "" {
		return store.Preset{}, errors.New("title is required")
	}
	if err := validateScanURL(res.URL); err != nil {
		return store.Preset{}, err
	}
	if res.Period == "" {
		res.Period = s.defaults.Period
	}
	if res.Range == "" {
		res.Range = s.defaults.Range
	}
	if !hasOption(chart.Periods, res.Period) {
		return store.Preset{}, fmt.Errorf("unknown period %q", res.Period)
	}
	if !hasOption(chart.Ranges, res.Range) {
		return store.Preset{}, fmt.Errorf("unknown range %q", res.Range)
	}
	if res.Schedule != "" {
		if _, err := cron.ParseStandard(res.Schedule); err != nil {
			return store.Preset{}, fmt.Errorf("invalid schedule %q: %w", res.Schedule, err)
		}
	}
	mas, err := parseMovingAverages(req.MovingAverages)
	if err != nil {
		return store.Preset{}, err
	}
	res.MovingAverages = mas
	return res, nil
}

func (s *Server) presetError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "Preset not found")
		return
	}
	log.Printf("[ERROR] preset operation failed: %v", err)
	s.writeJSONError(w, http.StatusInternalServerError, "preset operation failed")
}

// presetsChanged reloads the scheduler if a scheduled preset was touched
func (s *Server) presetsChanged(scheduled bool) {
	if s.scheduler != nil && scheduled {
		s.scheduler.Reload()
	}
}

// apiUser returns the current user or writes 401
func (s *Server) apiUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	user, ok := userFrom(r)
	if !ok {
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	}
	return user, ok
}

func toAPIPreset(p store.Preset) APIPreset {
	return APIPreset{
		ID: p.ID, Title: p.Title, Description: p.Description, URL: p.URL, Period: p.Period, Range: p.Range,
		MovingAverages: chart.ToSlots(p.MovingAverages), Schedule: p.Schedule, UpdatedAt: p.UpdatedAt,
	}
}

func hasOption(opts []chart.Option, label string) bool {
	for _, o := range opts {
		if o.Label == label {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
