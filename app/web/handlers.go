package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/jobs"
	"github.com/umputun/chartreport/app/report"
	"github.com/umputun/chartreport/app/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// generationRequest is the body of start_generation. Both url and screener_url are accepted.
type generationRequest struct {
	URL            string          `json:"url"`
	ScreenerURL    string          `json:"screener_url"`
	Period         string          `json:"period"`
	Range          string          `json:"range"`
	MovingAverages json.RawMessage `json:"moving_averages"`
	PresetID       int64           `json:"preset_id"`
	Capture        string          `json:"capture"`
}

// statusResponse is the job progress polled by the dashboard
type statusResponse struct {
	Status         string `json:"status"`
	Total          int    `json:"total"`
	Processed      int    `json:"processed"`
	CurrentCompany string `json:"current_company"`
	Error          string `json:"error,omitempty"`   // set for failed jobs only
	Warning        string `json:"warning,omitempty"` // problems of a job which still produced a report
	Charts         int    `json:"charts"`
	TelegramSent   bool   `json:"telegram_sent"`
	HasIndex       bool   `json:"has_index"`
}

// handleDashboard renders the main page
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	data := s.newTemplateData(user)
	data.Jobs = s.recentJobs(r.Context(), user)
	s.render(w, http.StatusOK, "dashboard.html", data)
}

// handleStartGeneration submits a report job for the current user
func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return
	}

	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jreq, err := s.makeJobRequest(r, user, req)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.jobs.Submit(jreq)
	if errors.Is(err, jobs.ErrDuplicate) {
		s.writeJSONError(w, http.StatusConflict, "the same scan is already running")
		return
	}
	if err != nil {
		log.Printf("[WARN] failed to submit job for %s: %v", user.Username, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to start job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": id})
}

// makeJobRequest builds job request from the body, values missing in the body are taken from the preset
func (s *Server) makeJobRequest(r *http.Request, user store.User, req generationRequest) (jobs.Request, error) {
	res := jobs.Request{UserID: user.ID, URL: req.URL, PresetID: req.PresetID, Source: "web"}
	if res.URL == "" {
		res.URL = req.ScreenerURL
	}
	res.Settings.Period, res.Settings.Range = req.Period, req.Range

	mas, err := parseMovingAverages(req.MovingAverages)
	if err != nil {
		return jobs.Request{}, err
	}
	res.Settings.MovingAverages = mas

	if req.PresetID != 0 {
		p, err := s.store.GetPreset(r.Context(), user.ID, req.PresetID)
		if err != nil {
			return jobs.Request{}, fmt.Errorf("preset %d not found", req.PresetID)
		}
		if res.URL == "" {
			res.URL = p.URL
		}
		if res.Settings.Period == "" {
			res.Settings.Period = p.Period
		}
		if res.Settings.Range == "" {
			res.Settings.Range = p.Range
		}
		if len(req.MovingAverages) == 0 || string(req.MovingAverages) == "null" {
			res.Settings.MovingAverages = p.MovingAverages
		}
	}

	if err := validateScanURL(res.URL); err != nil {
		return jobs.Request{}, err
	}
	if res.Settings.Period == "" {
		res.Settings.Period = s.defaults.Period
	}
	if res.Settings.Range == "" {
		res.Settings.Range = s.defaults.Range
	}
	if res.Settings.Capture, err = enums.ParseCapture(req.Capture); err != nil {
		return jobs.Request{}, err
	}
	if req.Capture == "" {
		res.Settings.Capture = s.defaults.Capture
	}
	return res, nil
}

// parseMovingAverages accepts either "ma_N" keyed object or a positional list
func parseMovingAverages(raw json.RawMessage) ([]chart.MovingAverage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var res []chart.MovingAverage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("invalid moving averages: %w", err)
		}
	case '{':
		slots := map[string]chart.MovingAverage{}
		if err := json.Unmarshal(raw, &slots); err != nil {
			return nil, fmt.Errorf("invalid moving averages: %w", err)
		}
		var err error
		if res, err = chart.FromSlots(slots); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("invalid moving averages, object or list expected")
	}
	if err := chart.Validate(res); err != nil {
		return nil, err
	}
	return res, nil
}

func validateScanURL(s string) error {
	if s == "" {
		return errors.New("scan url is required")
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid scan url %q", s)
	}
	return nil
}

// handleStatus returns job progress
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownJob(w, r)
	if !ok {
		return
	}
	resp := statusResponse{
		Status:         job.Status.String(),
		Total:          job.Total,
		Processed:      job.Processed,
		CurrentCompany: job.Current,
		Charts:         job.Charts,
		TelegramSent:   job.Notified,
		HasIndex:       len(job.Index) > 0,
	}
	if job.Status == enums.JobStatusFailed {
		resp.Error = job.Error
	} else {
		resp.Warning = job.Error
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStopJob asks the job to stop, charts captured so far still make a report
func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownJob(w, r)
	if !ok {
		return
	}
	if err := s.jobs.Cancel(job.ID); err != nil {
		s.writeJSONError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// handleDownloadPDF sends the report pdf
func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownJob(w, r)
	if !ok {
		return
	}
	if !job.Status.HasReport() || len(job.Result) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "File not ready or job failed")
		return
	}
	s.sendFile(w, "application/pdf", report.FileName(time.Now(), "pdf"), job.Result)
}

// handleDownloadXLSX sends the index spreadsheet of the report
func (s *Server) handleDownloadXLSX(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownJob(w, r)
	if !ok {
		return
	}
	if !job.Status.HasReport() || len(job.Index) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "File not ready or job failed")
		return
	}
	s.sendFile(w, xlsxContentType, report.FileName(time.Now(), "xlsx"), job.Index)
}

func (s *Server) sendFile(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[WARN] failed to send %s: %v", name, err)
	}
}

// ownJob returns the job from path if it belongs to the current user, writes 404 otherwise
func (s *Server) ownJob(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	user, ok := s.apiUser(w, r)
	if !ok {
		return jobs.Job{}, false
	}
	job, ok := s.jobs.Get(strings.TrimSpace(r.PathValue("id")))
	if !ok || job.UserID != user.ID {
		s.writeJSONError(w, http.StatusNotFound, "Job not found")
		return jobs.Job{}, false
	}
	return job, true
}
