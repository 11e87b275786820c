// Package web implements the web server of chartreport: dashboard, report jobs, presets and user settings
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/jobs"
	"github.com/umputun/chartreport/app/notify"
	"github.com/umputun/chartreport/app/store"
)

//go:generate moq -out mocks/job_manager.go -pkg mocks -skip-ensure -fmt goimports . JobManager
//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/scheduler.go -pkg mocks -skip-ensure -fmt goimports . Scheduler

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Store defines persistence of users, presets and job history
type Store interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
	GetUserByName(ctx context.Context, username string) (store.User, error)
	UpdateTelegram(ctx context.Context, userID int64, token, chatID string) error
	CreatePreset(ctx context.Context, p store.Preset) (store.Preset, error)
	ListPresets(ctx context.Context, userID int64) ([]store.Preset, error)
	GetPreset(ctx context.Context, userID, id int64) (store.Preset, error)
	UpdatePreset(ctx context.Context, p store.Preset) (store.Preset, error)
	DeletePreset(ctx context.Context, userID, id int64) error
	SaveJob(ctx context.Context, rec store.JobRecord) error
	ListJobs(ctx context.Context, userID int64, limit int) ([]store.JobRecord, error)
}

// JobManager runs report jobs
type JobManager interface {
	Submit(req jobs.Request) (string, error)
	Get(id string) (jobs.Job, bool)
	List(userID int64) []jobs.Job
	Cancel(id string) error
	MarkNotified(id string)
}

// Notifier announces finished reports
type Notifier interface {
	ReportReady(ctx context.Context, rcpt notify.Recipient, rep notify.Report) (telegramSent bool, err error)
}

// Scheduler is reloaded after presets change
type Scheduler interface {
	Reload()
}

// Config holds server configuration
type Config struct {
	Store               Store
	Jobs                JobManager
	Notifier            Notifier  // optional
	Scheduler           Scheduler // optional
	Version             string
	LoginTTL            time.Duration // session TTL, defaults to 24h if not set
	DisableRegistration bool          // only existing users can log in
	LoginRate           float64       // login and register attempts per second from one ip, default 1
	Defaults            chart.Settings
}

// session represents an active user session
type session struct {
	userID    int64
	createdAt time.Time
}

// Server represents the web server
type Server struct {
	store          Store
	jobs           JobManager
	notifier       Notifier
	scheduler      Scheduler
	version        string
	loginTTL       time.Duration
	noRegistration bool
	defaults       chart.Settings
	templates      map[string]*template.Template
	csrfProtection *http.CrossOriginProtection // csrf protection for POST endpoints
	loginLimiter   *limiter.Limiter            // login and register attempts
	sessions       map[string]session          // token -> session
	sessionsMu     sync.Mutex
}

// TemplateData holds data for templates
type TemplateData struct {
	User          store.User
	Error         string
	Version       string
	CurrentYear   int
	Periods       []string
	Ranges        []string
	Fields        []string
	Types         []string
	MaxMA         []int // slot numbers of moving averages, 1-based
	Defaults      chart.Settings
	Registration  bool
	TelegramReady bool
	Jobs          []APIJob // recent jobs, dashboard only
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Jobs == nil {
		return nil, fmt.Errorf("web server initialization failed: store and jobs are required")
	}
	loginTTL := cfg.LoginTTL
	if loginTTL == 0 {
		loginTTL = 24 * time.Hour
	}
	loginRate := cfg.LoginRate
	if loginRate <= 0 {
		loginRate = 1
	}
	lmt := tollbooth.NewLimiter(loginRate, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"}).SetBurst(5)

	defaults := cfg.Defaults
	if defaults.Period == "" {
		defaults.Period = "1 year"
	}
	if defaults.Range == "" {
		defaults.Range = "Weekly"
	}

	s := &Server{
		store:          cfg.Store,
		jobs:           cfg.Jobs,
		notifier:       cfg.Notifier,
		scheduler:      cfg.Scheduler,
		version:        cfg.Version,
		loginTTL:       loginTTL,
		noRegistration: cfg.DisableRegistration,
		defaults:       defaults,
		csrfProtection: http.NewCrossOriginProtection(),
		sessions:       map[string]session{},
		loginLimiter:   lmt,
	}

	templates, err := s.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}
	s.templates = templates
	return s, nil
}

// Run starts the web server and stops it on context cancellation
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("chartreport", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
		s.authMiddleware,
	)

	router.HandleFunc("GET /login", s.handleLoginForm)
	router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(s.loginLimiter)).HandleFunc("POST /login", s.handleLogin)
	router.HandleFunc("GET /logout", s.handleLogout)
	if !s.noRegistration {
		router.HandleFunc("GET /register", s.handleRegisterForm)
		router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(s.loginLimiter)).HandleFunc("POST /register", s.handleRegister)
	}

	router.HandleFunc("GET /{$}", s.handleDashboard)

	// report jobs
	router.Group().Route(func(g *routegroup.Bundle) {
		g.Use(rest.NoCache, s.csrfProtection.Handler)
		g.HandleFunc("POST /start_generation", s.handleStartGeneration)
		g.HandleFunc("GET /status/{id}", s.handleStatus)
		g.HandleFunc("POST /stop_job/{id}", s.handleStopJob)
		g.HandleFunc("GET /download/{id}", s.handleDownloadPDF)
		g.HandleFunc("GET /download/{id}/xlsx", s.handleDownloadXLSX)
	})

	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)             // prevent caching of API responses
		api.Use(s.csrfProtection.Handler) // CSRF protection for mutating endpoints

		api.HandleFunc("GET /presets", s.handleListPresets)
		api.HandleFunc("POST /presets", s.handleCreatePreset)
		api.HandleFunc("PUT /presets/{id}", s.handleUpdatePreset)
		api.HandleFunc("DELETE /presets/{id}", s.handleDeletePreset)
		api.HandleFunc("POST /update_settings", s.handleUpdateSettings)
		api.HandleFunc("GET /jobs", s.handleListJobs)
	})

	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("[ERROR] failed to create static file system: %v", err)
		router.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	} else {
		router.HandleFiles("/static/", http.FS(fsys))
	}

	return router
}

// OnJobFinished records the job in history and announces the report to its owner
func (s *Server) OnJobFinished(ctx context.Context, job jobs.Job) {
	rec := store.JobRecord{
		ID: job.ID, UserID: job.UserID, URL: job.URL, Status: job.Status, Total: job.Total,
		Processed: job.Processed, Charts: job.Charts, Error: job.Error,
		StartedAt: job.StartedAt, FinishedAt: job.FinishedAt,
	}
	if err := s.store.SaveJob(ctx, rec); err != nil {
		log.Printf("[WARN] failed to save job %s: %v", job.ID, err)
	}

	if s.notifier == nil || !job.Status.HasReport() {
		return
	}
	user, err := s.store.GetUser(ctx, job.UserID)
	if err != nil {
		log.Printf("[WARN] can't notify about job %s, %v", job.ID, err)
		return
	}
	rcpt := notify.Recipient{Username: user.Username, Email: user.Email,
		TelegramToken: user.TelegramToken, TelegramChatID: user.TelegramChatID}
	rep := notify.Report{JobID: job.ID, URL: job.URL, Status: job.Status.String(), Charts: job.Charts,
		Total: job.Total, Error: job.Error, FinishedAt: job.FinishedAt}
	sent, err := s.notifier.ReportReady(ctx, rcpt, rep)
	if err != nil {
		log.Printf("[WARN] notification for job %s failed: %v", job.ID, err)
	}
	if sent {
		s.jobs.MarkNotified(job.ID)
	}
}

// newTemplateData creates a TemplateData with common fields populated
func (s *Server) newTemplateData(user store.User) TemplateData {
	slots := make([]int, chart.MaxMovingAverages)
	for i := range slots {
		slots[i] = i + 1
	}
	return TemplateData{
		User:          user,
		Version:       shortVersion(s.version),
		CurrentYear:   time.Now().Year(),
		Periods:       chart.Labels(chart.Periods),
		Ranges:        chart.Labels(chart.Ranges),
		Fields:        chart.Labels(chart.Fields),
		Types:         chart.Labels(chart.Types),
		MaxMA:         slots,
		Defaults:      s.defaults,
		Registration:  !s.noRegistration,
		TelegramReady: user.TelegramToken != "" && user.TelegramChatID != "",
	}
}

// render renders a template
func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, page, data); err != nil {
		log.Printf("[WARN] failed to execute template: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// parseTemplates parses all pages, each page is a standalone template
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)
	funcMap := template.FuncMap{
		"humanTime":     s.humanTime,
		"humanDuration": s.humanDuration,
		"truncate":      s.truncate,
		"selected":      func(a, b string) bool { return a == b },
	}
	for _, page := range []string{"dashboard.html", "login.html", "register.html"} {
		t, err := template.New(page).Funcs(funcMap).ParseFS(templatesFS, "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", page, err)
		}
		templates[page] = t
	}
	return templates, nil
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, rest.JSON{"error": msg})
}

// template helper functions

func (s *Server) humanTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("Jan 2, 15:04:05")
}

func (s *Server) humanDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func (s *Server) truncate(str string, n int) string {
	if len(str) <= n {
		return str
	}
	return str[:n] + "..."
}

// shortVersion extracts a short version string from full version
// for version like "v1.7.0-abc1234-20241225", returns "v1.7.0"
func shortVersion(fullVer string) string {
	if fullVer == "" || fullVer == "unknown" {
		return fullVer
	}
	if idx := strings.Index(fullVer, "-"); idx > 0 {
		return fullVer[:idx]
	}
	return fullVer
}
