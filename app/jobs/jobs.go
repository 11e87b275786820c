// Package jobs runs report generation in background goroutines and keeps their progress
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"
	"github.com/google/uuid"

	"github.com/umputun/chartreport/app/browser"
	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/report"
)

//go:generate moq -out mocks/scanner.go -pkg mocks -skip-ensure -fmt goimports . Scanner
//go:generate moq -out mocks/fetcher.go -pkg mocks -skip-ensure -fmt goimports . Fetcher
//go:generate moq -out mocks/assembler.go -pkg mocks -skip-ensure -fmt goimports . Assembler
//go:generate moq -out mocks/launcher.go -pkg mocks -skip-ensure -fmt goimports ../browser Launcher

// NoDataMsg is the error of a job that produced no charts
const NoDataMsg = "No data found or charts could not be generated."

var (
	// ErrDuplicate returned when the same user already runs the same scan
	ErrDuplicate = errors.New("the same scan is already running")
	// ErrNotFound returned for unknown job id
	ErrNotFound = errors.New("job not found")
	// ErrStopped returned by Submit after the manager context is done
	ErrStopped = errors.New("job manager stopped")
)

// Scanner collects stock page links from a scan result
type Scanner interface {
	Collect(ctx context.Context, sess browser.Session, scanURL string, stop func() bool) ([]string, error)
}

// Fetcher captures a chart from a stock page
type Fetcher interface {
	Fetch(ctx context.Context, sess browser.Session, pageURL string, st chart.Settings) (chart.Record, error)
}

// Assembler builds report documents
type Assembler interface {
	PDF(records []chart.Record) ([]byte, error)
	Index(rows []report.IndexRow) ([]byte, error)
}

// Repeater defines repeater interface
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Guard postpones browser launch while the host is overloaded
type Guard interface {
	Wait(ctx context.Context, desc string) bool
}

// EventHandler is called once a job reaches a terminal state
type EventHandler interface {
	OnJobFinished(ctx context.Context, job Job)
}

// Request defines what to scan and how to draw charts
type Request struct {
	UserID   int64
	URL      string
	Settings chart.Settings
	PresetID int64  // zero for ad-hoc requests
	Source   string // web or schedule
}

// Job is a report generation task. Values returned by Manager are copies.
type Job struct {
	ID string
	Request
	Status     enums.JobStatus
	Total      int
	Processed  int
	Current    string // company name or url of the last processed stock
	Error      string
	Charts     int
	Result     []byte // pdf
	Index      []byte // xlsx
	Canceled   bool
	Notified   bool // telegram delivered
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Params defines manager dependencies and limits
type Params struct {
	Launcher        browser.Launcher
	Scanner         Scanner
	Fetcher         Fetcher
	Assembler       Assembler
	Repeater        Repeater      // session crash retries, default 3 attempts 5s apart
	Guard           Guard         // optional
	Concurrency     int           // max jobs running at once, default 2
	Retention       time.Duration // how long finished jobs are kept, default 1h
	CleanupInterval time.Duration // default 5m
}

// Manager keeps jobs and runs them
type Manager struct {
	Params
	ctx   context.Context
	dedup *DeDup
	group *syncs.SizedGroup

	lock     sync.RWMutex
	jobs     map[string]*Job
	handlers []EventHandler
}

// New makes manager and starts the cleanup of old jobs. Jobs and cleanup stop with ctx.
func New(ctx context.Context, p Params) *Manager {
	if p.Concurrency <= 0 {
		p.Concurrency = 2
	}
	if p.Retention <= 0 {
		p.Retention = time.Hour
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = 5 * time.Minute
	}
	if p.Repeater == nil {
		p.Repeater = repeater.New(&strategy.FixedDelay{Repeats: 3, Delay: 5 * time.Second})
	}
	res := &Manager{
		Params: p,
		ctx:    ctx,
		dedup:  NewDeDup(true),
		group:  syncs.NewSizedGroup(p.Concurrency, syncs.Context(ctx)),
		jobs:   map[string]*Job{},
	}
	go res.cleanupLoop(ctx)
	return res
}

// AddHandler registers job completion handler
func (m *Manager) AddHandler(h EventHandler) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlers = append(m.handlers, h)
}

// Submit registers a queued job and schedules it. ErrDuplicate if the user already runs this scan.
func (m *Manager) Submit(req Request) (string, error) {
	if req.URL == "" {
		return "", errors.New("empty scan url")
	}
	if err := m.ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStopped, err)
	}
	key := dedupKey(req.UserID, req.URL)
	if !m.dedup.Add(key) {
		log.Printf("[INFO] user %d already runs %s, since %s", req.UserID, req.URL,
			m.dedup.Since(key).Format(time.RFC3339))
		return "", fmt.Errorf("%w: %s", ErrDuplicate, req.URL)
	}

	job := &Job{ID: uuid.NewString(), Request: req, Status: enums.JobStatusQueued, CreatedAt: time.Now()}
	m.lock.Lock()
	m.jobs[job.ID] = job
	m.lock.Unlock()
	log.Printf("[INFO] job %s queued, user %d, url %s", job.ID, req.UserID, req.URL)

	m.group.Go(func(ctx context.Context) {
		defer m.dedup.Remove(key)
		m.run(ctx, job.ID)
	})
	return job.ID, nil
}

// Get returns a copy of the job
func (m *Manager) Get(id string) (Job, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns jobs of the user, newest first. Report bytes are not included.
func (m *Manager) List(userID int64) []Job {
	m.lock.RLock()
	res := []Job{}
	for _, j := range m.jobs {
		if j.UserID != userID {
			continue
		}
		cp := *j
		cp.Result, cp.Index = nil, nil
		res = append(res, cp)
	}
	m.lock.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

// Cancel asks the job to stop. Already finished jobs are left as is.
func (m *Manager) Cancel(id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.IsTerminal() {
		return nil
	}
	j.Canceled = true
	log.Printf("[INFO] job %s cancel requested", id)
	return nil
}

// MarkNotified records telegram delivery for the job
func (m *Manager) MarkNotified(id string) {
	m.update(id, func(j *Job) { j.Notified = true })
}

// Wait blocks until all submitted jobs are done. Jobs the group skipped because of the canceled
// context are failed.
func (m *Manager) Wait() {
	m.group.Wait()
	if m.ctx.Err() == nil {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	for id, j := range m.jobs {
		if j.Status != enums.JobStatusQueued {
			continue
		}
		j.Status, j.Error, j.FinishedAt = enums.JobStatusFailed, "canceled on shutdown", time.Now()
		m.dedup.Remove(dedupKey(j.UserID, j.URL))
		log.Printf("[WARN] job %s never started, canceled on shutdown", id)
	}
}

// Cleanup removes finished jobs older than retention and returns the number of removed jobs
func (m *Manager) Cleanup(now time.Time) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	removed := 0
	for id, j := range m.jobs {
		if j.Status.IsTerminal() && !j.FinishedAt.IsZero() && now.Sub(j.FinishedAt) > m.Retention {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Cleanup(now); n > 0 {
				log.Printf("[DEBUG] removed %d expired jobs", n)
			}
		}
	}
}

// update applies fn to the job under lock
func (m *Manager) update(id string, fn func(j *Job)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
}

// setStatus moves job forward. Terminal states are final and status never goes back.
func (m *Manager) setStatus(id string, st enums.JobStatus) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false
	}
	if j.Status.IsTerminal() || st.Index() < j.Status.Index() {
		log.Printf("[WARN] job %s status change %s -> %s rejected", id, j.Status, st)
		return false
	}
	j.Status = st
	return true
}

func (m *Manager) canceled(id string) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	j, ok := m.jobs[id]
	return ok && j.Canceled
}
