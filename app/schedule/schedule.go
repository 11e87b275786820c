// Package schedule runs presets with a cron schedule as unattended report jobs
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/jobs"
	"github.com/umputun/chartreport/app/store"
)

// Cron interface defines basic robfig/cron methods used by scheduler
type Cron interface {
	Start()
	Stop() context.Context
	Entries() []cron.Entry
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
	Remove(id cron.EntryID)
}

// PresetLister returns presets having a schedule
type PresetLister interface {
	ListScheduledPresets(ctx context.Context) ([]store.Preset, error)
}

// Submitter starts report jobs
type Submitter interface {
	Submit(req jobs.Request) (string, error)
}

// Scheduler keeps cron entries in sync with scheduled presets
type Scheduler struct {
	Cron
	Presets PresetLister
	Jobs    Submitter
	Capture enums.Capture // capture mode of scheduled jobs

	reloadCh chan struct{}
	lock     sync.Mutex
	entries  map[cron.EntryID]int64 // entry -> preset id
}

// New makes Scheduler
func New(c Cron, presets PresetLister, submitter Submitter) *Scheduler {
	return &Scheduler{Cron: c, Presets: presets, Jobs: submitter, Capture: enums.CaptureEmbedded,
		reloadCh: make(chan struct{}, 1), entries: map[cron.EntryID]int64{}}
}

// Do loads scheduled presets, starts cron and reloads on request. Blocks until ctx is done.
func (s *Scheduler) Do(ctx context.Context) {
	if err := s.load(ctx); err != nil {
		log.Printf("[WARN] can't load scheduled presets, %v", err)
	}
	s.Start()
	for {
		select {
		case <-ctx.Done():
			log.Print("[DEBUG] scheduler terminated")
			<-s.Stop().Done()
			return
		case <-s.reloadCh:
			if err := s.load(ctx); err != nil {
				log.Printf("[WARN] can't reload scheduled presets, %v", err)
			}
		}
	}
}

// Reload asks for re-reading presets, doesn't block
func (s *Scheduler) Reload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// load replaces all cron entries with the current scheduled presets. Invalid specs are skipped.
func (s *Scheduler) load(ctx context.Context) error {
	presets, err := s.Presets.ListScheduledPresets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list presets: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	for _, e := range s.Entries() {
		s.Remove(e.ID)
	}
	s.entries = map[cron.EntryID]int64{}

	for _, p := range presets {
		sched, err := cron.ParseStandard(p.Schedule)
		if err != nil {
			log.Printf("[WARN] preset %d %q has invalid schedule %q, skipped: %v", p.ID, p.Title, p.Schedule, err)
			continue
		}
		id := s.Schedule(sched, s.jobFunc(p))
		s.entries[id] = p.ID
		log.Printf("[INFO] preset %d %q scheduled %q, first: %s", p.ID, p.Title, p.Schedule,
			sched.Next(time.Now()).Format(time.RFC3339))
	}
	return nil
}

// Scheduled returns ids of presets currently registered in cron
func (s *Scheduler) Scheduled() []int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]int64, 0, len(s.entries))
	for _, e := range s.Entries() {
		if pid, ok := s.entries[e.ID]; ok {
			res = append(res, pid)
		}
	}
	return res
}

func (s *Scheduler) jobFunc(p store.Preset) cron.FuncJob {
	return func() {
		req := jobs.Request{
			UserID:   p.UserID,
			URL:      p.URL,
			PresetID: p.ID,
			Source:   "schedule",
			Settings: chart.Settings{Period: p.Period, Range: p.Range, MovingAverages: p.MovingAverages,
				Capture: s.Capture},
		}
		id, err := s.Jobs.Submit(req)
		if err != nil {
			if errors.Is(err, jobs.ErrDuplicate) {
				log.Printf("[INFO] preset %d %q still running, tick skipped", p.ID, p.Title)
				return
			}
			log.Printf("[WARN] can't start scheduled preset %d %q, %v", p.ID, p.Title, err)
			return
		}
		log.Printf("[INFO] scheduled preset %d %q started job %s", p.ID, p.Title, id)
	}
}
