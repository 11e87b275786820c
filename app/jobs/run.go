package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/chartreport/app/browser"
	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/report"
)

// runner executes one job, it owns the browser session
type runner struct {
	*Manager
	id   string
	req  Request
	sess browser.Session
}

// outcome is the final state of a job before it gets published
type outcome struct {
	status enums.JobStatus
	err    string
	pdf    []byte
	index  []byte
	charts int
}

func (m *Manager) run(ctx context.Context, id string) {
	job, ok := m.Get(id)
	if !ok {
		return
	}
	r := &runner{Manager: m, id: id, req: job.Request}
	defer r.closeSession()

	m.update(id, func(j *Job) { j.StartedAt = time.Now() })
	m.setStatus(id, enums.JobStatusRunning)
	log.Printf("[INFO] job %s started", id)

	res := r.execute(ctx)
	r.closeSession()
	m.finish(ctx, id, res)
}

func (r *runner) execute(ctx context.Context) outcome {
	if r.canceled(r.id) {
		return outcome{status: enums.JobStatusFailed, err: NoDataMsg}
	}
	r.setStatus(r.id, enums.JobStatusScrapingURLs)
	urls, err := r.collect(ctx)
	if err != nil && len(urls) == 0 {
		if r.canceled(r.id) {
			return outcome{status: enums.JobStatusFailed, err: NoDataMsg}
		}
		return outcome{status: enums.JobStatusFailed, err: fmt.Sprintf("failed to collect stocks: %v", err)}
	}
	if err != nil {
		log.Printf("[WARN] job %s continues with %d collected stocks, %v", r.id, len(urls), err)
	}
	r.update(r.id, func(j *Job) { j.Total = len(urls) })
	log.Printf("[INFO] job %s collected %d stocks", r.id, len(urls))

	r.setStatus(r.id, enums.JobStatusFetchingCharts)
	records, rows, fetchErr := r.fetch(ctx, urls)
	if len(records) == 0 {
		return outcome{status: enums.JobStatusFailed, err: NoDataMsg}
	}

	r.setStatus(r.id, enums.JobStatusGeneratingPDF)
	pdf, err := r.Assembler.PDF(records)
	if err != nil {
		return outcome{status: enums.JobStatusFailed, err: fmt.Sprintf("failed to generate pdf: %v", err)}
	}
	index, err := r.Assembler.Index(rows)
	if err != nil {
		log.Printf("[WARN] job %s index not generated, %v", r.id, err)
	}

	res := outcome{status: enums.JobStatusCompleted, pdf: pdf, index: index, charts: len(records)}
	if r.canceled(r.id) {
		res.status = enums.JobStatusStopped
	}
	if fetchErr != nil {
		res.err = fmt.Sprintf("report is partial: %v", fetchErr)
	}
	return res
}

// collect gets stock links, a crashed browser is relaunched and the scan restarted
func (r *runner) collect(ctx context.Context) (urls []string, err error) {
	var scanErr error
	stop := func() bool { return r.canceled(r.id) }
	err = r.Repeater.Do(ctx, func() error {
		sess, e := r.session(ctx)
		if e != nil {
			return e
		}
		res, e := r.Scanner.Collect(ctx, sess, r.req.URL, stop)
		if len(res) >= len(urls) {
			urls = res
		}
		if errors.Is(e, browser.ErrSession) {
			r.closeSession()
			log.Printf("[WARN] job %s browser failed while collecting, %v", r.id, e)
			return e
		}
		scanErr = e
		return nil
	})
	if err != nil {
		return urls, err
	}
	return urls, scanErr
}

// fetch captures charts of all urls. A session failure relaunches the browser and resumes at the same url.
// Returns captured records, index rows of all urls and the last session error if retries were exhausted.
func (r *runner) fetch(ctx context.Context, urls []string) ([]chart.Record, []report.IndexRow, error) {
	records := make([]chart.Record, 0, len(urls))
	rows := make([]report.IndexRow, len(urls))
	for i, u := range urls {
		rows[i] = report.IndexRow{URL: u}
	}

	idx := 0
	err := r.Repeater.Do(ctx, func() error {
		sess, err := r.session(ctx)
		if err != nil {
			return err
		}
		for ; idx < len(urls); idx++ {
			if r.canceled(r.id) || ctx.Err() != nil {
				return nil
			}
			u := urls[idx]
			rec, err := r.Fetcher.Fetch(ctx, sess, u, r.req.Settings)
			switch {
			case err == nil:
				records = append(records, rec)
				rows[idx].Name, rows[idx].Included = rec.Name, true
			case errors.Is(err, browser.ErrSession):
				r.closeSession()
				log.Printf("[WARN] job %s browser failed on %s, %v", r.id, u, err)
				return err
			case ctx.Err() != nil:
				return nil
			default:
				log.Printf("[DEBUG] job %s skipped %s, %v", r.id, u, err)
			}

			current := u
			if rec.Name != "" {
				current = rec.Name
			}
			processed, charts := idx+1, len(records)
			r.update(r.id, func(j *Job) { j.Processed, j.Current, j.Charts = processed, current, charts })
		}
		return nil
	})
	if err != nil {
		log.Printf("[WARN] job %s stopped fetching at %d of %d, %v", r.id, idx, len(urls), err)
		return records, rows, err
	}
	return records, rows, nil
}

// session returns the active browser session, launching a new one if needed
func (r *runner) session(ctx context.Context) (browser.Session, error) {
	if r.sess != nil {
		return r.sess, nil
	}
	if r.Guard != nil && !r.Guard.Wait(ctx, "job "+r.id) {
		return nil, fmt.Errorf("browser launch: %w", ctx.Err())
	}
	sess, err := r.Launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	r.sess = sess
	return sess, nil
}

func (r *runner) closeSession() {
	if r.sess == nil {
		return
	}
	if err := r.sess.Close(); err != nil {
		log.Printf("[DEBUG] job %s browser close, %v", r.id, err)
	}
	r.sess = nil
}

// finish stores the outcome, calls handlers with the final job state and then publishes the terminal status,
// so pollers see handler results (like telegram delivery) together with it
func (m *Manager) finish(ctx context.Context, id string, res outcome) {
	now := time.Now()
	m.update(id, func(j *Job) {
		j.Result, j.Index, j.Error, j.FinishedAt = res.pdf, res.index, res.err, now
		if res.charts > 0 {
			j.Charts = res.charts
		}
	})

	job, ok := m.Get(id)
	if !ok {
		return
	}
	job.Status = res.status
	log.Printf("[INFO] job %s %s, %d of %d stocks, %d charts, %v", id, job.Status, job.Processed, job.Total,
		job.Charts, now.Sub(job.StartedAt).Round(time.Millisecond))

	m.lock.RLock()
	handlers := append([]EventHandler(nil), m.handlers...)
	m.lock.RUnlock()
	for _, h := range handlers {
		h.OnJobFinished(ctx, job)
	}
	m.setStatus(id, res.status)
}
