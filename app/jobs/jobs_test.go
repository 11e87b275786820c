package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/chartreport/app/browser"
	bmocks "github.com/umputun/chartreport/app/browser/mocks"
	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/jobs/mocks"
	"github.com/umputun/chartreport/app/report"
)

type testEnv struct {
	launcher  *mocks.LauncherMock
	scanner   *mocks.ScannerMock
	fetcher   *mocks.FetcherMock
	assembler *mocks.AssemblerMock
	handler   *recHandler
	cancel    context.CancelFunc

	lock     sync.Mutex
	sessions []*bmocks.SessionMock
}

func (e *testEnv) closed() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	n := 0
	for _, s := range e.sessions {
		n += len(s.CloseCalls())
	}
	return n
}

type recHandler struct {
	lock sync.Mutex
	jobs []Job
	mgr  *Manager
}

func (h *recHandler) OnJobFinished(_ context.Context, job Job) {
	h.lock.Lock()
	h.jobs = append(h.jobs, job)
	h.lock.Unlock()
	if h.mgr != nil {
		h.mgr.MarkNotified(job.ID)
	}
}

func (h *recHandler) finished() []Job {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]Job(nil), h.jobs...)
}

func stockURL(i int) string { return fmt.Sprintf("https://chartink.com/stocks/s%d.html", i) }

func okRecord(u string) chart.Record {
	return chart.Record{Name: "name of " + u, URL: u, PNG: []byte("png")}
}

func newTestManager(t *testing.T, urls []string, fetch func(ctx context.Context, u string) (chart.Record, error),
	opts ...func(p *Params)) (*Manager, *testEnv) {
	t.Helper()
	env := &testEnv{handler: &recHandler{}}
	env.launcher = &mocks.LauncherMock{LaunchFunc: func(context.Context) (browser.Session, error) {
		sess := &bmocks.SessionMock{CloseFunc: func() error { return nil }}
		env.lock.Lock()
		env.sessions = append(env.sessions, sess)
		env.lock.Unlock()
		return sess, nil
	}}
	env.scanner = &mocks.ScannerMock{CollectFunc: func(context.Context, browser.Session, string, func() bool) ([]string, error) {
		return urls, nil
	}}
	env.fetcher = &mocks.FetcherMock{FetchFunc: func(ctx context.Context, _ browser.Session, u string, _ chart.Settings) (chart.Record, error) {
		return fetch(ctx, u)
	}}
	env.assembler = &mocks.AssemblerMock{
		PDFFunc:   func(records []chart.Record) ([]byte, error) { return []byte(fmt.Sprintf("pdf-%d", len(records))), nil },
		IndexFunc: func(rows []report.IndexRow) ([]byte, error) { return []byte("xlsx"), nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.cancel = cancel
	p := Params{
		Launcher:  env.launcher,
		Scanner:   env.scanner,
		Fetcher:   env.fetcher,
		Assembler: env.assembler,
		Repeater:  repeater.New(&strategy.FixedDelay{Repeats: 3, Delay: time.Millisecond}),
	}
	for _, o := range opts {
		o(&p)
	}
	m := New(ctx, p)
	env.handler.mgr = m
	m.AddHandler(env.handler)
	return m, env
}

func fetchedURLs(f *mocks.FetcherMock) []string {
	res := []string{}
	for _, c := range f.FetchCalls() {
		res = append(res, c.PageURL)
	}
	return res
}

func TestManager_Completed(t *testing.T) {
	urls := []string{stockURL(1), stockURL(2), stockURL(3)}
	m, env := newTestManager(t, urls, func(_ context.Context, u string) (chart.Record, error) {
		if u == stockURL(2) {
			return chart.Record{}, fmt.Errorf("%w: no frame", chart.ErrSkip)
		}
		return okRecord(u), nil
	})

	st := chart.Settings{Period: "1 year", Range: "Daily"}
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x", Settings: st})
	require.NoError(t, err)
	m.Wait()

	job, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, enums.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 2, job.Charts)
	assert.Equal(t, "name of "+stockURL(3), job.Current)
	assert.Empty(t, job.Error)
	assert.Equal(t, []byte("pdf-2"), job.Result)
	assert.Equal(t, []byte("xlsx"), job.Index)
	assert.True(t, job.Notified)
	assert.False(t, job.FinishedAt.Before(job.StartedAt))

	require.Len(t, env.fetcher.FetchCalls(), 3)
	assert.Equal(t, st, env.fetcher.FetchCalls()[0].St)
	require.Len(t, env.assembler.IndexCalls(), 1)
	rows := env.assembler.IndexCalls()[0].Rows
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Included)
	assert.Equal(t, report.IndexRow{URL: stockURL(2)}, rows[1])

	assert.Len(t, env.launcher.LaunchCalls(), 1, "one browser for the whole job")
	assert.Equal(t, 1, env.closed(), "browser closed")

	fin := env.handler.finished()
	require.Len(t, fin, 1)
	assert.Equal(t, enums.JobStatusCompleted, fin[0].Status)
	assert.Equal(t, id, fin[0].ID)

	_, err = m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err, "finished job doesn't block the same scan")
	m.Wait()
}

func TestManager_NoCharts(t *testing.T) {
	m, env := newTestManager(t, []string{stockURL(1), stockURL(2)}, func(context.Context, string) (chart.Record, error) {
		return chart.Record{}, chart.ErrSkip
	})
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	m.Wait()

	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusFailed, job.Status)
	assert.Equal(t, NoDataMsg, job.Error)
	assert.Equal(t, 2, job.Processed)
	assert.Nil(t, job.Result)
	assert.Empty(t, env.assembler.PDFCalls())
	assert.Equal(t, 1, env.closed())
}

func TestManager_ScanFailed(t *testing.T) {
	m, env := newTestManager(t, nil, nil)
	env.scanner.CollectFunc = func(context.Context, browser.Session, string, func() bool) ([]string, error) {
		return nil, fmt.Errorf("marker: %w", browser.ErrTimeout)
	}
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	m.Wait()

	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "failed to collect stocks")
	assert.Empty(t, env.fetcher.FetchCalls())
	assert.Len(t, env.scanner.CollectCalls(), 1, "page errors are not retried")
	assert.Equal(t, 1, env.closed())
}

func TestManager_ScanPartial(t *testing.T) {
	m, env := newTestManager(t, nil, func(_ context.Context, u string) (chart.Record, error) { return okRecord(u), nil })
	env.scanner.CollectFunc = func(context.Context, browser.Session, string, func() bool) ([]string, error) {
		return []string{stockURL(1)}, fmt.Errorf("next page: %w", browser.ErrTimeout)
	}
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	m.Wait()

	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Charts)
}

func TestManager_LaunchFailed(t *testing.T) {
	m, env := newTestManager(t, []string{stockURL(1)}, nil)
	env.launcher.LaunchFunc = func(context.Context) (browser.Session, error) { return nil, errors.New("no chrome") }
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	m.Wait()

	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "no chrome")
	assert.Len(t, env.launcher.LaunchCalls(), 3, "launch retried")
}

func TestManager_SessionCrashResumes(t *testing.T) {
	urls := []string{stockURL(1), stockURL(2), stockURL(3)}
	var crashed atomic.Bool
	m, env := newTestManager(t, urls, func(_ context.Context, u string) (chart.Record, error) {
		if u == stockURL(2) && !crashed.Load() {
			crashed.Store(true)
			return chart.Record{}, fmt.Errorf("eval: %w", browser.ErrSession)
		}
		return okRecord(u), nil
	})
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	m.Wait()

	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Charts)
	assert.Empty(t, job.Error)
	assert.Equal(t, []string{stockURL(1), stockURL(2), stockURL(2), stockURL(3)}, fetchedURLs(env.fetcher),
		"resumed at the failed stock")
	assert.Len(t, env.launcher.LaunchCalls(), 2, "browser relaunched")
	assert.Equal(t, 2, env.closed(), "both sessions closed")
}

func TestManager_SessionRetriesExhausted(t *testing.T) {
	urls := []string{stockURL(1), stockURL(2), stockURL(3)}
	m, env := newTestManager(t, urls, func(_ context.Context, u string) (chart.Record, error) {
		if u == stockURL(2) {
			return chart.Record{}, browser.ErrSession
		}
		return okRecord(u), nil
	})
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	m.Wait()

	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusCompleted, job.Status, "partial results kept")
	assert.Equal(t, 1, job.Charts)
	assert.Equal(t, 1, job.Processed)
	assert.Contains(t, job.Error, "report is partial")
	assert.Equal(t, []string{stockURL(1), stockURL(2), stockURL(2), stockURL(2)}, fetchedURLs(env.fetcher))
	assert.Len(t, env.launcher.LaunchCalls(), 3)
	assert.Equal(t, 3, env.closed())
}

func TestManager_Cancel(t *testing.T) {
	urls := []string{stockURL(1), stockURL(2), stockURL(3), stockURL(4)}
	started, release := make(chan struct{}), make(chan struct{})
	m, env := newTestManager(t, urls, func(_ context.Context, u string) (chart.Record, error) {
		if u == stockURL(2) {
			close(started)
			<-release
		}
		return okRecord(u), nil
	})
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)

	<-started
	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusFetchingCharts, job.Status)
	assert.Equal(t, 4, job.Total)
	assert.Equal(t, 1, job.Processed)
	require.NoError(t, m.Cancel(id))
	close(release)
	m.Wait()

	job, _ = m.Get(id)
	assert.Equal(t, enums.JobStatusStopped, job.Status)
	assert.True(t, job.Canceled)
	assert.Equal(t, 2, job.Charts)
	assert.Equal(t, []byte("pdf-2"), job.Result, "stopped job keeps its report")
	assert.True(t, job.Status.HasReport())
	assert.Len(t, env.fetcher.FetchCalls(), 2)

	require.NoError(t, m.Cancel(id), "cancel of finished job is no-op")
	job, _ = m.Get(id)
	assert.Equal(t, enums.JobStatusStopped, job.Status)
	require.ErrorIs(t, m.Cancel("unknown"), ErrNotFound)
}

func TestManager_CancelNoCharts(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	m, env := newTestManager(t, nil, nil)
	env.scanner.CollectFunc = func(_ context.Context, _ browser.Session, _ string, stop func() bool) ([]string, error) {
		close(started)
		<-release
		if stop() {
			return []string{stockURL(1)}, nil
		}
		return []string{stockURL(1), stockURL(2)}, nil
	}
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	<-started
	require.NoError(t, m.Cancel(id))
	close(release)
	m.Wait()

	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusFailed, job.Status)
	assert.Equal(t, NoDataMsg, job.Error)
	assert.Empty(t, env.fetcher.FetchCalls())
}

func TestManager_Duplicate(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	m, _ := newTestManager(t, []string{stockURL(1)}, func(_ context.Context, u string) (chart.Record, error) {
		once.Do(func() { close(started) })
		<-release
		return okRecord(u), nil
	})
	_, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	<-started

	_, err = m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = m.Submit(Request{UserID: 2, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err, "other user may run the same scan")

	_, err = m.Submit(Request{UserID: 1})
	require.Error(t, err)

	close(release)
	m.Wait()
}

func TestManager_Concurrency(t *testing.T) {
	release := make(chan struct{})
	var running, maxRunning atomic.Int32
	m, _ := newTestManager(t, []string{stockURL(1)}, func(_ context.Context, u string) (chart.Record, error) {
		n := running.Add(1)
		for {
			cur := maxRunning.Load()
			if n <= cur || maxRunning.CompareAndSwap(cur, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return okRecord(u), nil
	}, func(p *Params) { p.Concurrency = 1 })

	id1, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/a"})
	require.NoError(t, err)
	id2, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/b"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, 5*time.Millisecond)
	j1, _ := m.Get(id1)
	j2, _ := m.Get(id2)
	queued := 0
	for _, j := range []Job{j1, j2} {
		if j.Status == enums.JobStatusQueued {
			queued++
		}
	}
	assert.Equal(t, 1, queued, "second job waits in queue")

	close(release)
	m.Wait()
	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Len(t, m.List(1), 2)
	assert.Empty(t, m.List(2))
}

func TestManager_SubmitAfterStop(t *testing.T) {
	m, env := newTestManager(t, []string{stockURL(1)}, func(_ context.Context, u string) (chart.Record, error) {
		return okRecord(u), nil
	})
	env.cancel()

	_, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.ErrorIs(t, err, ErrStopped)
	assert.Empty(t, m.List(1))
	assert.True(t, m.dedup.Add(dedupKey(1, "https://chartink.com/screener/x")), "scan not registered")
	assert.Empty(t, env.launcher.LaunchCalls())
}

func TestManager_QueuedJobOnShutdown(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	m, env := newTestManager(t, []string{stockURL(1)}, func(_ context.Context, u string) (chart.Record, error) {
		once.Do(func() { close(started) })
		<-release
		return okRecord(u), nil
	}, func(p *Params) { p.Concurrency = 1 })

	_, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/a"})
	require.NoError(t, err)
	<-started
	id2, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/b"})
	require.NoError(t, err)

	env.cancel()
	close(release)
	m.Wait()

	job, ok := m.Get(id2)
	require.True(t, ok)
	assert.True(t, job.Status.IsTerminal(), "queued job not left behind, status %s", job.Status)
	assert.False(t, job.FinishedAt.IsZero())
	assert.True(t, m.dedup.Add(dedupKey(1, "https://chartink.com/screener/b")), "dedup key released")
}

type guardFunc func(ctx context.Context, desc string) bool

func (f guardFunc) Wait(ctx context.Context, desc string) bool { return f(ctx, desc) }

func TestManager_Guard(t *testing.T) {
	var waits atomic.Int32
	m, env := newTestManager(t, []string{stockURL(1)}, func(_ context.Context, u string) (chart.Record, error) {
		return okRecord(u), nil
	}, func(p *Params) {
		p.Guard = guardFunc(func(context.Context, string) bool { waits.Add(1); return true })
	})
	id, err := m.Submit(Request{UserID: 1, URL: "https://chartink.com/screener/x"})
	require.NoError(t, err)
	m.Wait()
	job, _ := m.Get(id)
	assert.Equal(t, enums.JobStatusCompleted, job.Status)
	assert.Equal(t, int32(1), waits.Load(), "guard checked before the launch")
	assert.Len(t, env.launcher.LaunchCalls(), 1)
}

func TestManager_SetStatus(t *testing.T) {
	m, _ := newTestManager(t, nil, nil)
	m.jobs["j1"] = &Job{ID: "j1", Status: enums.JobStatusQueued}

	assert.True(t, m.setStatus("j1", enums.JobStatusRunning))
	assert.True(t, m.setStatus("j1", enums.JobStatusFetchingCharts))
	assert.False(t, m.setStatus("j1", enums.JobStatusScrapingURLs), "no regression")
	assert.True(t, m.setStatus("j1", enums.JobStatusFetchingCharts), "same status allowed")
	assert.True(t, m.setStatus("j1", enums.JobStatusStopped))
	assert.False(t, m.setStatus("j1", enums.JobStatusFailed), "terminal is final")
	assert.False(t, m.setStatus("unknown", enums.JobStatusRunning))

	job, _ := m.Get("j1")
	assert.Equal(t, enums.JobStatusStopped, job.Status)
}

func TestManager_Cleanup(t *testing.T) {
	m, _ := newTestManager(t, nil, nil, func(p *Params) { p.Retention = time.Hour })
	now := time.Now()
	m.jobs["old"] = &Job{ID: "old", Status: enums.JobStatusCompleted, FinishedAt: now.Add(-2 * time.Hour)}
	m.jobs["fresh"] = &Job{ID: "fresh", Status: enums.JobStatusFailed, FinishedAt: now.Add(-time.Minute)}
	m.jobs["running"] = &Job{ID: "running", Status: enums.JobStatusFetchingCharts, StartedAt: now.Add(-3 * time.Hour)}

	assert.Equal(t, 1, m.Cleanup(now))
	_, ok := m.Get("old")
	assert.False(t, ok)
	_, ok = m.Get("fresh")
	assert.True(t, ok)
	_, ok = m.Get("running")
	assert.True(t, ok)
}
