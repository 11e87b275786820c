package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/jobs"
	"github.com/umputun/chartreport/app/store"
)

type presetsFunc func(ctx context.Context) ([]store.Preset, error)

func (f presetsFunc) ListScheduledPresets(ctx context.Context) ([]store.Preset, error) { return f(ctx) }

type recSubmitter struct {
	lock sync.Mutex
	reqs []jobs.Request
	err  error
}

func (r *recSubmitter) Submit(req jobs.Request) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return "", r.err
	}
	return "job-id", nil
}

func (r *recSubmitter) requests() []jobs.Request {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]jobs.Request(nil), r.reqs...)
}

func TestScheduler_Load(t *testing.T) {
	mas := []chart.MovingAverage{{Enabled: true, Field: "Close", Type: "EMA", Period: 20}}
	presets := []store.Preset{
		{ID: 1, UserID: 10, Title: "daily", URL: "https://chartink.com/screener/a", Period: "1 year", Range: "Daily",
			MovingAverages: mas, Schedule: "0 9 * * 1-5"},
		{ID: 2, UserID: 11, Title: "broken", URL: "https://chartink.com/screener/b", Schedule: "not a spec"},
		{ID: 3, UserID: 10, Title: "hourly", URL: "https://chartink.com/screener/c", Schedule: "@hourly"},
	}
	sub := &recSubmitter{}
	s := New(cron.New(), presetsFunc(func(context.Context) ([]store.Preset, error) { return presets, nil }), sub)

	require.NoError(t, s.load(context.Background()))
	assert.ElementsMatch(t, []int64{1, 3}, s.Scheduled(), "invalid spec skipped")
	assert.Len(t, s.Entries(), 2)

	for _, e := range s.Entries() {
		if s.entries[e.ID] == 1 {
			e.Job.Run()
		}
	}
	reqs := sub.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, jobs.Request{UserID: 10, URL: "https://chartink.com/screener/a", PresetID: 1, Source: "schedule",
		Settings: chart.Settings{Period: "1 year", Range: "Daily", MovingAverages: mas,
			Capture: enums.CaptureEmbedded}}, reqs[0])

	presets = presets[:1]
	require.NoError(t, s.load(context.Background()))
	assert.Equal(t, []int64{1}, s.Scheduled(), "entries replaced on reload")
}

func TestScheduler_LoadError(t *testing.T) {
	s := New(cron.New(), presetsFunc(func(context.Context) ([]store.Preset, error) { return nil, errors.New("db closed") }),
		&recSubmitter{})
	err := s.load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db closed")
}

func TestScheduler_SubmitErrors(t *testing.T) {
	sub := &recSubmitter{err: jobs.ErrDuplicate}
	s := New(cron.New(), nil, sub)
	s.jobFunc(store.Preset{ID: 1, UserID: 1, URL: "u"}).Run()
	sub.err = errors.New("empty scan url")
	s.jobFunc(store.Preset{ID: 2, UserID: 1}).Run()
	assert.Len(t, sub.requests(), 2, "errors logged, nothing panics")
}

func TestScheduler_DoReload(t *testing.T) {
	var lock sync.Mutex
	calls := 0
	list := presetsFunc(func(context.Context) ([]store.Preset, error) {
		lock.Lock()
		defer lock.Unlock()
		calls++
		if calls == 1 {
			return nil, nil
		}
		return []store.Preset{{ID: 5, UserID: 1, URL: "u", Schedule: "@daily"}}, nil
	})
	s := New(cron.New(), list, &recSubmitter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Do(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { lock.Lock(); defer lock.Unlock(); return calls == 1 }, time.Second, 5*time.Millisecond)
	s.Reload()
	s.Reload() // coalesced
	require.Eventually(t, func() bool { return len(s.Scheduled()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler not stopped")
	}
	lock.Lock()
	defer lock.Unlock()
	assert.LessOrEqual(t, calls, 3)
}
