package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
	"github.com/umputun/chartreport/app/jobs"
	"github.com/umputun/chartreport/app/store"
	"github.com/umputun/chartreport/app/web/mocks"
)

func TestServer_Presets(t *testing.T) {
	sched := &mocks.SchedulerMock{ReloadFunc: func() {}}
	srv, st, user := prepServer(t, nil, func(c *Config) { c.Scheduler = sched })
	createUser(t, st, "bob")
	h := srv.routes()

	rec := serve(h, apiRequest("GET", "/api/presets", "", "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	body := `{"title":" Breakouts ","description":"daily breakouts","url":"https://example.com/scan",
		"period":"6 months","range":"Daily",
		"moving_averages":{"ma_1":{"enabled":true,"field":"Close","type":"Simple","period":20},
			"ma_3":{"enabled":true,"field":"High","type":"Exponential","period":200}}}`
	rec = serve(h, apiRequest("POST", "/api/presets", body, "alice"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created APIPreset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Breakouts", created.Title)
	assert.Len(t, created.MovingAverages, 2)
	assert.Equal(t, 200, created.MovingAverages["ma_3"].Period)
	assert.Empty(t, sched.ReloadCalls(), "no reload for preset without schedule")

	stored, err := st.GetPreset(context.Background(), user.ID, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.MovingAverages, 3, "slot 2 kept disabled")
	assert.False(t, stored.MovingAverages[1].Enabled)

	rec = serve(h, apiRequest("GET", "/api/presets", "", "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []APIPreset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
	assert.Equal(t, "https://example.com/scan", list[0].URL)
	assert.Equal(t, chart.MovingAverage{Enabled: true, Field: "Close", Type: "Simple", Period: 20},
		list[0].MovingAverages["ma_1"])

	rec = serve(h, apiRequest("GET", "/api/presets", "", "bob"))
	assert.JSONEq(t, `[]`, rec.Body.String(), "presets are per user")

	t.Run("update with schedule", func(t *testing.T) {
		body := `{"title":"Breakouts","url":"https://example.com/scan2","schedule":"0 18 * * 1-5"}`
		rec := serve(h, apiRequest("PUT", fmt.Sprintf("/api/presets/%d", created.ID), body, "alice"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var upd APIPreset
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upd))
		assert.Equal(t, "https://example.com/scan2", upd.URL)
		assert.Equal(t, "0 18 * * 1-5", upd.Schedule)
		assert.Equal(t, "1 year", upd.Period, "default period")
		assert.Empty(t, upd.MovingAverages)
		assert.Len(t, sched.ReloadCalls(), 1)
	})

	t.Run("update by another user", func(t *testing.T) {
		body := `{"title":"mine","url":"https://example.com/scan"}`
		rec := serve(h, apiRequest("PUT", fmt.Sprintf("/api/presets/%d", created.ID), body, "bob"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Preset not found"}`, rec.Body.String())
	})

	t.Run("invalid input", func(t *testing.T) {
		tbl := []struct{ body, wantErr string }{
			{`{"url":"https://example.com/scan"}`, "title is required"},
			{`{"title":"t","url":"example.com"}`, "invalid scan url"},
			{`{"title":"t","url":"https://example.com/scan","period":"7 days"}`, "unknown period"},
			{`{"title":"t","url":"https://example.com/scan","range":"Yearly"}`, "unknown range"},
			{`{"title":"t","url":"https://example.com/scan","schedule":"every day"}`, "invalid schedule"},
			{`{"title":"t","url":"https://example.com/scan","moving_averages":{"ma_0":{}}}`, "out of range"},
			{`[`, "invalid request body"},
		}
		for _, tt := range tbl {
			rec := serve(h, apiRequest("POST", "/api/presets", tt.body, "alice"))
			assert.Equal(t, http.StatusBadRequest, rec.Code, tt.body)
			assert.Contains(t, rec.Body.String(), tt.wantErr, tt.body)
		}
		rec := serve(h, apiRequest("PUT", "/api/presets/abc", `{}`, "alice"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := serve(h, apiRequest("DELETE", fmt.Sprintf("/api/presets/%d", created.ID), "", "bob"))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = serve(h, apiRequest("DELETE", fmt.Sprintf("/api/presets/%d", created.ID), "", "alice"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, sched.ReloadCalls(), 2)

		rec = serve(h, apiRequest("GET", "/api/presets", "", "alice"))
		assert.JSONEq(t, `[]`, rec.Body.String())

		rec = serve(h, apiRequest("DELETE", fmt.Sprintf("/api/presets/%d", created.ID), "", "alice"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_UpdateSettings(t *testing.T) {
	srv, st, user := prepServer(t, nil)
	h := srv.routes()

	rec := serve(h, apiRequest("POST", "/api/update_settings",
		`{"telegram_bot_token":" 123:abc ","telegram_chat_id":"-1001"}`, "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	u, err := st.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", u.TelegramToken)
	assert.Equal(t, "-1001", u.TelegramChatID)

	for _, body := range []string{
		`{"telegram_bot_token":"123:abc"}`,
		`{"telegram_chat_id":"1"}`,
		`{"telegram_bot_token":"nocolon","telegram_chat_id":"1"}`,
		`{`,
	} {
		rec = serve(h, apiRequest("POST", "/api/update_settings", body, "alice"))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec = serve(h, apiRequest("POST", "/api/update_settings", `{"telegram_bot_token":"","telegram_chat_id":""}`, "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	u, err = st.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, u.TelegramToken)

	t.Run("cross origin request rejected", func(t *testing.T) {
		req := apiRequest("POST", "/api/update_settings", `{}`, "alice")
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		assert.Equal(t, http.StatusForbidden, serve(h, req).Code)
	})
}

func TestServer_ListJobs(t *testing.T) {
	started := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	jm := &mocks.JobManagerMock{ListFunc: func(userID int64) []jobs.Job {
		return []jobs.Job{
			{ID: "live", Request: jobs.Request{UserID: userID, URL: "https://example.com/a"},
				Status: enums.JobStatusFetchingCharts, Total: 10, Processed: 2, Charts: 2, StartedAt: started},
			{ID: "done", Request: jobs.Request{UserID: userID, URL: "https://example.com/b"},
				Status: enums.JobStatusCompleted, Total: 2, Processed: 2, Charts: 2, StartedAt: started,
				FinishedAt: started.Add(time.Minute)},
		}
	}}
	srv, st, user := prepServer(t, jm)
	ctx := context.Background()
	require.NoError(t, st.SaveJob(ctx, store.JobRecord{ID: "done", UserID: user.ID, URL: "https://example.com/b",
		Status: enums.JobStatusCompleted, Total: 2, Processed: 2, Charts: 2, StartedAt: started,
		FinishedAt: started.Add(time.Minute)}))
	require.NoError(t, st.SaveJob(ctx, store.JobRecord{ID: "old", UserID: user.ID, URL: "https://example.com/c",
		Status: enums.JobStatusFailed, Error: jobs.NoDataMsg, StartedAt: started.Add(-time.Hour),
		FinishedAt: started.Add(-time.Hour)}))

	rec := serve(srv.routes(), apiRequest("GET", "/api/jobs", "", "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	var res []APIJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res, 3)

	assert.Equal(t, "live", res[0].ID)
	assert.True(t, res[0].Active)
	assert.False(t, res[0].Downloadable)
	assert.Nil(t, res[0].FinishedAt)

	assert.Equal(t, "done", res[1].ID)
	assert.True(t, res[1].Downloadable)

	assert.Equal(t, "old", res[2].ID)
	assert.False(t, res[2].Active)
	assert.Equal(t, "failed", res[2].Status)
	assert.Equal(t, jobs.NoDataMsg, res[2].Error)
	require.NotNil(t, res[2].StartedAt)
	assert.Equal(t, started.Add(-time.Hour).Unix(), res[2].StartedAt.Unix())

	require.Len(t, jm.ListCalls(), 1)
	assert.Equal(t, user.ID, jm.ListCalls()[0].UserID)
}
