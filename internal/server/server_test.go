package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"content-pilot/internal/clock"
	"content-pilot/internal/compose"
	"content-pilot/internal/dashboard"
	"content-pilot/internal/lifecycle"
	"content-pilot/internal/model"
	"content-pilot/internal/ports"
	"content-pilot/internal/publisher"
	"content-pilot/internal/store"
	"content-pilot/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type stubPublisher struct {
	calls int
	err   error
}

func (p *stubPublisher) Publish(_ context.Context, a model.Article) (ports.PublishResult, error) {
	p.calls++
	if p.err != nil {
		return ports.PublishResult{}, p.err
	}
	return ports.PublishResult{ExternalID: "99", URL: "https://blog.example/?p=99"}, nil
}

type stubComposer struct {
	st  store.Store
	err error
}

func (c *stubComposer) FromTopic(ctx context.Context, topic string) (*model.Article, error) {
	if c.err != nil {
		return nil, c.err
	}
	a := model.NewArticle(topic, "<p>generated</p>", now)
	a.Status = model.StatusApproved
	if err := c.st.Create(ctx, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

type stubJobs struct {
	err error
}

func (j *stubJobs) Jobs() []string { return []string{worker.JobAutoPublish} }

func (j *stubJobs) RunNow(_ context.Context, name string) (worker.BatchReport, error) {
	if j.err != nil {
		return worker.BatchReport{}, j.err
	}
	if name != worker.JobAutoPublish {
		return worker.BatchReport{}, worker.ErrUnknownJob
	}
	return worker.BatchReport{Job: name, Attempted: 1, Succeeded: 1}, nil
}

type fixture struct {
	srv   *httptest.Server
	store store.Store
	pub   *stubPublisher
	comp  *stubComposer
	jobs  *stubJobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := clock.NewFake(now)
	pub := &stubPublisher{}
	reg := publisher.NewRegistry()
	reg.Register("wordpress", pub)

	ctrl := lifecycle.NewController(lifecycle.Deps{
		Store:      st,
		Clock:      clk,
		Publishers: reg,
		Options:    lifecycle.DefaultOptions(),
	})
	f := &fixture{store: st, pub: pub, comp: &stubComposer{st: st}, jobs: &stubJobs{}}
	s := NewServer(Deps{
		Store:     st,
		Lifecycle: ctrl,
		Switch:    worker.NewStoreSwitch(st),
		Dashboard: dashboard.New(st, clk),
		Composer:  f.comp,
		Jobs:      f.jobs,
	})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) seed(t *testing.T, status model.ArticleStatus) model.Article {
	t.Helper()
	a := model.NewArticle("Seeded", "<p>seeded body</p>", now.Add(-time.Hour))
	a.Status = status
	if status == model.StatusDeleted {
		a.DeletedAt = model.TimePtr(now)
	}
	require.NoError(t, f.store.Create(context.Background(), &a))
	return a
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPublishLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, model.StatusDraft)
	base := "/api/articles/" + a.ID.String()

	resp, _ := f.do(t, http.MethodPost, base+"/publish", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "drafts are not publishable")

	resp, body := f.do(t, http.MethodPost, base+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["status"])

	resp, body = f.do(t, http.MethodPost, base+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "published", body["message"])
	assert.Equal(t, "https://blog.example/?p=99", body["url"])

	resp, body = f.do(t, http.MethodPost, base+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "already published", body["message"])
	assert.Equal(t, 1, f.pub.calls)

	resp, body = f.do(t, http.MethodPost, base+"/views", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["view_count"])
}

func TestPublisherFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("wordpress down")
	a := f.seed(t, model.StatusApproved)

	resp, body := f.do(t, http.MethodPost, "/api/articles/"+a.ID.String()+"/publish", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "wordpress down")

	got, err := f.store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
}

func TestDeleteRestoreAndEdit(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, model.StatusApproved)
	base := "/api/articles/" + a.ID.String()

	resp, body := f.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deleted", body["status"])

	resp, body = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], lifecycle.ReasonAlreadyDeleted)

	resp, _ = f.do(t, http.MethodPut, base, editRequest{Title: "New", Content: "<p>new</p>"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, base+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["status"])

	resp, body = f.do(t, http.MethodPut, base, editRequest{Title: "New", Content: "<p>new</p>"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "New", body["title"])
	assert.EqualValues(t, 1, body["rewrite_count"])

	resp, _ = f.do(t, http.MethodPut, base, editRequest{Title: "only title"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFlags(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, model.StatusApproved)
	base := "/api/articles/" + a.ID.String()

	resp, body := f.do(t, http.MethodPut, base+"/ads", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ads_enabled"])

	resp, body = f.do(t, http.MethodPut, base+"/auto-publish", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["auto_publish_enabled"])

	resp, _ = f.do(t, http.MethodPut, base+"/ads", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotFoundAndBadRequests(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/articles/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing := model.NewArticle("x", "y", now).ID.String()
	resp, _ = f.do(t, http.MethodGet, "/api/articles/"+missing, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/articles/"+missing+"/approve", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	a := f.seed(t, model.StatusApproved)
	resp, _ = f.do(t, http.MethodPost, "/api/articles/"+a.ID.String()+"/reoptimize?mode=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/articles/"+a.ID.String()+"/views", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "views count only for published articles")

	resp, _ = f.do(t, http.MethodGet, "/api/articles?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.StatusDraft)
	f.seed(t, model.StatusApproved)

	resp, err := http.Get(f.srv.URL + "/api/articles?status=approved")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var articles []model.Article
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&articles))
	require.Len(t, articles, 1)
	assert.Equal(t, model.StatusApproved, articles[0].Status)
}

func TestAutoPublishSwitch(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/auto-publish", nil)
	assert.Equal(t, true, body["enabled"])

	resp, body := f.do(t, http.MethodPost, "/api/auto-publish/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Auto publishing paused", body["message"])

	_, body = f.do(t, http.MethodGet, "/api/auto-publish", nil)
	assert.Equal(t, false, body["enabled"])

	f.do(t, http.MethodPost, "/api/auto-publish/resume", nil)
	_, body = f.do(t, http.MethodGet, "/api/auto-publish", nil)
	assert.Equal(t, true, body["enabled"])
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/generate", generateRequest{Topic: "Edge AI"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Edge AI", body["title"])

	resp, _ = f.do(t, http.MethodPost, "/api/generate", generateRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.comp.err = compose.ErrTopicOnHold
	resp, _ = f.do(t, http.MethodPost, "/api/generate", generateRequest{Topic: "Edge AI"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.comp.err = ports.ErrEmptyOutput
	resp, _ = f.do(t, http.MethodPost, "/api/generate", generateRequest{Topic: "Quantum"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestImportWithoutImporter(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/import", importRequest{URL: "https://example.com/a"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestJobs(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/jobs/"+worker.JobAutoPublish+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["succeeded"])

	resp, _ = f.do(t, http.MethodPost, "/api/jobs/nope/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.jobs.err = worker.ErrJobRunning
	resp, _ = f.do(t, http.MethodPost, "/api/jobs/"+worker.JobAutoPublish+"/run", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDashboardAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.seed(t, model.StatusDraft)
	f.seed(t, model.StatusApproved)

	resp, body := f.do(t, http.MethodGet, "/api/dashboard/overview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["total_articles"])

	for _, path := range []string{"/api/dashboard/low-view", "/api/dashboard/top?limit=3", "/api/dashboard/topics"} {
		resp, err := http.Get(f.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(lifecycle.ErrPersistence))
	assert.Equal(t, http.StatusBadGateway, statusFor(lifecycle.ErrCollaborator))
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(compose.ErrNoAllowedTopic))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
