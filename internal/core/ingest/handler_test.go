package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratingsync/internal/core/job"
	"ratingsync/internal/core/progress"
	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/platform/redis"
	"ratingsync/internal/platform/tasks"
)

// kv stands in for redis: cache, job records and published messages.
type kv struct {
	mu        sync.Mutex
	data      map[string][]byte
	published []string
	deleted   []string
}

func newKV() *kv { return &kv{data: map[string][]byte{}} }

func (m *kv) CacheGet(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return redis.ErrMiss
	}
	return json.Unmarshal(b, dest)
}

func (m *kv) CacheDelete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *kv) CacheSet(_ context.Context, key string, val interface{}, _ int) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

func (m *kv) Publish(_ context.Context, _ string, payload string) error {
	m.mu.Lock()
	m.published = append(m.published, payload)
	m.mu.Unlock()
	return nil
}

func (m *kv) events() []progress.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []progress.Event
	for _, p := range m.published {
		if body, ok := job.ParseMessage(p); ok {
			var ev progress.Event
			if json.Unmarshal(body, &ev) == nil {
				out = append(out, ev)
			}
		}
	}
	return out
}

type capturedQueue struct {
	tasks []*asynq.Task
	fail  bool
}

func (q *capturedQueue) Enqueue(task *asynq.Task, _ string, _ int, _ time.Duration) error {
	if q.fail {
		return errors.New("redis down")
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// scriptedSource stands in for redis pub/sub. before runs while the
// subscription opens; feed then publishes in the background.
type scriptedSource struct {
	before func()
	feed   func(chan<- string)
}

func (s *scriptedSource) Subscribe(context.Context, string) (<-chan string, func() error) {
	if s.before != nil {
		s.before()
	}
	ch := make(chan string, 16)
	if s.feed != nil {
		go s.feed(ch)
	}
	return ch, func() error { return nil }
}

type api struct {
	*harness
	app   *fiber.App
	kv    *kv
	queue *capturedQueue
	jobs  *job.JobService
	tasks *Tasks
}

func newAPI(s *fakeSite, events EventSource) *api {
	h := newHarness(s)
	backend := newKV()
	jobs := job.NewJobService(backend)
	queue := &capturedQueue{}
	tk := NewTasks(h.svc, jobs, queue, TaskOptions{MaxRetries: 3})
	handler := NewHandler(h.svc, tk, jobs, backend, events, HandlerOptions{CacheTTLSeconds: 60, EmitZeroBuckets: true})

	app := fiber.New()
	app.Get("/v1/users/:username/:kind", handler.HandleRun)
	app.Get("/v1/users/:username/:kind/stream", handler.HandleStream)
	app.Post("/v1/ingest", handler.HandleEnqueue)
	app.Get("/v1/ingest/:jobId", handler.HandleStatus)
	app.Get("/v1/ingest/:jobId/events", handler.HandleJobEvents)
	return &api{harness: h, app: app, kv: backend, queue: queue, jobs: jobs, tasks: tk}
}

func (a *api) do(t *testing.T, method, target, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestHandleRunAndCache(t *testing.T) {
	a := newAPI(newFakeSite(profileHeader+histogram()), nil)

	code, body := a.do(t, "GET", "/v1/users/Jane/ratings?persist=false", "")
	require.Equal(t, fiber.StatusOK, code, body)
	var resp RunResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.False(t, resp.Cached)
	assert.Len(t, resp.Data.Ratings, 10)
	assert.False(t, resp.Data.Persisted)

	code, body = a.do(t, "GET", "/v1/users/jane/ratings?persist=false", "")
	require.Equal(t, fiber.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, 1, a.site.fetchCount())

	code, _ = a.do(t, "GET", "/v1/users/jane/ratings?persist=false&fresh=1", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 2, a.site.fetchCount())
	assert.Equal(t, []string{"result:ratings:jane:true"}, a.kv.deleted)

	// the fresh result replaced the cached one
	code, body = a.do(t, "GET", "/v1/users/jane/ratings?persist=false", "")
	require.Equal(t, fiber.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, 2, a.site.fetchCount())
}

func TestHandleRunErrors(t *testing.T) {
	s := newFakeSite(profileHeader)
	delete(s.pages, site.ProfileURL("jane"))
	a := newAPI(s, nil)

	code, body := a.do(t, "GET", "/v1/users/jane/profile", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Contains(t, body, `"code":"profile_not_found"`)

	code, _ = a.do(t, "GET", "/v1/users/jane/lists", "")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = a.do(t, "GET", "/v1/users/jane/profile?persist=maybe", "")
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestHandleStreamEmitsOrderedEvents(t *testing.T) {
	a := newAPI(newFakeSite(profileHeader+histogram(), 4, 4), nil)

	code, body := a.do(t, "GET", "/v1/users/jane/films/stream", "")
	require.Equal(t, fiber.StatusOK, code)

	var order []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			order = append(order, strings.TrimPrefix(line, "event: "))
		}
	}
	require.NotEmpty(t, order)
	assert.Equal(t, "init", order[0])
	assert.Equal(t, "complete", order[len(order)-1])
	assert.Contains(t, order, "pages_found")
	assert.Equal(t, 1, a.fleet.totalCloses())
	assert.Len(t, a.store.Films("jane"), 8)
}

func TestEnqueueAndHandleTask(t *testing.T) {
	a := newAPI(newFakeSite(profileHeader+histogram(), 3, 2), nil)

	code, body := a.do(t, "POST", "/v1/ingest", `{"username":"jane","kind":"films"}`)
	require.Equal(t, fiber.StatusAccepted, code, body)
	var created EnqueueResponse
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	require.NotEmpty(t, created.JobID)
	require.Len(t, a.queue.tasks, 1)
	assert.Equal(t, tasks.TaskTypeIngest, a.queue.tasks[0].Type())

	j, err := a.jobs.GetJobStatus(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)

	require.NoError(t, a.tasks.HandleTask(context.Background(), a.queue.tasks[0]))

	code, body = a.do(t, "GET", "/v1/ingest/"+created.JobID, "")
	require.Equal(t, fiber.StatusOK, code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, job.StatusCompleted, status.Job.Status)
	var res Result
	require.NoError(t, json.Unmarshal(status.Job.Result, &res))
	assert.Len(t, res.Films, 5)

	events := a.kv.events()
	require.NotEmpty(t, events)
	assert.Equal(t, progress.KindInit, events[0].Kind)
	assert.Equal(t, progress.KindComplete, events[len(events)-1].Kind)
	assert.Nil(t, events[len(events)-1].Data)
	assert.Len(t, a.store.Films("jane"), 5)
}

func TestHandleTaskRetryPolicy(t *testing.T) {
	t.Run("missing user is not retried", func(t *testing.T) {
		s := newFakeSite(profileHeader, 3)
		delete(s.pages, site.ProfileURL("jane"))
		a := newAPI(s, nil)
		id, err := a.tasks.Enqueue(context.Background(), Request{Username: "jane", Kind: "films", Persist: true})
		require.NoError(t, err)

		err = a.tasks.HandleTask(context.Background(), a.queue.tasks[0])
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)

		j, _ := a.jobs.GetJobStatus(context.Background(), id)
		assert.Equal(t, job.StatusFailed, j.Status)
		assert.Equal(t, string(scrapeerr.CodeProfileNotFound), j.Error.Code)
	})

	t.Run("page failure is retried", func(t *testing.T) {
		s := newFakeSite(profileHeader, 3, 3)
		s.errs[site.FilmsURL("jane", 2)] = scrapeerr.New(scrapeerr.CodeNavigationTimeout, "slow", nil)
		a := newAPI(s, nil)
		id, err := a.tasks.Enqueue(context.Background(), Request{Username: "jane", Kind: "films", Persist: true})
		require.NoError(t, err)

		err = a.tasks.HandleTask(context.Background(), a.queue.tasks[0])
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)

		j, _ := a.jobs.GetJobStatus(context.Background(), id)
		assert.Equal(t, job.StatusPending, j.Status)
		assert.Equal(t, string(scrapeerr.CodePartialPageFailure), j.Error.Code)
		assert.Empty(t, a.store.Films("jane"))
	})
}

func TestEnqueueRejections(t *testing.T) {
	a := newAPI(newFakeSite(profileHeader), nil)
	a.queue.fail = true

	code, _ := a.do(t, "POST", "/v1/ingest", `{"username":"jane","kind":"ratings"}`)
	assert.Equal(t, fiber.StatusInternalServerError, code)

	code, _ = a.do(t, "POST", "/v1/ingest", `{"username":"jane","kind":"nope"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestHandleJobEventsRelaysUntilTerminal(t *testing.T) {
	src := &scriptedSource{}
	a := newAPI(newFakeSite(profileHeader), src)
	ctx := context.Background()
	require.NoError(t, a.jobs.InitPending(ctx, "j1", job.TypeFilms, "jane"))

	src.feed = func(ch chan<- string) {
		time.Sleep(20 * time.Millisecond)
		ch <- `event:{"type":"page_start","page":2}`
		_ = a.jobs.Complete(ctx, "j1", map[string]int{"films": 2})
		ch <- job.UpdatedMessage
	}

	code, body := a.do(t, "GET", "/v1/ingest/j1/events", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 2, strings.Count(body, "event: status"))
	assert.Contains(t, body, "event: progress\ndata: {\"type\":\"page_start\",\"page\":2}")
	assert.Contains(t, body, `"status":"completed"`)

	code, _ = a.do(t, "GET", "/v1/ingest/missing/events", "")
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestHandleJobEventsJobEndsWhileSubscribing(t *testing.T) {
	src := &scriptedSource{}
	a := newAPI(newFakeSite(profileHeader), src)
	ctx := context.Background()
	require.NoError(t, a.jobs.InitPending(ctx, "j2", job.TypeFilms, "jane"))
	require.NoError(t, a.jobs.SetProcessing(ctx, "j2", 1))

	// the final update is published before the subscription exists and is
	// never delivered
	src.before = func() { _ = a.jobs.Fail(ctx, "j2", "profile_not_found", "gone", true) }

	code, body := a.do(t, "GET", "/v1/ingest/j2/events", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 1, strings.Count(body, "event: status"))
	assert.Contains(t, body, `"status":"failed"`)
}

func TestStatusFor(t *testing.T) {
	cases := map[scrapeerr.Code]int{
		scrapeerr.CodeProfileNotFound:    fiber.StatusNotFound,
		scrapeerr.CodeNavigationTimeout:  fiber.StatusGatewayTimeout,
		scrapeerr.CodeExtractionEmpty:    fiber.StatusUnprocessableEntity,
		scrapeerr.CodeResourceExhaustion: fiber.StatusServiceUnavailable,
		scrapeerr.CodePartialPageFailure: fiber.StatusBadGateway,
		scrapeerr.CodeInternal:           fiber.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusFor(scrapeerr.New(code, "x", nil)), code)
	}
	assert.Equal(t, fiber.StatusRequestTimeout, StatusFor(scrapeerr.ErrConsumerGone))
}
