package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"ratingsync/internal/core/collect"
	"ratingsync/internal/core/job"
	"ratingsync/internal/core/progress"
	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/logger"
	"ratingsync/internal/platform/redis"
	"ratingsync/internal/utils/parser"
)

// Cache stores finished results for repeated blocking requests. CacheGet
// reports a missing key as redis.ErrMiss.
type Cache interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttlSeconds int) error
	CacheDelete(ctx context.Context, key string) error
}

// EventSource subscribes to a pub/sub channel.
type EventSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error)
}

type HandlerOptions struct {
	Progress        progress.Options
	CacheTTLSeconds int
	EmitZeroBuckets bool
}

type Handler struct {
	svc    *Service
	tasks  *Tasks
	jobs   *job.JobService
	cache  Cache
	events EventSource
	opts   HandlerOptions
	log    *logger.Logger
}

// NewHandler builds the HTTP handler. tasks, jobs, cache and events may be
// nil; the routes that need them then answer 503.
func NewHandler(svc *Service, tasks *Tasks, jobs *job.JobService, cache Cache, events EventSource, opts HandlerOptions) *Handler {
	return &Handler{svc: svc, tasks: tasks, jobs: jobs, cache: cache, events: events, opts: opts, log: logger.New("IngestHandler")}
}

type RunParams struct {
	Persist     bool  `query:"persist" default:"true"`
	IncludeZero *bool `query:"include_zero"`
	Fresh       bool  `query:"fresh"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Page    int    `json:"page,omitempty"`
}

type RunResponse struct {
	Success bool    `json:"success"`
	Cached  bool    `json:"cached"`
	Data    *Result `json:"data"`
}

func (h *Handler) request(c *fiber.Ctx) (Request, RunParams, error) {
	var p RunParams
	if err := parser.ParseQuery(c, &p); err != nil {
		return Request{}, p, err
	}
	kind, err := collect.ParseKind(c.Params("kind"))
	if err != nil {
		return Request{}, p, err
	}
	req := Request{
		Username:        strings.ToLower(strings.TrimSpace(c.Params("username"))),
		Kind:            kind,
		Persist:         p.Persist,
		EmitZeroBuckets: p.IncludeZero,
	}
	return req, p, req.Validate()
}

func cacheKey(req Request, emitZero bool) string {
	return fmt.Sprintf("result:%s:%s:%t", req.Kind, req.Username, emitZero)
}

// HandleRun blocks until the job ends and returns its result.
func (h *Handler) HandleRun(c *fiber.Ctx) error {
	req, p, err := h.request(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	emitZero := h.opts.EmitZeroBuckets
	if req.EmitZeroBuckets != nil {
		emitZero = *req.EmitZeroBuckets
	}
	key := cacheKey(req, emitZero)
	ctx := c.UserContext()

	if h.cache != nil {
		if p.Fresh {
			if err := h.cache.CacheDelete(ctx, key); err != nil {
				h.log.LogWarnf("drop cached result %s: %v", key, err)
			}
		} else {
			var cached Result
			err := h.cache.CacheGet(ctx, key, &cached)
			if err == nil {
				return c.JSON(RunResponse{Success: true, Cached: true, Data: &cached})
			}
			if !errors.Is(err, redis.ErrMiss) {
				h.log.LogWarnf("read cached result %s: %v", key, err)
			}
		}
	}

	// the caller only wants the result
	ch := progress.New(ctx, h.opts.Progress)
	if err := ch.DropEvents(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	res, err := h.svc.Run(ctx, req, ch)
	if err != nil {
		return h.fail(c, err)
	}
	if h.cache != nil && h.opts.CacheTTLSeconds > 0 {
		if err := h.cache.CacheSet(ctx, key, res, h.opts.CacheTTLSeconds); err != nil {
			h.log.LogDebugf("cache result %s: %v", key, err)
		}
	}
	return c.JSON(RunResponse{Success: true, Data: res})
}

// HandleStream runs the job and streams its progress as server-sent events.
// A failed write means the client left; the subscription is cancelled and
// the job winds down.
func (h *Handler) HandleStream(c *fiber.Ctx) error {
	req, _, err := h.request(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	ch := progress.New(context.Background(), h.opts.Progress)
	sub, err := ch.Subscribe()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	go func() {
		_, _ = h.svc.Run(context.Background(), req, ch)
	}()

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for {
			ev, ok := sub.Next(context.Background())
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.LogErrorf("encode event: %v", err)
				continue
			}
			if err := writeSSE(w, string(ev.Kind), data); err != nil {
				h.log.LogInfof("stream client for %s/%s went away: %v", req.Username, req.Kind, err)
				sub.Cancel()
				return
			}
		}
	}))
	return nil
}

type EnqueueRequest struct {
	Username    string `json:"username"`
	Kind        string `json:"kind"`
	Persist     *bool  `json:"persist,omitempty"`
	IncludeZero *bool  `json:"include_zero,omitempty"`
}

type EnqueueResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

func (h *Handler) HandleEnqueue(c *fiber.Ctx) error {
	if h.tasks == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "async jobs are not enabled"})
	}
	var body EnqueueRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid body"})
	}
	req := Request{
		Username:        strings.ToLower(strings.TrimSpace(body.Username)),
		Kind:            collect.Kind(body.Kind),
		Persist:         body.Persist == nil || *body.Persist,
		EmitZeroBuckets: body.IncludeZero,
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	id, err := h.tasks.Enqueue(c.UserContext(), req)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(EnqueueResponse{Success: true, JobID: id})
}

type StatusResponse struct {
	Success bool     `json:"success"`
	Job     *job.Job `json:"job"`
}

func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	if h.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "async jobs are not enabled"})
	}
	j, err := h.jobs.GetJobStatus(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "not_found"})
	}
	return c.JSON(StatusResponse{Success: true, Job: j})
}

// HandleJobEvents relays a queued job's progress from redis pub/sub. The
// stream ends once the job reaches a terminal status.
func (h *Handler) HandleJobEvents(c *fiber.Ctx) error {
	if h.jobs == nil || h.events == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "async jobs are not enabled"})
	}
	id := c.Params("jobId")
	if _, err := h.jobs.GetJobStatus(c.UserContext(), id); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "not_found"})
	}

	// subscribe before reading the status the stream starts from, so an
	// update published in between is not lost
	ctx, cancel := context.WithCancel(context.Background())
	msgs, closeSub := h.events.Subscribe(ctx, job.Key(id))
	current, err := h.jobs.GetJobStatus(ctx, id)
	if err != nil {
		_ = closeSub()
		cancel()
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "not_found"})
	}
	keepalive := h.opts.Progress.Heartbeat
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer func() { _ = closeSub() }()

		send := func(name string, v interface{}) bool {
			data, err := json.Marshal(v)
			if err != nil {
				return true
			}
			return writeSSE(w, name, data) == nil
		}
		if !send("status", current) || current.Status.Terminal() {
			return
		}

		tick := time.NewTicker(keepalive)
		defer tick.Stop()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if body, isEvent := job.ParseMessage(msg); isEvent {
					if writeSSE(w, "progress", body) != nil {
						return
					}
					continue
				}
				j, err := h.jobs.GetJobStatus(ctx, id)
				if err != nil {
					continue
				}
				if !send("status", j) || j.Status.Terminal() {
					return
				}
			case <-tick.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if w.Flush() != nil {
					return
				}
			}
		}
	}))
	return nil
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

// writeSSE writes one event frame and flushes it.
func writeSSE(w *bufio.Writer, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	resp := ErrorResponse{Error: scrapeerr.UserMessage(err), Code: string(scrapeerr.CodeOf(err))}
	if se, ok := scrapeerr.As(err); ok {
		resp.Page = se.Page
	}
	return c.Status(StatusFor(err)).JSON(resp)
}

// StatusFor maps a job failure to an HTTP status.
func StatusFor(err error) int {
	switch scrapeerr.CodeOf(err) {
	case scrapeerr.CodeProfileNotFound, scrapeerr.CodeContentNotFound:
		return fiber.StatusNotFound
	case scrapeerr.CodeNavigationTimeout, scrapeerr.CodeJobTimeout:
		return fiber.StatusGatewayTimeout
	case scrapeerr.CodeExtractionEmpty:
		return fiber.StatusUnprocessableEntity
	case scrapeerr.CodeResourceExhaustion:
		return fiber.StatusServiceUnavailable
	case scrapeerr.CodePartialPageFailure, scrapeerr.CodePersistence:
		return fiber.StatusBadGateway
	case scrapeerr.CodeCancelled:
		return fiber.StatusRequestTimeout
	}
	return fiber.StatusInternalServerError
}
