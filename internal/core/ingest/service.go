// Package ingest runs one scrape job end to end: acquire a browser, collect,
// persist, report progress, release.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ratingsync/internal/core/browser"
	"ratingsync/internal/core/collect"
	"ratingsync/internal/core/extract"
	"ratingsync/internal/core/progress"
	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/logger"
	"ratingsync/internal/store"
)

type Request struct {
	Username string
	Kind     collect.Kind
	Persist  bool
	// EmitZeroBuckets overrides the extractor's zero-bucket policy when set.
	EmitZeroBuckets *bool
}

func (r Request) Validate() error {
	if r.Username == "" {
		return errors.New("username is required")
	}
	if _, err := collect.ParseKind(string(r.Kind)); err != nil {
		return err
	}
	return nil
}

type Result struct {
	Username   string                   `json:"username"`
	Kind       collect.Kind             `json:"kind"`
	Profile    *extract.ProfileSnapshot `json:"profile,omitempty"`
	Ratings    []extract.RatingBucket   `json:"ratings,omitempty"`
	Films      []extract.FilmRecord     `json:"films,omitempty"`
	TotalPages int                      `json:"total_pages,omitempty"`
	Persisted  bool                     `json:"persisted"`
	Warnings   []string                 `json:"warnings,omitempty"`
	DurationMs int64                    `json:"duration_ms"`
}

// Count is the number of primary records the job produced.
func (r *Result) Count() int {
	switch r.Kind {
	case collect.KindFilms:
		return len(r.Films)
	case collect.KindRatings:
		return len(r.Ratings)
	}
	if r.Profile != nil {
		return 1
	}
	return 0
}

// Snapshotter keeps raw HTML of pages that produced no records.
type Snapshotter interface {
	Save(ctx context.Context, username, kind, html string) (string, error)
}

type Service struct {
	browsers  *browser.Manager
	collector *collect.Collector
	extract   *extract.Extractor
	store     store.Store
	snapshots Snapshotter
	log       *logger.Logger
}

// NewService wires the orchestrator. st and snaps may be nil, in which case
// persistence and snapshots are skipped.
func NewService(browsers *browser.Manager, collector *collect.Collector, ex *extract.Extractor, st store.Store, snaps Snapshotter) *Service {
	return &Service{
		browsers:  browsers,
		collector: collector,
		extract:   ex,
		store:     st,
		snapshots: snaps,
		log:       logger.New("IngestService"),
	}
}

// Run executes req and reports through ch. The work runs on ch's context, so
// a consumer disconnect or the job ceiling stops it; cancelling ctx does the
// same. Exactly one terminal event is emitted and every browser resource is
// released before Run returns.
func (s *Service) Run(ctx context.Context, req Request, ch *progress.Channel) (*Result, error) {
	if err := req.Validate(); err != nil {
		ch.Fail(scrapeerr.New(scrapeerr.CodeInternal, err.Error(), err))
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { ch.Fail(context.Cause(ctx)) })
	defer stop()

	start := time.Now()
	work := ch.Context()
	job := collect.NewJob(req.Username, req.Kind)
	log := s.log.With("username", req.Username).With("kind", string(req.Kind))

	ch.Emit(progress.Event{Kind: progress.KindInit, Message: fmt.Sprintf("Starting %s job for %s", req.Kind, req.Username)})

	res := &Result{Username: req.Username, Kind: req.Kind}
	var err error
	switch req.Kind {
	case collect.KindProfile:
		err = s.runProfile(work, req, job, res, ch)
	case collect.KindRatings:
		err = s.runRatings(work, req, job, res, ch)
	case collect.KindFilms:
		err = s.runFilms(work, req, job, res, ch)
	}
	res.DurationMs = time.Since(start).Milliseconds()

	if err == nil && work.Err() != nil {
		err = cause(work)
	}
	if err != nil {
		if work.Err() != nil {
			err = cause(work)
		}
		job.Finish(err)
		ch.Fail(err)
		log.LogWarnf("job failed after %v: %v", time.Since(start), err)
		return nil, err
	}

	job.Finish(nil)
	if !ch.Complete(progress.Event{
		Message: fmt.Sprintf("Finished %s job for %s", req.Kind, req.Username),
		Total:   res.Count(),
		Data:    res,
	}) {
		return nil, cause(work)
	}
	log.LogSuccessf("job finished in %v: %d records", time.Since(start), res.Count())
	return res, nil
}

func (s *Service) extractorFor(req Request) *extract.Extractor {
	if req.EmitZeroBuckets == nil {
		return s.extract
	}
	return s.extract.WithOptions(extract.Options{EmitZeroBuckets: *req.EmitZeroBuckets})
}

func (s *Service) runProfile(ctx context.Context, req Request, job *collect.Job, res *Result, ch *progress.Channel) error {
	b, err := s.browsers.AcquireShared(ctx)
	if err != nil {
		return err
	}
	doc, err := s.fetchProfile(ctx, b, req, ch)
	if err != nil {
		return err
	}

	snap, err := s.extract.Profile(doc, req.Username)
	if err != nil {
		s.snapshot(ctx, req, doc, err)
		return err
	}
	res.Profile = &snap
	ch.Emit(progress.Event{Kind: progress.KindProfileExtracted, Message: "Profile extracted", Data: snap})

	if !s.persisting(req) {
		return nil
	}
	job.Saving()
	ch.Emit(progress.Event{Kind: progress.KindSaving, Message: "Saving profile"})
	if err := s.store.UpsertProfile(ctx, req.Username, snap); err != nil {
		return scrapeerr.New(scrapeerr.CodePersistence, "save profile", err)
	}
	res.Persisted = true
	return nil
}

func (s *Service) runRatings(ctx context.Context, req Request, job *collect.Job, res *Result, ch *progress.Channel) error {
	b, err := s.browsers.AcquireShared(ctx)
	if err != nil {
		return err
	}
	doc, err := s.fetchProfile(ctx, b, req, ch)
	if err != nil {
		return err
	}

	if snap, err := s.extract.Profile(doc, req.Username); err != nil {
		s.warn(ch, res, fmt.Sprintf("profile details unavailable: %v", err))
	} else {
		res.Profile = &snap
		ch.Emit(progress.Event{Kind: progress.KindProfileExtracted, Message: "Profile extracted", Data: snap})
	}

	ch.Emit(progress.Event{Kind: progress.KindRatingsFetching, Message: "Reading ratings histogram"})
	buckets, err := s.extractorFor(req).Histogram(doc)
	if err != nil {
		s.snapshot(ctx, req, doc, err)
		return err
	}
	res.Ratings = buckets
	ch.Emit(progress.Event{Kind: progress.KindRatingsExtracted, Message: fmt.Sprintf("Extracted %d rating buckets", len(buckets)), Count: len(buckets), Data: buckets})

	if !s.persisting(req) {
		return nil
	}
	job.Saving()
	ch.Emit(progress.Event{Kind: progress.KindSaving, Message: "Saving ratings"})
	if res.Profile != nil {
		if err := s.store.UpsertProfile(ctx, req.Username, *res.Profile); err != nil {
			s.warn(ch, res, fmt.Sprintf("saving profile failed: %v", err))
		}
	}
	if err := s.store.UpsertRatings(ctx, req.Username, buckets); err != nil {
		return scrapeerr.New(scrapeerr.CodePersistence, "save ratings", err)
	}
	res.Persisted = true
	return nil
}

func (s *Service) runFilms(ctx context.Context, req Request, job *collect.Job, res *Result, ch *progress.Channel) error {
	ch.Emit(progress.Event{Kind: progress.KindBrowserLaunch, Message: "Launching browser"})
	lease, err := s.browsers.AcquireJob(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	b := lease.Browser()

	// Profile and histogram are extras here; only a missing user or a
	// stopped job ends the run.
	doc, err := s.fetchProfile(ctx, b, req, ch)
	switch {
	case err == nil:
		if snap, perr := s.extract.Profile(doc, req.Username); perr == nil {
			res.Profile = &snap
			ch.Emit(progress.Event{Kind: progress.KindProfileExtracted, Message: "Profile extracted", Data: snap})
		} else {
			s.warn(ch, res, fmt.Sprintf("profile details unavailable: %v", perr))
		}
		if buckets, herr := s.extractorFor(req).Histogram(doc); herr == nil {
			res.Ratings = buckets
			ch.Emit(progress.Event{Kind: progress.KindRatingsExtracted, Message: fmt.Sprintf("Extracted %d rating buckets", len(buckets)), Count: len(buckets)})
		} else {
			s.warn(ch, res, fmt.Sprintf("ratings histogram unavailable: %v", herr))
		}
	case ctx.Err() != nil, scrapeerr.Is(err, scrapeerr.CodeProfileNotFound):
		return err
	default:
		s.warn(ch, res, fmt.Sprintf("profile page failed: %v", err))
	}

	films, err := s.collector.Films(ctx, b, job, ch)
	if err != nil {
		return err
	}
	res.Films = films
	_, res.TotalPages = job.Page()

	if !s.persisting(req) {
		return nil
	}
	job.Saving()
	ch.Emit(progress.Event{Kind: progress.KindSaving, Message: fmt.Sprintf("Saving %d films", len(films)), Total: len(films)})
	if res.Profile != nil {
		if err := s.store.UpsertProfile(ctx, req.Username, *res.Profile); err != nil {
			s.warn(ch, res, fmt.Sprintf("saving profile failed: %v", err))
		}
	}
	if len(res.Ratings) > 0 {
		if err := s.store.UpsertRatings(ctx, req.Username, res.Ratings); err != nil {
			s.warn(ch, res, fmt.Sprintf("saving ratings failed: %v", err))
		}
	}
	if err := s.store.UpsertFilms(ctx, req.Username, films); err != nil {
		return scrapeerr.New(scrapeerr.CodePersistence, "save films", err)
	}
	res.Persisted = true
	return nil
}

func (s *Service) fetchProfile(ctx context.Context, b browser.Browser, req Request, ch *progress.Channel) (*goquery.Document, error) {
	ch.Emit(progress.Event{Kind: progress.KindProfileFetching, Message: "Loading profile page"})
	return s.collector.Profile(ctx, b, req.Username)
}

func (s *Service) persisting(req Request) bool { return req.Persist && s.store != nil }

func (s *Service) warn(ch *progress.Channel, res *Result, msg string) {
	res.Warnings = append(res.Warnings, msg)
	ch.Emit(progress.Event{Kind: progress.KindWarning, Message: msg})
	s.log.LogWarn(msg)
}

// snapshot keeps the page behind an extraction_empty failure. Failures here
// are only logged.
func (s *Service) snapshot(ctx context.Context, req Request, doc *goquery.Document, failure error) {
	if s.snapshots == nil || doc == nil || !scrapeerr.Is(failure, scrapeerr.CodeExtractionEmpty) {
		return
	}
	html, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		s.log.LogDebugf("render snapshot: %v", err)
		return
	}
	where, err := s.snapshots.Save(ctx, req.Username, string(req.Kind), html)
	if err != nil {
		s.log.LogWarnf("snapshot for %s/%s not saved: %v", req.Username, req.Kind, err)
		return
	}
	s.log.LogInfof("saved empty-extraction snapshot to %s", where)
}

func cause(ctx context.Context) error {
	if c := context.Cause(ctx); c != nil {
		return c
	}
	return ctx.Err()
}
