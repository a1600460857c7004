package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ratingsync/internal/core/browser"
	"ratingsync/internal/core/extract"
	"ratingsync/internal/core/progress"
	"ratingsync/internal/core/scrape"
	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/logger"
)

// Cleaner frees memory between pages of a long job.
type Cleaner interface {
	Cleanup() browser.MemoryStats
}

type Options struct {
	InterPageDelay time.Duration
	// CleanupEvery triggers a memory cleanup after every n pages. Zero
	// disables it.
	CleanupEvery int
}

type Collector struct {
	pages   scrape.Fetcher
	extract *extract.Extractor
	site    scrape.Site
	memory  Cleaner
	opts    Options
	log     *logger.Logger
}

func NewCollector(pages scrape.Fetcher, ex *extract.Extractor, site scrape.Site, memory Cleaner, opts Options) *Collector {
	return &Collector{
		pages:   pages,
		extract: ex,
		site:    site,
		memory:  memory,
		opts:    opts,
		log:     logger.New("Collector"),
	}
}

// Profile fetches the profile page that carries the snapshot and histogram.
func (c *Collector) Profile(ctx context.Context, b browser.Browser, username string) (*goquery.Document, error) {
	return c.pages.Fetch(ctx, b, c.site.ProfileRequest(username))
}

// Films walks the film grid page by page, strictly in order, and returns
// every record in page order. Any failing page aborts the whole walk.
func (c *Collector) Films(ctx context.Context, b browser.Browser, job *Job, em progress.Emitter) ([]extract.FilmRecord, error) {
	log := c.log.With("username", job.Username)

	job.fetching(1)
	em.Emit(progress.Event{Kind: progress.KindFetchingFirstPage, Message: "Fetching first page of films", Page: 1})

	doc, err := c.pages.Fetch(ctx, b, c.site.FilmsRequest(job.Username, 1))
	if err != nil {
		return nil, c.pageError(ctx, err, 1, c.site.FilmsURL(job.Username, 1))
	}
	first := c.extract.Films(doc)
	total := c.extract.TotalPages(doc)
	if len(first) == 0 && total > 1 {
		return nil, scrapeerr.New(scrapeerr.CodeExtractionEmpty, "no films found on first page", nil).
			AtPage(1, c.site.FilmsURL(job.Username, 1))
	}

	job.extracted(first)
	job.setTotal(total)
	em.Emit(progress.Event{Kind: progress.KindPageExtracted, Message: fmt.Sprintf("Found %d films on page 1", len(first)), Page: 1, TotalPages: total, Count: len(first)})
	em.Emit(progress.Event{Kind: progress.KindPagesFound, Message: fmt.Sprintf("Found %d pages of films", total), TotalPages: total})
	em.Emit(progress.Event{Kind: progress.KindPageComplete, Message: "Completed page 1", Page: 1, TotalPages: total, Count: len(first), Total: len(first)})
	log.LogInfof("page 1/%d: %d films", total, len(first))

	if err := c.afterPage(ctx, 1, total, em); err != nil {
		return nil, err
	}

	films := first
	for page := 2; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return nil, cause(ctx)
		}
		url := c.site.FilmsURL(job.Username, page)

		job.fetching(page)
		em.Emit(progress.Event{Kind: progress.KindPageStart, Message: fmt.Sprintf("Fetching page %d of %d", page, total), Page: page, TotalPages: total})

		doc, err := c.pages.Fetch(ctx, b, c.site.FilmsRequest(job.Username, page))
		if err != nil {
			return nil, c.pageError(ctx, err, page, url)
		}
		batch := c.extract.Films(doc)
		if len(batch) == 0 {
			return nil, scrapeerr.New(scrapeerr.CodePartialPageFailure, "no films extracted", nil).AtPage(page, url)
		}

		job.extracted(batch)
		films = append(films, batch...)
		em.Emit(progress.Event{Kind: progress.KindPageExtracted, Message: fmt.Sprintf("Found %d films on page %d", len(batch), page), Page: page, TotalPages: total, Count: len(batch)})
		em.Emit(progress.Event{Kind: progress.KindPageComplete, Message: fmt.Sprintf("Completed page %d of %d", page, total), Page: page, TotalPages: total, Count: len(batch), Total: len(films)})
		log.LogDebugf("page %d/%d: %d films (%d total)", page, total, len(batch), len(films))

		if err := c.afterPage(ctx, page, total, em); err != nil {
			return nil, err
		}
	}
	return films, nil
}

// afterPage runs the periodic memory cleanup and the inter-page delay.
func (c *Collector) afterPage(ctx context.Context, page, total int, em progress.Emitter) error {
	if c.memory != nil && c.opts.CleanupEvery > 0 && page%c.opts.CleanupEvery == 0 {
		stats := c.memory.Cleanup()
		em.Emit(progress.Event{Kind: progress.KindMemoryCleanup, Message: fmt.Sprintf("Memory cleanup after page %d", page), Page: page, Data: stats})
	}
	if page >= total || c.opts.InterPageDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.opts.InterPageDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return cause(ctx)
	}
}

// pageError tags err with the failing page. Failures after page one become
// partial_page_failure; cancellation keeps its own cause.
func (c *Collector) pageError(ctx context.Context, err error, page int, url string) error {
	if ctx.Err() != nil {
		return cause(ctx)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if page == 1 {
		if se, ok := scrapeerr.As(err); ok {
			return scrapeerr.New(se.Code, se.Message, se.Err).AtPage(1, url)
		}
		return scrapeerr.New(scrapeerr.CodeInternal, "first page failed", err).AtPage(1, url)
	}
	return scrapeerr.New(scrapeerr.CodePartialPageFailure, "films page failed", err).AtPage(page, url)
}

func cause(ctx context.Context) error {
	if c := context.Cause(ctx); c != nil {
		return c
	}
	return ctx.Err()
}
