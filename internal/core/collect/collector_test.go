package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratingsync/internal/core/browser"
	"ratingsync/internal/core/extract"
	"ratingsync/internal/core/progress"
	"ratingsync/internal/core/scrape"
	"ratingsync/internal/core/scrapeerr"
)

var site = scrape.Site{BaseURL: "https://films.test"}

// gridHTML renders page n of a total-page grid holding count films.
func gridHTML(page, total, count int) string {
	var b strings.Builder
	b.WriteString(`<ul class="poster-list">`)
	for i := 0; i < count; i++ {
		slug := fmt.Sprintf("film-p%d-%02d", page, i)
		fmt.Fprintf(&b, `<li class="poster-container"><div class="film-poster" data-film-slug="%s"><img alt="%s"/></div></li>`, slug, slug)
	}
	b.WriteString(`</ul>`)
	if total > 1 {
		b.WriteString(`<div class="paginate-pages"><ul>`)
		for p := 1; p <= total; p++ {
			fmt.Fprintf(&b, `<li><a>%d</a></li>`, p)
		}
		b.WriteString(`</ul></div>`)
	}
	return b.String()
}

type fakePages struct {
	mu     sync.Mutex
	counts []int // films per page
	failAt int
	err    error
	onPage func(page int)
	urls   []string
}

func (f *fakePages) Fetch(_ context.Context, _ browser.Browser, req scrape.Request) (*goquery.Document, error) {
	f.mu.Lock()
	f.urls = append(f.urls, req.URL)
	page := len(f.urls)
	f.mu.Unlock()

	if f.onPage != nil {
		f.onPage(page)
	}
	if page == f.failAt {
		return nil, f.err
	}
	html := gridHTML(page, len(f.counts), f.counts[page-1])
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(e progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []progress.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type countingCleaner struct{ calls int }

func (c *countingCleaner) Cleanup() browser.MemoryStats {
	c.calls++
	return browser.MemoryStats{Pressure: "normal"}
}

func newCollector(pages scrape.Fetcher, opts Options) (*Collector, *countingCleaner) {
	cl := &countingCleaner{}
	return NewCollector(pages, extract.New(extract.DefaultSelectors(), extract.Options{}), site, cl, opts), cl
}

func TestFilmsAggregatesPagesInOrder(t *testing.T) {
	pages := &fakePages{counts: []int{20, 20, 7}}
	c, _ := newCollector(pages, Options{})
	rec := &recorder{}
	job := NewJob("jane", KindFilms)

	films, err := c.Films(context.Background(), nil, job, rec)
	require.NoError(t, err)
	require.Len(t, films, 47)

	seen := map[string]bool{}
	for i, f := range films {
		page, idx := 1, i
		if i >= 40 {
			page, idx = 3, i-40
		} else if i >= 20 {
			page, idx = 2, i-20
		}
		assert.Equal(t, fmt.Sprintf("film-p%d-%02d", page, idx), f.Slug)
		assert.False(t, seen[f.Slug])
		seen[f.Slug] = true
	}

	assert.Equal(t, []string{
		"https://films.test/jane/films/",
		"https://films.test/jane/films/page/2/",
		"https://films.test/jane/films/page/3/",
	}, pages.urls)

	assert.Equal(t, []progress.Kind{
		progress.KindFetchingFirstPage, progress.KindPageExtracted, progress.KindPagesFound, progress.KindPageComplete,
		progress.KindPageStart, progress.KindPageExtracted, progress.KindPageComplete,
		progress.KindPageStart, progress.KindPageExtracted, progress.KindPageComplete,
	}, rec.kinds())
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, 3, last.Page)
	assert.Equal(t, 47, last.Total)

	assert.Equal(t, StatePageExtracted, job.State())
	assert.Len(t, job.Films(), 47)
	page, total := job.Page()
	assert.Equal(t, 3, page)
	assert.Equal(t, 3, total)
}

func TestFilmsWithoutPaginationFetchesOnePage(t *testing.T) {
	pages := &fakePages{counts: []int{5}}
	c, _ := newCollector(pages, Options{InterPageDelay: time.Hour})

	films, err := c.Films(context.Background(), nil, NewJob("jane", KindFilms), progress.Discard)
	require.NoError(t, err)
	assert.Len(t, films, 5)
	assert.Len(t, pages.urls, 1)
}

func TestFilmsIssuesExactlyNFetches(t *testing.T) {
	counts := make([]int, 9)
	for i := range counts {
		counts[i] = 3
	}
	pages := &fakePages{counts: counts}
	c, cleaner := newCollector(pages, Options{InterPageDelay: time.Millisecond, CleanupEvery: 4})
	rec := &recorder{}

	films, err := c.Films(context.Background(), nil, NewJob("jane", KindFilms), rec)
	require.NoError(t, err)
	assert.Len(t, films, 27)
	require.Len(t, pages.urls, 9)
	for i, u := range pages.urls[1:] {
		assert.Equal(t, site.FilmsURL("jane", i+2), u)
	}
	assert.Equal(t, 2, cleaner.calls)
	assert.Contains(t, rec.kinds(), progress.KindMemoryCleanup)
}

func TestFilmsPageFailureAbortsWithPage(t *testing.T) {
	for k := 1; k <= 4; k++ {
		t.Run(fmt.Sprintf("page %d", k), func(t *testing.T) {
			pages := &fakePages{counts: []int{10, 10, 10, 10}, failAt: k,
				err: scrapeerr.New(scrapeerr.CodeNavigationTimeout, "slow", errors.New("timeout"))}
			c, _ := newCollector(pages, Options{})
			rec := &recorder{}

			films, err := c.Films(context.Background(), nil, NewJob("jane", KindFilms), rec)
			require.Error(t, err)
			assert.Nil(t, films)
			se, ok := scrapeerr.As(err)
			require.True(t, ok)
			assert.Equal(t, k, se.Page)
			if k == 1 {
				assert.Equal(t, scrapeerr.CodeNavigationTimeout, se.Code)
			} else {
				assert.Equal(t, scrapeerr.CodePartialPageFailure, se.Code)
			}
			assert.Len(t, pages.urls, k)
			assert.NotContains(t, rec.kinds(), progress.KindComplete)
		})
	}
}

func TestFilmsEmptyLaterPageIsFailure(t *testing.T) {
	pages := &fakePages{counts: []int{10, 0, 10}}
	c, _ := newCollector(pages, Options{})

	_, err := c.Films(context.Background(), nil, NewJob("jane", KindFilms), progress.Discard)
	se, ok := scrapeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, scrapeerr.CodePartialPageFailure, se.Code)
	assert.Equal(t, 2, se.Page)
}

func TestFilmsStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	pages := &fakePages{counts: []int{2, 2, 2, 2}, onPage: func(p int) {
		if p == 2 {
			cancel(scrapeerr.ErrConsumerGone)
		}
	}}
	c, _ := newCollector(pages, Options{InterPageDelay: time.Millisecond})

	_, err := c.Films(ctx, nil, NewJob("jane", KindFilms), progress.Discard)
	assert.ErrorIs(t, err, scrapeerr.ErrConsumerGone)
	assert.Equal(t, scrapeerr.CodeCancelled, scrapeerr.CodeOf(err))
	assert.Len(t, pages.urls, 2)
}

func TestJobFinishIsOnce(t *testing.T) {
	j := NewJob("jane", KindFilms)
	assert.Equal(t, StateInit, j.State())
	j.Saving()
	assert.Equal(t, StateSaving, j.State())
	assert.True(t, j.Finish(nil))
	assert.False(t, j.Finish(errors.New("late")))
	assert.Equal(t, StateDone, j.State())
	assert.NoError(t, j.Err())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("films")
	require.NoError(t, err)
	assert.True(t, k.Paginated())
	_, err = ParseKind("lists")
	assert.Error(t, err)
}
