// Package extract turns film-diary page markup into typed records. All
// extraction runs on a detached goquery document built from the rendered
// page content.
package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ratingsync/internal/core/scrapeerr"
)

type Extractor struct {
	sel  Selectors
	opts Options
}

func New(sel Selectors, opts Options) *Extractor {
	return &Extractor{sel: sel, opts: opts}
}

// WithOptions returns a copy using different policy options.
func (e *Extractor) WithOptions(opts Options) *Extractor {
	return &Extractor{sel: e.sel, opts: opts}
}

func (e *Extractor) Options() Options { return e.opts }

// Histogram reads the ratings histogram. A missing histogram or one whose
// bars carry no recognisable star label is an extraction_empty error.
func (e *Extractor) Histogram(doc *goquery.Document) ([]RatingBucket, error) {
	container, _ := firstMatch(doc.Selection, e.sel.Histogram.Container)
	if container.Length() == 0 {
		return nil, scrapeerr.New(scrapeerr.CodeExtractionEmpty, "ratings histogram not found", nil)
	}
	bars, _ := firstMatch(container, e.sel.Histogram.Bar)

	counts := make(map[float64]int, len(RatingValues))
	bars.Each(func(_ int, bar *goquery.Selection) {
		label := e.barLabel(bar)
		rating := ParseRating(label)
		if rating == 0 {
			return
		}
		if _, seen := counts[rating]; seen {
			return
		}
		counts[rating] = ParseCount(label)
	})
	if len(counts) == 0 {
		return nil, scrapeerr.New(scrapeerr.CodeExtractionEmpty, "no histogram bar matched a star rating", nil)
	}

	out := make([]RatingBucket, 0, len(RatingValues))
	for _, v := range RatingValues {
		c := counts[v]
		if c == 0 && !e.opts.EmitZeroBuckets {
			continue
		}
		out = append(out, RatingBucket{Rating: v, Count: c})
	}
	return out, nil
}

func (e *Extractor) barLabel(bar *goquery.Selection) string {
	for _, attr := range e.sel.Histogram.LabelAttrs {
		if v, ok := bar.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
		if v, ok := bar.Find("[" + attr + "]").First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return strings.TrimSpace(bar.Text())
}

// Films reads the film grid of one list page in document order. Items with
// no recoverable slug are skipped. When none of the known item selectors
// match, fields are correlated through container inference.
func (e *Extractor) Films(doc *goquery.Document) []FilmRecord {
	items, _ := firstMatch(doc.Selection, e.sel.Films.Item)
	if items.Length() == 0 {
		return e.inferFilms(doc)
	}

	out := make([]FilmRecord, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		if f, ok := e.film(item); ok {
			out = append(out, f)
		}
	})
	return out
}

func (e *Extractor) film(item *goquery.Selection) (FilmRecord, bool) {
	poster, _ := firstMatch(item, e.sel.Films.Poster)
	poster = poster.First()
	if poster.Length() == 0 {
		poster = item
	}

	slug := firstAttr(poster, e.sel.Films.SlugAttrs)
	if slug == "" {
		slug = firstAttr(item, e.sel.Films.SlugAttrs)
	}
	slug = normalizeSlug(slug)
	if slug == "" {
		return FilmRecord{}, false
	}

	title := firstAttr(poster, e.sel.Films.TitleAttrs)
	if title == "" {
		title = e.filmTitle(item)
	}
	if title == "" {
		title = slug
	}

	var rating float64
	if r, _ := firstMatch(item, e.sel.Films.Rating); r.Length() > 0 {
		r = r.First()
		rating = ParseRating(r.Text())
		if rating == 0 {
			class, _ := r.Attr("class")
			rating = ratingFromClass(class)
		}
	}

	return FilmRecord{Slug: slug, Title: title, Rating: rating, Liked: e.DetectLiked(item)}, true
}

func (e *Extractor) filmTitle(item *goquery.Selection) string {
	for _, c := range e.sel.Films.Title {
		s := item.Find(c).First()
		if s.Length() == 0 {
			continue
		}
		if v, ok := s.Attr("alt"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			return t
		}
	}
	return ""
}

func (e *Extractor) inferFilms(doc *goquery.Document) []FilmRecord {
	slugAttr := "data-film-slug"
	if len(e.sel.Films.SlugAttrs) > 0 {
		slugAttr = e.sel.Films.SlugAttrs[0]
	}
	fields := []Field{
		{Name: "slug", Selector: "[" + slugAttr + "]", Attr: slugAttr},
		{Name: "title", Selector: "img[alt]", Attr: "alt"},
	}
	records := ExtractRecords(doc, fields)

	out := make([]FilmRecord, 0, len(records))
	for _, rec := range records {
		slug := normalizeSlug(rec["slug"])
		if slug == "" {
			continue
		}
		title := rec["title"]
		if title == "" {
			title = slug
		}
		out = append(out, FilmRecord{Slug: slug, Title: title})
	}
	return out
}

// TotalPages reads the highest page number in the pagination control, or 1
// when the page has none.
func (e *Extractor) TotalPages(doc *goquery.Document) int {
	pages, _ := firstMatch(doc.Selection, e.sel.Pagination)
	total := 1
	pages.Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > total {
			total = n
		}
	})
	return total
}

// Profile reads the display name and social counters. The display name
// falls back to username; finding neither a name nor any counter is an
// extraction_empty error.
func (e *Extractor) Profile(doc *goquery.Document, username string) (ProfileSnapshot, error) {
	snap := ProfileSnapshot{DisplayName: username}
	found := false

	for _, c := range e.sel.Profile.Name {
		if name := strings.TrimSpace(doc.Find(c).First().Text()); name != "" {
			snap.DisplayName = name
			found = true
			break
		}
	}

	stats, _ := firstMatch(doc.Selection, e.sel.Profile.Stat)
	stats.Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(firstText(s, e.sel.Profile.StatLabel))
		value := firstText(s, e.sel.Profile.StatValue)
		if label == "" || value == "" {
			return
		}
		n := ParseStructuredNumber(value)
		switch {
		case strings.Contains(label, "followers"):
			snap.Followers = n
		case strings.Contains(label, "following"):
			snap.Following = n
		case strings.Contains(label, "list"):
			snap.ListCount = n
		default:
			return
		}
		found = true
	})

	if !found {
		return snap, scrapeerr.New(scrapeerr.CodeExtractionEmpty, "profile header not found", nil)
	}
	return snap, nil
}

func firstText(root *goquery.Selection, candidates []string) string {
	for _, c := range candidates {
		if t := strings.TrimSpace(root.Find(c).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func firstAttr(s *goquery.Selection, attrs []string) string {
	for _, a := range attrs {
		if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// normalizeSlug accepts a bare slug or a "/film/<slug>/" link.
func normalizeSlug(v string) string {
	v = strings.Trim(strings.TrimSpace(v), "/")
	if i := strings.LastIndex(v, "film/"); i >= 0 {
		v = v[i+len("film/"):]
	}
	return strings.Trim(v, "/")
}
