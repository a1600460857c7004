package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratingsync/internal/core/scrapeerr"
)

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func histogramHTML(labels ...string) string {
	var b strings.Builder
	b.WriteString(`<section class="ratings-histogram-chart"><div class="rating-histogram"><ul>`)
	for _, l := range labels {
		fmt.Fprintf(&b, `<li class="rating-histogram-bar"><a class="ir tooltip" title="%s">%s</a></li>`, l, l)
	}
	b.WriteString(`</ul></div></section>`)
	return b.String()
}

// nine bars; 4.5 is missing and 1.0 is shown with zero ratings
var scenarioLabels = []string{
	"12 ½ ratings",
	"0 ★ ratings",
	"3 ★½ ratings",
	"40 ★★ ratings",
	"15 ★★½ ratings",
	"120 ★★★ ratings",
	"88 ★★★½ ratings",
	"230 ★★★★ ratings",
	"500 ★★★★★ ratings",
}

func bucketMap(buckets []RatingBucket) map[float64]int {
	m := make(map[float64]int, len(buckets))
	for _, b := range buckets {
		m[b.Rating] = b.Count
	}
	return m
}

func TestHistogramEmitsZeroBuckets(t *testing.T) {
	ex := New(DefaultSelectors(), Options{EmitZeroBuckets: true})

	buckets, err := ex.Histogram(docFrom(t, histogramHTML(scenarioLabels...)))
	require.NoError(t, err)
	require.Len(t, buckets, 10)

	for i, b := range buckets {
		assert.Equal(t, RatingValues[i], b.Rating)
	}
	m := bucketMap(buckets)
	assert.Equal(t, 500, m[5])
	assert.Equal(t, 0, m[1])
	assert.Equal(t, 0, m[4.5])
	assert.Equal(t, 12, m[0.5])
}

func TestHistogramOmitsZeroBuckets(t *testing.T) {
	ex := New(DefaultSelectors(), Options{EmitZeroBuckets: false})

	buckets, err := ex.Histogram(docFrom(t, histogramHTML(scenarioLabels...)))
	require.NoError(t, err)
	require.Len(t, buckets, 8)

	m := bucketMap(buckets)
	assert.Equal(t, 500, m[5])
	assert.NotContains(t, m, 1.0)
	assert.NotContains(t, m, 4.5)
}

func TestHistogramKeepsOneBucketPerRating(t *testing.T) {
	ex := New(DefaultSelectors(), Options{})
	buckets, err := ex.Histogram(docFrom(t, histogramHTML("9 ★★ ratings", "4 ★★ ratings")))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, RatingBucket{Rating: 2, Count: 9}, buckets[0])
}

func TestHistogramWithoutMatchingBarsIsEmpty(t *testing.T) {
	ex := New(DefaultSelectors(), Options{EmitZeroBuckets: true})

	_, err := ex.Histogram(docFrom(t, histogramHTML("nothing", "here")))
	require.Error(t, err)
	assert.True(t, scrapeerr.Is(err, scrapeerr.CodeExtractionEmpty))

	_, err = ex.Histogram(docFrom(t, `<div class="profile">no chart</div>`))
	assert.True(t, scrapeerr.Is(err, scrapeerr.CodeExtractionEmpty))
}

func filmItem(slug, title, stars string, liked bool) string {
	like := ""
	if liked {
		like = `<span class="like liked-micro has-icon icon-liked icon-16"></span>`
	}
	rating := ""
	if stars != "" {
		rating = fmt.Sprintf(`<span class="rating">%s</span>`, stars)
	}
	return fmt.Sprintf(`<li class="poster-container"><div class="film-poster" data-film-slug="%s"><img alt="%s"/></div><p class="poster-viewingdata">%s%s</p></li>`,
		slug, title, rating, like)
}

func TestFilms(t *testing.T) {
	html := `<ul class="poster-list">` +
		filmItem("parasite-2019", "Parasite", "★★★★½", true) +
		filmItem("heat", "Heat", "", false) +
		filmItem("", "No Slug", "★", false) +
		filmItem("alien", "Alien", "★★★", false) +
		`</ul>`

	films := New(DefaultSelectors(), Options{}).Films(docFrom(t, html))
	require.Len(t, films, 3)
	assert.Equal(t, FilmRecord{Slug: "parasite-2019", Title: "Parasite", Rating: 4.5, Liked: true}, films[0])
	assert.Equal(t, FilmRecord{Slug: "heat", Title: "Heat"}, films[1])
	assert.Equal(t, "alien", films[2].Slug)
	assert.Equal(t, 3.0, films[2].Rating)
}

func TestFilmsRatingFromClassAndLinkSlug(t *testing.T) {
	html := `<ul class="poster-list"><li class="poster-container">
		<div class="film-poster" data-target-link="/film/the-thing/" data-film-name="The Thing"></div>
		<p class="poster-viewingdata"><span class="rating rated-7"></span></p></li></ul>`

	films := New(DefaultSelectors(), Options{}).Films(docFrom(t, html))
	require.Len(t, films, 1)
	assert.Equal(t, FilmRecord{Slug: "the-thing", Title: "The Thing", Rating: 3.5}, films[0])
}

func TestFilmsFallsBackToContainerInference(t *testing.T) {
	html := `<div class="grid">
		<article class="card"><span data-film-slug="a-film"></span><img alt="A Film"></article>
		<article class="card"><span data-film-slug="b-film"></span><img alt="B Film"></article>
	</div>`

	films := New(DefaultSelectors(), Options{}).Films(docFrom(t, html))
	require.Len(t, films, 2)
	assert.Equal(t, "a-film", films[0].Slug)
	assert.Equal(t, "B Film", films[1].Title)
}

func TestDetectLiked(t *testing.T) {
	ex := New(DefaultSelectors(), Options{})
	cases := []struct {
		name string
		html string
		want bool
	}{
		{"exact", `<li><span class="like liked-micro has-icon icon-liked"></span></li>`, true},
		{"tokens", `<li><i class="icon-liked like small"></i></li>`, true},
		{"fallback", `<li><b class="is-liked"></b></li>`, true},
		{"none", `<li><span class="rating">★★</span></li>`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := docFrom(t, "<ul>"+tc.html+"</ul>").Find("li").First()
			assert.Equal(t, tc.want, ex.DetectLiked(item))
		})
	}
}

func TestTotalPages(t *testing.T) {
	ex := New(DefaultSelectors(), Options{})

	paged := `<div class="paginate-pages"><ul>
		<li class="paginate-current"><span>1</span></li><li><a>2</a></li><li>…</li><li><a>12</a></li>
	</ul></div>`
	assert.Equal(t, 12, ex.TotalPages(docFrom(t, paged)))
	assert.Equal(t, 1, ex.TotalPages(docFrom(t, `<ul class="poster-list"></ul>`)))
}

const profileHTML = `<section class="profile-header">
	<div class="profile-name"><h1>Jane Doe</h1></div>
	<div class="profile-stats">
		<h4 class="profile-statistic"><span class="value">1,204</span><span class="definition">Films</span></h4>
		<h4 class="profile-statistic"><span class="value">1.2K</span><span class="definition">Followers</span></h4>
		<h4 class="profile-statistic"><span class="value">310</span><span class="definition">Following</span></h4>
		<h4 class="profile-statistic"><span class="value">14</span><span class="definition">Lists</span></h4>
	</div>
</section>`

func TestProfile(t *testing.T) {
	snap, err := New(DefaultSelectors(), Options{}).Profile(docFrom(t, profileHTML), "jane")
	require.NoError(t, err)
	assert.Equal(t, ProfileSnapshot{DisplayName: "Jane Doe", Followers: 1200, Following: 310, ListCount: 14}, snap)
}

func TestProfileFallsBackToUsername(t *testing.T) {
	html := strings.Replace(profileHTML, `<div class="profile-name"><h1>Jane Doe</h1></div>`, "", 1)
	snap, err := New(DefaultSelectors(), Options{}).Profile(docFrom(t, html), "jane")
	require.NoError(t, err)
	assert.Equal(t, "jane", snap.DisplayName)
	assert.Equal(t, 1200, snap.Followers)
}

func TestProfileEmpty(t *testing.T) {
	snap, err := New(DefaultSelectors(), Options{}).Profile(docFrom(t, `<p>nothing</p>`), "jane")
	assert.True(t, scrapeerr.Is(err, scrapeerr.CodeExtractionEmpty))
	assert.Equal(t, "jane", snap.DisplayName)
}

func TestLoadSelectorsOverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pagination:\n  - \".pages a\"\n"), 0o644))

	sel, err := LoadSelectors(path)
	require.NoError(t, err)
	assert.Equal(t, []string{".pages a"}, sel.Pagination)
	assert.Equal(t, DefaultSelectors().Histogram.Bar, sel.Histogram.Bar)

	_, err = LoadSelectors(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
