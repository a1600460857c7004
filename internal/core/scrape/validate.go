package scrape

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ratingsync/internal/core/scrapeerr"
)

const minBodyText = 100

// errorTitles are whole error-page titles, compared after the site name
// suffix is stripped. A profile title that merely contains "404" is not one.
var errorTitles = []string{
	"404",
	"404 not found",
	"not found",
	"page not found",
	"oops",
	"oops!",
	"sorry, we can’t find the page you’ve requested.",
	"sorry, we can't find the page you've requested.",
}

var titleSeparators = []string{" • ", " | ", " - "}

// titleHead drops a trailing site name such as " • Letterboxd".
func titleHead(title string) string {
	head := strings.ToLower(strings.TrimSpace(title))
	for _, sep := range titleSeparators {
		if i := strings.Index(head, sep); i >= 0 {
			head = head[:i]
		}
	}
	return strings.TrimSpace(head)
}

var errorPageMarkers = []string{
	"body.error",
	".error-page",
	"section.error-message",
	"#content.error",
	"div.error-code",
}

// Validate rejects error pages. notFound is the code reported for missing
// content so callers can tell a missing profile from a missing list page.
func Validate(doc *goquery.Document, title string, status int, notFound scrapeerr.Code) error {
	if status == 404 || status == 410 {
		return scrapeerr.New(notFound, "page returned status "+strconv.Itoa(status), nil)
	}

	head := titleHead(title)
	for _, t := range errorTitles {
		if head == t {
			return scrapeerr.New(notFound, "error page title: "+title, nil)
		}
	}

	for _, sel := range errorPageMarkers {
		if doc.Find(sel).Length() > 0 {
			return scrapeerr.New(notFound, "error page marker "+sel, nil)
		}
	}

	body := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(body) < minBodyText {
		return scrapeerr.New(notFound, "page body too short", nil)
	}
	return nil
}
