// Package scrape loads site pages through the browser and hands back
// validated, detached documents for extraction.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ratingsync/internal/core/browser"
	"ratingsync/internal/core/scrapeerr"
	"ratingsync/internal/logger"
)

// Request describes one page to fetch.
type Request struct {
	URL           string
	ReadySelector string
	Wait          browser.WaitCondition
	// NotFound is the code used when the page turns out to be an error page.
	NotFound scrapeerr.Code
}

// Fetcher loads a page in a browser and returns its validated document.
type Fetcher interface {
	Fetch(ctx context.Context, b browser.Browser, req Request) (*goquery.Document, error)
}

// Source is the browser-backed Fetcher. Every fetch gets its own page,
// closed before Fetch returns.
type Source struct {
	browsers *browser.Manager
	loader   *Loader
	log      *logger.Logger
}

func NewSource(browsers *browser.Manager, loader *Loader) *Source {
	return &Source{browsers: browsers, loader: loader, log: logger.New("PageSource")}
}

func (s *Source) Fetch(ctx context.Context, b browser.Browser, req Request) (*goquery.Document, error) {
	page, err := s.browsers.NewPage(b)
	if err != nil {
		return nil, err
	}
	defer s.browsers.ReleasePage(page)

	wait := req.Wait
	if wait == "" {
		wait = browser.WaitDOMContentLoaded
	}
	status, err := s.loader.LoadWithRetry(ctx, page, req.URL, wait)
	if err != nil {
		return nil, err
	}
	if !s.loader.AwaitContentReady(ctx, page, req.ReadySelector) {
		s.log.LogDebugf("ready selector %q not seen on %s, continuing after settle", req.ReadySelector, req.URL)
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read page content: %w", err)
	}
	title, _ := page.Title()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page content: %w", err)
	}

	notFound := req.NotFound
	if notFound == "" {
		notFound = scrapeerr.CodeContentNotFound
	}
	if err := Validate(doc, title, status, notFound); err != nil {
		return nil, err
	}
	return doc, nil
}

// Site builds page URLs for the film-diary site.
type Site struct {
	BaseURL string
}

const (
	ProfileReadySelector = ".profile-stats, .rating-histogram, .profile-name"
	FilmsReadySelector   = "li.poster-container, ul.poster-list, .paginate-pages"
)

func (s Site) ProfileURL(username string) string {
	return fmt.Sprintf("%s/%s/", strings.TrimRight(s.BaseURL, "/"), url.PathEscape(username))
}

// FilmsURL returns the film grid URL for a 1-based page number.
func (s Site) FilmsURL(username string, page int) string {
	base := fmt.Sprintf("%s/%s/films/", strings.TrimRight(s.BaseURL, "/"), url.PathEscape(username))
	if page <= 1 {
		return base
	}
	return fmt.Sprintf("%spage/%d/", base, page)
}

func (s Site) ProfileRequest(username string) Request {
	return Request{
		URL:           s.ProfileURL(username),
		ReadySelector: ProfileReadySelector,
		NotFound:      scrapeerr.CodeProfileNotFound,
	}
}

func (s Site) FilmsRequest(username string, page int) Request {
	notFound := scrapeerr.CodeContentNotFound
	if page <= 1 {
		notFound = scrapeerr.CodeProfileNotFound
	}
	return Request{
		URL:           s.FilmsURL(username, page),
		ReadySelector: FilmsReadySelector,
		NotFound:      notFound,
	}
}
