// Package scrapeerr defines the typed failures raised while loading and
// extracting pages. Codes are stable strings streamed to consumers.
package scrapeerr

import (
	"context"
	"errors"
	"fmt"
)

type Code string

const (
	CodeNavigationTimeout  Code = "navigation_timeout"
	CodeProfileNotFound    Code = "profile_not_found"
	CodeContentNotFound    Code = "content_not_found"
	CodeExtractionEmpty    Code = "extraction_empty"
	CodePartialPageFailure Code = "partial_page_failure"
	CodeResourceExhaustion Code = "resource_exhaustion"
	CodeJobTimeout         Code = "job_timeout"
	CodeCancelled          Code = "cancelled"
	CodePersistence        Code = "persistence_failed"
	CodeInternal           Code = "internal"
)

// ErrConsumerGone is the cancellation cause used when a stream consumer
// disconnects.
var ErrConsumerGone = errors.New("consumer disconnected")

type Error struct {
	Code    Code
	Page    int
	URL     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Page > 0 {
		msg = fmt.Sprintf("page %d: %s", e.Page, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// AtPage returns a copy of e tagged with a page number and URL.
func (e *Error) AtPage(page int, url string) *Error {
	cp := *e
	cp.Page = page
	cp.URL = url
	return &cp
}

// As extracts the typed error from a chain.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf classifies any error. Context cancellation maps to cancelled or
// job_timeout depending on its cause.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if se, ok := As(err); ok {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrConsumerGone), errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeJobTimeout
	}
	return CodeInternal
}

func Is(err error, code Code) bool { return CodeOf(err) == code }

// Retryable reports whether re-running the whole job may succeed.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeNavigationTimeout, CodeResourceExhaustion, CodePartialPageFailure, CodeInternal:
		return true
	}
	return false
}

// UserMessage renders a message suitable for end users.
func UserMessage(err error) string {
	switch CodeOf(err) {
	case CodeNavigationTimeout:
		return "The page took too long to load. Please try again in a moment."
	case CodeProfileNotFound:
		return "That user does not exist or their profile is private."
	case CodeContentNotFound:
		return "The requested page could not be found."
	case CodeExtractionEmpty:
		return "No data could be read from the page. The site layout may have changed."
	case CodePartialPageFailure:
		if se, ok := As(err); ok && se.Page > 0 {
			return fmt.Sprintf("Loading page %d of the film list failed, nothing was saved.", se.Page)
		}
		return "Loading part of the film list failed, nothing was saved."
	case CodeResourceExhaustion:
		return "The scraper is out of resources right now. Please retry shortly."
	case CodeJobTimeout:
		return "The job ran past its time limit and was stopped."
	case CodeCancelled:
		return "The job was cancelled."
	case CodePersistence:
		return "Scraped data could not be saved."
	}
	return "An unexpected error occurred."
}
