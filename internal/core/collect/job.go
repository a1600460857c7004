// Package collect drives single-page and paginated scrapes for one job.
package collect

import (
	"fmt"
	"sync"
	"time"

	"ratingsync/internal/core/extract"
)

type Kind string

const (
	KindProfile Kind = "profile"
	KindRatings Kind = "ratings"
	KindFilms   Kind = "films"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindProfile, KindRatings, KindFilms:
		return k, nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// Paginated reports whether the kind walks a multi-page listing.
func (k Kind) Paginated() bool { return k == KindFilms }

type State int

const (
	StateInit State = iota
	StateFetchingPage
	StatePageExtracted
	StateSaving
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFetchingPage:
		return "fetching_page"
	case StatePageExtracted:
		return "page_extracted"
	case StateSaving:
		return "saving"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Job is the in-memory state of one scrape. It is never persisted.
type Job struct {
	Username string
	Kind     Kind
	Started  time.Time

	mu         sync.Mutex
	state      State
	page       int
	totalPages int
	films      []extract.FilmRecord
	err        error
}

func NewJob(username string, kind Kind) *Job {
	return &Job{Username: username, Kind: kind, Started: time.Now(), totalPages: 1}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Page returns the page being worked on and the known page count.
func (j *Job) Page() (int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.page, j.totalPages
}

func (j *Job) Films() []extract.FilmRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]extract.FilmRecord, len(j.films))
	copy(out, j.films)
	return out
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) fetching(page int) {
	j.mu.Lock()
	j.state = StateFetchingPage
	j.page = page
	j.mu.Unlock()
}

func (j *Job) extracted(films []extract.FilmRecord) {
	j.mu.Lock()
	j.state = StatePageExtracted
	j.films = append(j.films, films...)
	j.mu.Unlock()
}

func (j *Job) setTotal(n int) {
	j.mu.Lock()
	j.totalPages = n
	j.mu.Unlock()
}

// Saving moves the job into persistence.
func (j *Job) Saving() {
	j.mu.Lock()
	if j.state != StateDone && j.state != StateFailed {
		j.state = StateSaving
	}
	j.mu.Unlock()
}

// Finish records the terminal state. Only the first call counts.
func (j *Job) Finish(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateDone || j.state == StateFailed {
		return false
	}
	if err != nil {
		j.state = StateFailed
		j.err = err
	} else {
		j.state = StateDone
	}
	return true
}
