// Package store persists scraped artifacts. Deduplication happens here, keyed
// by username and film slug; the scraping engine never dedups.
package store

import (
	"context"
	"sync"

	"ratingsync/internal/core/extract"
)

type Store interface {
	UpsertRatings(ctx context.Context, username string, buckets []extract.RatingBucket) error
	UpsertProfile(ctx context.Context, username string, snap extract.ProfileSnapshot) error
	UpsertFilms(ctx context.Context, username string, films []extract.FilmRecord) error
}

// Memory keeps everything in process. It is used in development when no
// Supabase project is configured, and in tests.
type Memory struct {
	mu       sync.Mutex
	ratings  map[string]map[float64]int
	profiles map[string]extract.ProfileSnapshot
	films    map[string]map[string]extract.FilmRecord
	order    map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		ratings:  map[string]map[float64]int{},
		profiles: map[string]extract.ProfileSnapshot{},
		films:    map[string]map[string]extract.FilmRecord{},
		order:    map[string][]string{},
	}
}

func (m *Memory) UpsertRatings(_ context.Context, username string, buckets []extract.RatingBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.ratings[username]
	if r == nil {
		r = map[float64]int{}
		m.ratings[username] = r
	}
	for _, b := range buckets {
		r[b.Rating] = b.Count
	}
	return nil
}

func (m *Memory) UpsertProfile(_ context.Context, username string, snap extract.ProfileSnapshot) error {
	m.mu.Lock()
	m.profiles[username] = snap
	m.mu.Unlock()
	return nil
}

func (m *Memory) UpsertFilms(_ context.Context, username string, films []extract.FilmRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byslug := m.films[username]
	if byslug == nil {
		byslug = map[string]extract.FilmRecord{}
		m.films[username] = byslug
	}
	for _, f := range films {
		if _, ok := byslug[f.Slug]; !ok {
			m.order[username] = append(m.order[username], f.Slug)
		}
		byslug[f.Slug] = f
	}
	return nil
}

func (m *Memory) Ratings(username string) map[float64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[float64]int, len(m.ratings[username]))
	for k, v := range m.ratings[username] {
		out[k] = v
	}
	return out
}

func (m *Memory) Profile(username string) (extract.ProfileSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[username]
	return p, ok
}

// Films returns the stored films in first-seen order.
func (m *Memory) Films(username string) []extract.FilmRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]extract.FilmRecord, 0, len(m.order[username]))
	for _, slug := range m.order[username] {
		out = append(out, m.films[username][slug])
	}
	return out
}
