package store

import (
	"context"
	"fmt"
	"time"

	"github.com/antoineross/supabase-go"

	"ratingsync/internal/core/extract"
	"ratingsync/internal/logger"
)

const (
	tableRatings  = "user_ratings"
	tableProfiles = "user_profiles"
	tableFilms    = "user_films"

	filmChunk = 500
)

type ratingRow struct {
	Username  string  `json:"username"`
	Rating    float64 `json:"rating"`
	Count     int     `json:"count"`
	UpdatedAt string  `json:"updated_at"`
}

type profileRow struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	ListCount   int    `json:"list_count"`
	UpdatedAt   string `json:"updated_at"`
}

type filmRow struct {
	Username  string   `json:"username"`
	FilmSlug  string   `json:"film_slug"`
	Title     string   `json:"title"`
	Rating    *float64 `json:"rating"`
	Liked     bool     `json:"liked"`
	UpdatedAt string   `json:"updated_at"`
}

// Supabase writes through PostgREST upserts with on-conflict keys, so
// re-running a job replaces rows instead of duplicating them.
type Supabase struct {
	client *supabase.Client
	log    *logger.Logger
}

func NewSupabase(url, serviceKey string) (*Supabase, error) {
	client, err := supabase.NewClient(url, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("init supabase client: %w", err)
	}
	return &Supabase{client: client, log: logger.New("SupabaseStore")}, nil
}

// Client exposes the underlying client so the snapshot store can share it.
func (s *Supabase) Client() *supabase.Client { return s.client }

func (s *Supabase) UpsertRatings(ctx context.Context, username string, buckets []extract.RatingBucket) error {
	if len(buckets) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	rows := make([]ratingRow, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, ratingRow{Username: username, Rating: b.Rating, Count: b.Count, UpdatedAt: now})
	}
	return s.upsert(ctx, tableRatings, rows, "username,rating")
}

func (s *Supabase) UpsertProfile(ctx context.Context, username string, snap extract.ProfileSnapshot) error {
	row := profileRow{
		Username:    username,
		DisplayName: snap.DisplayName,
		Followers:   snap.Followers,
		Following:   snap.Following,
		ListCount:   snap.ListCount,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	return s.upsert(ctx, tableProfiles, row, "username")
}

// UpsertFilms writes films in chunks, each its own request. A failed chunk
// leaves earlier chunks committed; rerunning the job converges because every
// chunk is an upsert on (username, film_slug).
func (s *Supabase) UpsertFilms(ctx context.Context, username string, films []extract.FilmRecord) error {
	rows := filmRows(username, films, time.Now().UTC())
	for start := 0; start < len(rows); start += filmChunk {
		end := start + filmChunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.upsert(ctx, tableFilms, rows[start:end], "username,film_slug"); err != nil {
			return fmt.Errorf("films %d-%d: %w", start, end, err)
		}
	}
	s.log.LogDebugf("upserted %d films for %s", len(rows), username)
	return nil
}

func (s *Supabase) upsert(ctx context.Context, table string, rows interface{}, onConflict string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := s.client.From(table).Upsert(rows, onConflict, "minimal", "").Execute(); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// filmRows converts records to rows, keeping the last record per slug. A
// single upsert statement rejects duplicate conflict keys, and a bulk insert
// needs every row to carry the same keys.
func filmRows(username string, films []extract.FilmRecord, now time.Time) []filmRow {
	stamp := now.Format(time.RFC3339)
	index := make(map[string]int, len(films))
	rows := make([]filmRow, 0, len(films))
	for _, f := range films {
		row := filmRow{Username: username, FilmSlug: f.Slug, Title: f.Title, Liked: f.Liked, UpdatedAt: stamp}
		// unrated films store null so a removed rating is cleared on re-scrape
		if f.Rating > 0 {
			rating := f.Rating
			row.Rating = &rating
		}
		if i, ok := index[f.Slug]; ok {
			rows[i] = row
			continue
		}
		index[f.Slug] = len(rows)
		rows = append(rows, row)
	}
	return rows
}
