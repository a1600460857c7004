package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"

	"ratingsync/internal/logger"
)

// SnapshotStore keeps raw HTML of pages that yielded nothing, for later
// inspection of layout changes.
type SnapshotStore struct {
	client     *supabase.Client
	bucket     string
	dataDir    string
	production bool
	now        func() time.Time
	log        *logger.Logger
}

// NewSnapshotStore uploads to bucket when client is set. Outside production
// it falls back to files under dataDir.
func NewSnapshotStore(client *supabase.Client, bucket, dataDir string, production bool) *SnapshotStore {
	return &SnapshotStore{
		client:     client,
		bucket:     bucket,
		dataDir:    dataDir,
		production: production,
		now:        time.Now,
		log:        logger.New("SnapshotStore"),
	}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func snapshotName(username, kind string, at time.Time) string {
	clean := strings.Trim(unsafeName.ReplaceAllString(username, "_"), "_")
	if clean == "" {
		clean = "unknown"
	}
	return fmt.Sprintf("%s_%s_%s.html", at.Format("20060102_150405"), clean, kind)
}

// Save stores html and returns where it went.
func (s *SnapshotStore) Save(ctx context.Context, username, kind, html string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := snapshotName(username, kind, s.now())

	if s.client != nil && s.bucket != "" {
		path := filepath.ToSlash(filepath.Join("snapshots", name))
		mimeType := "text/html; charset=utf-8"
		_, err := s.client.Storage.UploadFile(s.bucket, path, bytes.NewReader([]byte(html)), storage_go.FileOptions{ContentType: &mimeType})
		if err == nil {
			s.log.LogDebugf("snapshot uploaded to %s/%s", s.bucket, path)
			return s.bucket + "/" + path, nil
		}
		if s.production {
			return "", fmt.Errorf("upload snapshot: %w", err)
		}
		s.log.LogWarnf("snapshot upload failed, writing locally: %v", err)
	} else if s.production {
		return "", fmt.Errorf("snapshot storage is not configured")
	}

	dir := filepath.Join(s.dataDir, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
