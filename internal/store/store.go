package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection and pgvector operations for the
// labelled landmark dataset. It wraps a single connection and is not safe for
// concurrent use.
type Store struct {
	conn *pgx.Conn
}

// Run describes one dataset extraction.
type Run struct {
	ID         uuid.UUID
	FrameSkip  int
	MaxFrames  int
	RealDir    string
	FakeDir    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Kept       int
	Dropped    int
}

// ClipRecord is one labelled feature vector to persist.
type ClipRecord struct {
	VideoID    string
	RunID      uuid.UUID
	Label      types.Label
	FramesUsed int
	Vector     types.LandmarkVector
}

// Clip is a stored clip without its vector.
type Clip struct {
	VideoID    string
	Path       string
	Label      types.Label
	FramesUsed int
	RunID      uuid.UUID
	CreatedAt  time.Time
}

// Neighbor is a stored clip ranked by L2 distance to a query vector.
type Neighbor struct {
	VideoID  string
	Path     string
	Label    types.Label
	Distance float64
}

// Sample is one exported training row.
type Sample struct {
	VideoID string
	Path    string
	Label   types.Label
	Vector  types.LandmarkVector
}

// ErrNotFound is returned when an update matches no clip.
var ErrNotFound = errors.New("clip not found")

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS extraction_runs (
			id UUID PRIMARY KEY,
			frame_skip INT NOT NULL,
			max_frames INT NOT NULL,
			real_dir TEXT NOT NULL DEFAULT '',
			fake_dir TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			kept INT NOT NULL DEFAULT 0,
			dropped INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS clip_features (
			video_id TEXT PRIMARY KEY REFERENCES video_metadata(id) ON DELETE CASCADE,
			run_id UUID REFERENCES extraction_runs(id) ON DELETE SET NULL,
			label SMALLINT NOT NULL CHECK (label IN (0, 1)),
			frames_used INT NOT NULL,
			features VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS clip_features_run_id_idx ON clip_features (run_id);
	`, types.LandmarkDim)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateRun records the start of a dataset extraction and returns its ID.
func (s *Store) CreateRun(ctx context.Context, frameSkip, maxFrames int, realDir, fakeDir string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO extraction_runs (id, frame_skip, max_frames, real_dir, fake_dir)
		VALUES ($1, $2, $3, $4, $5)
	`, id, frameSkip, maxFrames, realDir, fakeDir)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishRun stores the final counts of a run.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, kept, dropped int) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE extraction_runs SET finished_at = NOW(), kept = $2, dropped = $3 WHERE id = $1
	`, id, kept, dropped)
	return err
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var r Run
	err := s.conn.QueryRow(ctx, `
		SELECT id, frame_skip, max_frames, real_dir, fake_dir, started_at, finished_at, kept, dropped
		FROM extraction_runs WHERE id = $1
	`, id).Scan(&r.ID, &r.FrameSkip, &r.MaxFrames, &r.RealDir, &r.FakeDir, &r.StartedAt, &r.FinishedAt, &r.Kept, &r.Dropped)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// UpsertFeatures stores the clip's vector, replacing any previous extraction of the same video.
func (s *Store) UpsertFeatures(ctx context.Context, rec ClipRecord) error {
	var runID *uuid.UUID
	if rec.RunID != uuid.Nil {
		runID = &rec.RunID
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO clip_features (video_id, run_id, label, frames_used, features)
		VALUES ($1, $2, $3, $4, $5::vector)
		ON CONFLICT (video_id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			label = EXCLUDED.label,
			frames_used = EXCLUDED.frames_used,
			features = EXCLUDED.features,
			created_at = NOW()
	`, rec.VideoID, runID, int(rec.Label), rec.FramesUsed, vecToString(rec.Vector[:]))
	return err
}

// FindNearest returns the k stored clips closest to vec by Euclidean distance.
func (s *Store) FindNearest(ctx context.Context, vec types.LandmarkVector, k int) ([]Neighbor, error) {
	// <-> is the L2 distance operator in pgvector
	rows, err := s.conn.Query(ctx, `
		SELECT c.video_id, v.path, c.label, c.features <-> $1::vector AS dist
		FROM clip_features c JOIN video_metadata v ON v.id = c.video_id
		ORDER BY dist ASC
		LIMIT $2
	`, vecToString(vec[:]), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		var label int16
		if err := rows.Scan(&n.VideoID, &n.Path, &label, &n.Distance); err != nil {
			return nil, err
		}
		n.Label = types.Label(label)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListClips returns every stored clip, newest first.
func (s *Store) ListClips(ctx context.Context) ([]Clip, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.video_id, v.path, c.label, c.frames_used, c.run_id, c.created_at
		FROM clip_features c JOIN video_metadata v ON v.id = c.video_id
		ORDER BY c.created_at DESC, c.video_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Clip
	for rows.Next() {
		var c Clip
		var label int16
		var runID *uuid.UUID
		if err := rows.Scan(&c.VideoID, &c.Path, &label, &c.FramesUsed, &runID, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Label = types.Label(label)
		if runID != nil {
			c.RunID = *runID
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Relabel changes the label of the clip whose video ID starts with prefix.
// The prefix must match exactly one clip.
func (s *Store) Relabel(ctx context.Context, prefix string, label types.Label) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("empty video id")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT video_id FROM clip_features WHERE video_id LIKE $1 ORDER BY video_id LIMIT 2`, escapeLike(prefix)+"%")
	if err != nil {
		return "", err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
	default:
		return "", fmt.Errorf("video id prefix %q is ambiguous", prefix)
	}

	if _, err := tx.Exec(ctx, "UPDATE clip_features SET label = $1 WHERE video_id = $2", int(label), ids[0]); err != nil {
		return "", err
	}
	return ids[0], tx.Commit(ctx)
}

// Dataset returns every labelled vector ordered by video ID.
func (s *Store) Dataset(ctx context.Context) ([]Sample, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.video_id, v.path, c.label, c.features::text
		FROM clip_features c JOIN video_metadata v ON v.id = c.video_id
		ORDER BY c.video_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var smp Sample
		var label int16
		var vecStr string
		if err := rows.Scan(&smp.VideoID, &smp.Path, &label, &vecStr); err != nil {
			return nil, err
		}
		smp.Label = types.Label(label)
		if err := parseVector(vecStr, smp.Vector[:]); err != nil {
			return nil, fmt.Errorf("clip %s: %w", smp.VideoID, err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS clip_features CASCADE;
		DROP TABLE IF EXISTS extraction_runs CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads pgvector's text form into dst, which must have the exact length.
func parseVector(s string, dst []float64) error {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		if len(dst) == 0 {
			return nil
		}
		return fmt.Errorf("empty vector, want %d values", len(dst))
	}
	parts := strings.Split(s, ",")
	if len(parts) != len(dst) {
		return fmt.Errorf("vector has %d values, want %d", len(parts), len(dst))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		dst[i] = v
	}
	return nil
}
