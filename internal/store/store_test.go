package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestVecToString(t *testing.T) {
	assert.Equal(t, "[]", vecToString(nil))
	assert.Equal(t, "[1,-0.5,0.25]", vecToString([]float64{1, -0.5, 0.25}))
}

func TestParseVector(t *testing.T) {
	dst := make([]float64, 3)
	require.NoError(t, parseVector("[1,-0.5, 0.25]", dst))
	assert.Equal(t, []float64{1, -0.5, 0.25}, dst)

	assert.Error(t, parseVector("[1,2]", dst))
	assert.Error(t, parseVector("[]", dst))
	assert.Error(t, parseVector("[1,x,3]", dst))
	assert.NoError(t, parseVector("[]", nil))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `ab\%c\_d\\`, escapeLike(`ab%c_d\`))
}

// startPostgres launches a pgvector container and returns its connection string.
// It requires Docker to be running.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	// Recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("veritas_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Skipf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func axis(i int, v float64) types.LandmarkVector {
	var vec types.LandmarkVector
	vec[i] = v
	return vec
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
func TestStoreIntegration(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	s, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s.Close(ctx)

	runID, err := s.CreateRun(ctx, 30, 50, "/data/real", "/data/fake")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, runID)

	clips := []struct {
		id    string
		label types.Label
		vec   types.LandmarkVector
	}{
		{"aaa111", types.Real, axis(0, 1)},
		{"aab222", types.Real, axis(0, 2)},
		{"bbb333", types.Fake, axis(1, 10)},
	}
	for _, c := range clips {
		require.NoError(t, s.EnsureVideoMetadata(ctx, c.id, "/videos/"+c.id+".mp4"))
		require.NoError(t, s.UpsertFeatures(ctx, ClipRecord{
			VideoID: c.id, RunID: runID, Label: c.label, FramesUsed: 3, Vector: c.vec,
		}))
	}
	require.NoError(t, s.FinishRun(ctx, runID, 3, 1))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 30, run.FrameSkip)
	assert.Equal(t, 3, run.Kept)
	assert.Equal(t, 1, run.Dropped)
	require.NotNil(t, run.FinishedAt)

	// Nearest neighbours by L2
	nn, err := s.FindNearest(ctx, axis(0, 1.1), 2)
	require.NoError(t, err)
	require.Len(t, nn, 2)
	assert.Equal(t, "aaa111", nn[0].VideoID)
	assert.InDelta(t, 0.1, nn[0].Distance, 1e-6)
	assert.Equal(t, "aab222", nn[1].VideoID)
	assert.Equal(t, types.Real, nn[1].Label)

	// Re-upsert replaces rather than duplicates
	require.NoError(t, s.UpsertFeatures(ctx, ClipRecord{
		VideoID: "aaa111", RunID: runID, Label: types.Real, FramesUsed: 7, Vector: axis(0, 1),
	}))
	listed, err := s.ListClips(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	// Relabel by unique prefix
	full, err := s.Relabel(ctx, "bbb", types.Real)
	require.NoError(t, err)
	assert.Equal(t, "bbb333", full)

	_, err = s.Relabel(ctx, "aa", types.Fake)
	assert.ErrorContains(t, err, "ambiguous")

	_, err = s.Relabel(ctx, "zzz", types.Fake)
	assert.True(t, errors.Is(err, ErrNotFound))

	samples, err := s.Dataset(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, "bbb333", samples[2].VideoID)
	assert.Equal(t, types.Real, samples[2].Label)
	assert.Equal(t, 10.0, samples[2].Vector[1])

	// Reset drops everything; a fresh New recreates the schema
	require.NoError(t, s.Reset(ctx))
	s2, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s2.Close(ctx)
	listed, err = s2.ListClips(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
