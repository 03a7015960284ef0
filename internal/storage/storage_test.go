package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestTranscriptKey(t *testing.T) {
	owner := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	assert.Equal(t, "11111111-1111-1111-1111-111111111111/transcripts/abc.md", storage.TranscriptKey(owner, "abc"))
}

func setupMinio(t *testing.T) *storage.MinioStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)

	s, err := storage.NewMinioStore(
		storage.WithEndpoint(endpoint),
		storage.WithBucket("kbforge-test"),
		storage.WithCredentials("minioadmin", "minioadmin"),
	)
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx))
	return s
}

func TestMinioStore_RoundTrip(t *testing.T) {
	s := setupMinio(t)
	ctx := context.Background()
	key := storage.TranscriptKey(uuid.New(), "vid1")

	require.NoError(t, s.Put(ctx, key, "# Title\n\nbody"))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", got)

	require.NoError(t, s.Delete(ctx, []string{key, "missing/key.md"}))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMinioStore_EnsureBucketIsIdempotent(t *testing.T) {
	s := setupMinio(t)
	require.NoError(t, s.EnsureBucket(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}
