package recpg

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mobiletoly/go-recsync/recsync"
)

// testDatabaseURL comes from TEST_DATABASE_URL or a PostgreSQL container
var testDatabaseURL string

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(runTests(m))
}

func runTests(m *testing.M) int {
	testDatabaseURL = os.Getenv("TEST_DATABASE_URL")
	if testDatabaseURL != "" || testing.Short() {
		return m.Run()
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("recsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container unavailable, skipping integration tests: %v\n", err)
		return m.Run()
	}
	defer func() { _ = container.Terminate(ctx) }()

	if testDatabaseURL, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container connection string: %v\n", err)
		return 1
	}
	return m.Run()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if testDatabaseURL == "" {
		t.Skip("no PostgreSQL available (set TEST_DATABASE_URL or run Docker)")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, testDatabaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s, err := New(ctx, pool, "test-"+uuid.NewString(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Purge(context.Background()) })
	return s
}

func TestStore_KV(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))
	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", string(v))

	require.NoError(t, s.Remove(ctx, "k"))
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t)
	b, err := New(ctx, a.pool, "test-"+uuid.NewString(), nil)
	require.NoError(t, err)
	defer func() { _ = b.Purge(ctx) }()

	require.NoError(t, a.Set(ctx, recsync.KeyCursorState, []byte(`{"cursor":"a"}`)))
	_, found, err := b.Get(ctx, recsync.KeyCursorState)
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_Tombstones(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	key := recsync.EntityKey{Type: recsync.EntityRecording, ID: "r1"}

	require.NoError(t, s.PutTombstone(ctx, recsync.Tombstone{EntityType: key.Type, EntityID: key.ID, DeletedAt: t0}))
	ts, found, err := s.GetTombstone(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, ts.DeletedAt.Equal(t0))

	n, err := s.PruneTombstones(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, found, err = s.GetTombstone(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_BacksCursorStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cursors := recsync.NewCursorStore(s, func() time.Time { return t0 }, nil)
	require.NoError(t, cursors.UpdateState(ctx, "c7", t0))
	reopened := recsync.NewCursorStore(s, nil, nil)
	require.Equal(t, "c7", reopened.GetCursor(ctx))
}

func TestNew_ConcurrentSchemaInit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	errs := make(chan error, 4)
	for i := 0; i < cap(errs); i++ {
		go func() {
			_, err := New(ctx, s.pool, s.namespace, nil)
			errs <- err
		}()
	}
	for i := 0; i < cap(errs); i++ {
		require.NoError(t, <-errs)
	}
}
