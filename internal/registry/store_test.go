package registry

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()
	store := NewRedisStore(client, 2, 24*time.Hour)

	st := buildFixture(t)
	require.NoError(t, store.Save(ctx, st))
	assert.True(t, mr.Exists("registry:state:v2"))
	assert.Equal(t, time.Duration(0), mr.TTL("registry:state:v2"))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.SourceRowCount, loaded.SourceRowCount)
	assert.True(t, st.BuiltAt.Equal(loaded.BuiltAt))
	assert.Equal(t, st.CanonicalNames(EntityDepartment), loaded.CanonicalNames(EntityDepartment))

	// the index is rebuilt on load
	m := loaded.Lookup("SDR", EntityDepartment)
	require.True(t, m.Found())
	assert.Equal(t, "Sales & Marketing (Parent) : SDR", m.Candidates[0].Entry.CanonicalName)
}

func TestRedisStore_Missing(t *testing.T) {
	client, _ := setupRedis(t)
	st, err := NewRedisStore(client, 2, time.Hour).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsEmpty())
}

func TestRedisStore_SchemaVersionMismatch(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	st := buildFixture(t)
	require.NoError(t, NewRedisStore(client, 2, time.Hour).Save(ctx, st))
	// an older binary reading under a newer key
	payload, err := mr.Get("registry:state:v2")
	require.NoError(t, err)
	require.NoError(t, mr.Set("registry:state:v3", payload))

	loaded, err := NewRedisStore(client, 3, time.Hour).Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())
	assert.Equal(t, 3, loaded.SchemaVersion)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	client, mr := setupRedis(t)
	mr.Close()

	_, err := NewRedisStore(client, 2, time.Hour).Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRegistryStoreFailed))
}

func TestRedisStore_CommandErrors(t *testing.T) {
	ctx := context.Background()
	st := buildFixture(t)
	data, err := encodeState(st)
	require.NoError(t, err)

	t.Run("save failure", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		store := NewRedisStore(client, 2, time.Hour)
		mock.ExpectSet(store.Key(), data, 0).SetErr(errors.New("OOM command not allowed"))

		err := store.Save(ctx, st)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRegistryStoreFailed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil reply is an empty state", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		store := NewRedisStore(client, 2, time.Hour)
		mock.ExpectGet(store.Key()).RedisNil()

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.True(t, loaded.IsEmpty())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt payload", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		store := NewRedisStore(client, 2, time.Hour)
		mock.ExpectGet(store.Key()).SetVal("{not json")

		_, err := store.Load(ctx)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRegistryStoreFailed))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO entity_registry_state").
		WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPostgresStore(db, 2, time.Hour)
	require.NoError(t, store.Save(context.Background(), buildFixture(t)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	payload, err := encodeState(buildFixture(t))
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM entity_registry_state").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	st, err := NewPostgresStore(db, 2, time.Hour).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.Entries[EntityDepartment], 7)
	assert.Equal(t, time.Hour, st.TTL)
	assert.True(t, st.Lookup("G&A", EntityDepartment).Ambiguous)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantEmpty bool
	}{
		{"no rows", sql.ErrNoRows, true},
		{"connection lost", sql.ErrConnDone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery("SELECT payload FROM entity_registry_state").
				WithArgs(2).
				WillReturnError(tt.err)

			st, err := NewPostgresStore(db, 2, time.Hour).Load(context.Background())
			if tt.wantEmpty {
				require.NoError(t, err)
				assert.True(t, st.IsEmpty())
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRegistryStoreFailed))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, time.Hour)

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsEmpty())

	require.NoError(t, store.Save(ctx, buildFixture(t)))
	st, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsEmpty())
}
