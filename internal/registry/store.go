package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// Store persists registry state across restarts. Load returns an empty state
// when nothing is stored for the current schema version.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
}

type envelope struct {
	SchemaVersion int    `json:"schemaVersion"`
	State         *State `json:"state"`
}

func encodeState(st *State) ([]byte, error) {
	return json.Marshal(envelope{SchemaVersion: st.SchemaVersion, State: st})
}

func decodeState(data []byte, schemaVersion int, ttl time.Duration) (*State, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.SchemaVersion != schemaVersion || env.State == nil {
		return NewEmptyState(schemaVersion, ttl), nil
	}
	if ttl > 0 {
		env.State.TTL = ttl
	}
	return env.State, nil
}

// RedisStore keeps the state under one key per schema version.
type RedisStore struct {
	client        *redis.Client
	schemaVersion int
	ttl           time.Duration
}

func NewRedisStore(client *redis.Client, schemaVersion int, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, schemaVersion: schemaVersion, ttl: ttl}
}

func (s *RedisStore) Key() string {
	return fmt.Sprintf("registry:state:v%d", s.schemaVersion)
}

func (s *RedisStore) Load(ctx context.Context) (*State, error) {
	data, err := s.client.Get(ctx, s.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewEmptyState(s.schemaVersion, s.ttl), nil
	}
	if err != nil {
		return nil, apperrors.NewRegistryStoreFailedError("load", err)
	}
	st, err := decodeState(data, s.schemaVersion, s.ttl)
	if err != nil {
		return nil, apperrors.NewRegistryStoreFailedError("decode", err)
	}
	return st, nil
}

func (s *RedisStore) Save(ctx context.Context, st *State) error {
	data, err := encodeState(st)
	if err != nil {
		return apperrors.NewRegistryStoreFailedError("encode", err)
	}
	// no expiry: a stale state still serves while a rebuild runs
	if err := s.client.Set(ctx, s.Key(), data, 0).Err(); err != nil {
		return apperrors.NewRegistryStoreFailedError("save", err)
	}
	return nil
}

// PostgresStore keeps one row per schema version.
type PostgresStore struct {
	db            *sql.DB
	schemaVersion int
	ttl           time.Duration
}

// PostgresSchema creates the state table.
const PostgresSchema = `CREATE TABLE IF NOT EXISTS entity_registry_state (
	schema_version INT PRIMARY KEY,
	payload        JSONB NOT NULL,
	built_at       TIMESTAMPTZ NOT NULL
)`

func NewPostgresStore(db *sql.DB, schemaVersion int, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, schemaVersion: schemaVersion, ttl: ttl}
}

func (s *PostgresStore) Load(ctx context.Context) (*State, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM entity_registry_state WHERE schema_version = $1`, s.schemaVersion).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return NewEmptyState(s.schemaVersion, s.ttl), nil
	}
	if err != nil {
		return nil, apperrors.NewRegistryStoreFailedError("load", err)
	}
	st, err := decodeState(payload, s.schemaVersion, s.ttl)
	if err != nil {
		return nil, apperrors.NewRegistryStoreFailedError("decode", err)
	}
	return st, nil
}

func (s *PostgresStore) Save(ctx context.Context, st *State) error {
	data, err := encodeState(st)
	if err != nil {
		return apperrors.NewRegistryStoreFailedError("encode", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_registry_state (schema_version, payload, built_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (schema_version) DO UPDATE SET payload = EXCLUDED.payload, built_at = EXCLUDED.built_at`,
		s.schemaVersion, data, st.BuiltAt)
	if err != nil {
		return apperrors.NewRegistryStoreFailedError("save", err)
	}
	return nil
}

// MemoryStore keeps state in process only. Used when persistence is off.
type MemoryStore struct {
	mu            sync.Mutex
	schemaVersion int
	ttl           time.Duration
	data          []byte
}

func NewMemoryStore(schemaVersion int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{schemaVersion: schemaVersion, ttl: ttl}
}

func (s *MemoryStore) Load(context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return NewEmptyState(s.schemaVersion, s.ttl), nil
	}
	return decodeState(s.data, s.schemaVersion, s.ttl)
}

func (s *MemoryStore) Save(_ context.Context, st *State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}
