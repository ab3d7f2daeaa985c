package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Keys under which a session is persisted.
const (
	TokenKey = "moodcycle_token"
	UserKey  = "moodcycle_user"
)

// Persisted is the durable part of a session. Token and user are always
// written and cleared together.
type Persisted struct {
	Token string
	User  User
}

// Storage persists the session between runs.
type Storage interface {
	// Load returns ok=false when no complete session is stored.
	Load(ctx context.Context) (Persisted, bool, error)
	Save(ctx context.Context, p Persisted) error
	Clear(ctx context.Context) error
}

// MemoryStorage keeps the session in process memory.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStorage returns an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Load(_ context.Context) (Persisted, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodePersisted(s.values[TokenKey], s.values[UserKey])
}

func (s *MemoryStorage) Save(_ context.Context, p Persisted) error {
	user, err := json.Marshal(p.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[TokenKey] = p.Token
	s.values[UserKey] = string(user)
	return nil
}

func (s *MemoryStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, TokenKey)
	delete(s.values, UserKey)
	return nil
}

// SQLiteStorage persists the session in a key/value table.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the state database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS session_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) Load(ctx context.Context) (Persisted, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM session_state WHERE key IN (?, ?)`, TokenKey, UserKey)
	if err != nil {
		return Persisted{}, false, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 2)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Persisted{}, false, fmt.Errorf("scan session row: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Persisted{}, false, fmt.Errorf("iterate session rows: %w", err)
	}

	return decodePersisted(values[TokenKey], values[UserKey])
}

func (s *SQLiteStorage) Save(ctx context.Context, p Persisted) error {
	user, err := json.Marshal(p.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		const upsert = `INSERT INTO session_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`
		if _, err := tx.ExecContext(ctx, upsert, TokenKey, p.Token); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsert, UserKey, string(user)); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM session_state WHERE key IN (?, ?)`, TokenKey, UserKey); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// decodePersisted treats a half-written session as absent.
func decodePersisted(token, user string) (Persisted, bool, error) {
	if token == "" || user == "" {
		return Persisted{}, false, nil
	}
	var u User
	if err := json.Unmarshal([]byte(user), &u); err != nil {
		return Persisted{}, false, fmt.Errorf("decode stored user: %w", err)
	}
	return Persisted{Token: token, User: u}, true, nil
}
