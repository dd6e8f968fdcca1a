package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
	"github.com/ggonzalez94/sendflow/internal/send"
)

type Store struct {
	db     *sql.DB
	lock   *flock.Flock
	logger *zap.Logger
}

func OpenStore(path, lockPath string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			account TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_invocations_status_updated ON invocations(status, updated_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_invocations_account_updated ON invocations(account, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, lock: flock.New(lockPath), logger: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("save invocation: missing id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal invocation: %w", err)
	}
	createdUnix := parseRFC3339Unix(rec.CreatedAt)
	updatedUnix := parseRFC3339Unix(rec.UpdatedAt)

	_, err = s.db.Exec(`
		INSERT INTO invocations (id, account, status, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, rec.ID, rec.Account, string(rec.Status), createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save invocation: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (Record, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM invocations WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invocation not found: %s", id))
		}
		return Record{}, fmt.Errorf("read invocation: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode invocation payload: %w", err)
	}
	return rec, nil
}

type Filter struct {
	Account string
	Status  Status
	Limit   int
}

// List returns the most recently updated invocations first.
func (s *Store) List(filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT payload FROM invocations"
	var (
		where []string
		args  []any
	)
	if account := strings.TrimSpace(filter.Account); account != "" {
		where = append(where, "account = ?")
		args = append(args, account)
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan invocation row: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode invocation row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocation rows: %w", err)
	}
	return records, nil
}

// Track records session as pending and updates the record once the session
// emits its result. Cancelled sessions are recorded when ctx ends first.
func (s *Store) Track(ctx context.Context, session *send.Session, path Path) (Record, <-chan struct{}) {
	rec := newRecord(session, path)
	if err := s.Save(rec); err != nil {
		s.logger.Warn("journal save failed", zap.String("id", rec.ID), zap.Error(err))
	}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-session.Done():
			if result, ok := session.Result(); ok {
				rec.Apply(result)
			}
		case <-ctx.Done():
			if result, ok := session.Result(); ok {
				rec.Apply(result)
				break
			}
			rec.Status = StatusCancelled
			rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if err := s.Save(rec); err != nil {
			s.logger.Warn("journal save failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}()
	return rec, finished
}

func parseRFC3339Unix(v string) int64 {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Now().UTC().Unix()
	}
	return t.UTC().Unix()
}
