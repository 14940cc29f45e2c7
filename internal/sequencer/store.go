package sequencer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

// Store persists every sequence transition so an interrupted run can be
// resumed after a restart.
type Store interface {
	Save(seq Sequence) error
	Get(id string) (Sequence, error)
	List(state State, limit int) ([]Sequence, error)
	// Unfinished returns sequences in a non-terminal state, newest first.
	Unfinished() ([]Sequence, error)
}

type SQLStore struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenSQLStore(path, lockPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sequence store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sequence lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sequence sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS sequences (
			sequence_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_sequences_state_updated ON sequences(state, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sequence schema: %w", err)
		}
	}
	return &SQLStore{db: db, lock: flock.New(lockPath)}, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Save(seq Sequence) error {
	if strings.TrimSpace(seq.ID) == "" {
		return fmt.Errorf("save sequence: missing sequence id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock sequence store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock sequence store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("marshal sequence: %w", err)
	}
	created, updated := seq.CreatedAt, seq.UpdatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO sequences (sequence_id, kind, state, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sequence_id) DO UPDATE SET
			state=excluded.state,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, seq.ID, seq.Kind, string(seq.State), created.UTC().UnixNano(), updated.UTC().UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("save sequence: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(id string) (Sequence, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM sequences WHERE sequence_id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Sequence{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("sequence not found: %s", id))
		}
		return Sequence{}, fmt.Errorf("read sequence: %w", err)
	}
	var seq Sequence
	if err := json.Unmarshal(payload, &seq); err != nil {
		return Sequence{}, fmt.Errorf("decode sequence payload: %w", err)
	}
	return seq, nil
}

func (s *SQLStore) List(state State, limit int) ([]Sequence, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(string(state)) == "" {
		rows, err = s.db.Query("SELECT payload FROM sequences ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM sequences WHERE state = ? ORDER BY updated_at DESC LIMIT ?", string(state), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	return scanSequences(rows)
}

func (s *SQLStore) Unfinished() ([]Sequence, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM sequences WHERE state NOT IN (?, ?, ?) ORDER BY updated_at DESC",
		string(StateCompleted), string(StateAborted), string(StateTimedOut),
	)
	if err != nil {
		return nil, fmt.Errorf("list unfinished sequences: %w", err)
	}
	return scanSequences(rows)
}

func scanSequences(rows *sql.Rows) ([]Sequence, error) {
	defer rows.Close()
	out := make([]Sequence, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan sequence row: %w", err)
		}
		var seq Sequence
		if err := json.Unmarshal(payload, &seq); err != nil {
			return nil, fmt.Errorf("decode sequence row: %w", err)
		}
		out = append(out, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sequence rows: %w", err)
	}
	return out, nil
}

// MemoryStore keeps sequences for the lifetime of the process.
type MemoryStore struct {
	mu   sync.Mutex
	seqs map[string]Sequence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seqs: map[string]Sequence{}}
}

func (m *MemoryStore) Save(seq Sequence) error {
	if strings.TrimSpace(seq.ID) == "" {
		return fmt.Errorf("save sequence: missing sequence id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[seq.ID] = cloneSequence(seq)
	return nil
}

func (m *MemoryStore) Get(id string) (Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.seqs[id]
	if !ok {
		return Sequence{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("sequence not found: %s", id))
	}
	return cloneSequence(seq), nil
}

func (m *MemoryStore) List(state State, limit int) ([]Sequence, error) {
	if limit <= 0 {
		limit = 20
	}
	out := m.filter(func(s Sequence) bool { return state == "" || s.State == state })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Unfinished() ([]Sequence, error) {
	return m.filter(func(s Sequence) bool { return !s.State.Terminal() }), nil
}

func (m *MemoryStore) filter(keep func(Sequence) bool) []Sequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sequence, 0, len(m.seqs))
	for _, seq := range m.seqs {
		if keep(seq) {
			out = append(out, cloneSequence(seq))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func cloneSequence(seq Sequence) Sequence {
	out := seq
	out.Steps = append([]StepRecord(nil), seq.Steps...)
	out.Warnings = append([]string(nil), seq.Warnings...)
	if seq.Outputs != nil {
		out.Outputs = make(map[string]string, len(seq.Outputs))
		for k, v := range seq.Outputs {
			out.Outputs[k] = v
		}
	}
	return out
}
