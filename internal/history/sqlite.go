package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/sidechat/internal/logger"
	"github.com/comigor/sidechat/internal/protocol"
)

// SQLite persists the log as a JSON document in a local slots table.
// The database is opened lazily and created on first use. If opening it
// fails, the store keeps working from memory for the life of the process.
type SQLite struct {
	path string
	log  *slog.Logger

	once    sync.Once
	db      *sql.DB
	initErr error

	fallback *Memory
}

// NewSQLite returns a store for the database file at path.
func NewSQLite(path string) *SQLite {
	return &SQLite{
		path:     path,
		log:      logger.L,
		fallback: NewMemory(),
	}
}

func (s *SQLite) init() {
	db, err := sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		s.log.Warn("sqlite open failed; using in-memory history", "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS slots (
        name TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at DATETIME
    );`); err != nil {
		s.initErr = err
		_ = db.Close()
		s.log.Warn("sqlite table creation failed; using in-memory history", "error", err)
		return
	}
	s.db = db
	s.log.Info("sqlite history DB initialized", "path", s.path)
}

func (s *SQLite) ready() bool {
	s.once.Do(s.init)
	return s.initErr == nil && s.db != nil
}

// Load returns the saved log, or an empty log when nothing was saved yet.
func (s *SQLite) Load(ctx context.Context) ([]protocol.Message, error) {
	if !s.ready() {
		return s.fallback.Load(ctx)
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?;`, Slot).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []protocol.Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []protocol.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Save overwrites the slot with msgs.
func (s *SQLite) Save(ctx context.Context, msgs []protocol.Message) error {
	if !s.ready() {
		return s.fallback.Save(ctx, msgs)
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}

	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO slots (name, value, updated_at) VALUES (?,?,?)
        ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		Slot, string(raw), time.Now().UTC())
	return err
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
