package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relaycollab/internal/collab"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	defaultSeedTableName = "relaycollab_documents"
	sqlOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLSource reads seeds from a table with room_id and content columns. The
// table is created on first use when it does not exist; a failed setup is
// retried by the next Load.
type SQLSource struct {
	driver      string
	dsn         string
	tableName   string
	placeholder string
	openDB      sqlOpenFunc

	mu sync.Mutex
	db *sql.DB
}

// NewPostgresSource accepts a postgres URL; a table query parameter names
// the seed table and is not passed on to the server.
func NewPostgresSource(dsn string) (*SQLSource, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	table := ""
	if parsed, err := url.Parse(dsn); err == nil && parsed.Scheme != "" {
		query := parsed.Query()
		table = query.Get("table")
		query.Del("table")
		parsed.RawQuery = query.Encode()
		dsn = parsed.String()
	}
	return newSQLSource("postgres", dsn, table, "$1"), nil
}

func NewSQLiteSource(path, table string) (*SQLSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return newSQLSource("sqlite", path, table, "?"), nil
}

func newSQLSource(driver, dsn, table, placeholder string) *SQLSource {
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultSeedTableName
	}
	return &SQLSource{
		driver:      driver,
		dsn:         dsn,
		tableName:   table,
		placeholder: placeholder,
		openDB:      sql.Open,
	}
}

func (s *SQLSource) Load(ctx context.Context, room string) (string, bool, error) {
	if err := collab.ValidateRoomID(room); err != nil {
		return "", false, err
	}
	db, err := s.ensureReady()
	if err != nil {
		return "", false, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT content FROM %s WHERE room_id = %s", quoteIdentifier(s.tableName), s.placeholder)
	var content string
	err = db.QueryRowContext(ctx, query, room).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load seed for %s: %w", room, err)
	}
	return content, true, nil
}

func (s *SQLSource) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ensureReady opens the database and creates the seed table. It runs
// under its own timeout, never a caller's request context.
func (s *SQLSource) ensureReady() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := s.openDB(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s seed database: %w", s.driver, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			room_id TEXT PRIMARY KEY,
			content TEXT NOT NULL
		)`, quoteIdentifier(s.tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare %s seed table: %w", s.driver, err)
	}
	s.db = db
	return db, nil
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
