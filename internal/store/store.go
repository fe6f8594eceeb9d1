package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite"
)

// ErrDuplicate reports a unique-constraint violation on insert. Callers
// rely on it being distinguishable from every other storage failure.
var ErrDuplicate = errors.New("duplicate key")

var errBadTableName = errors.New("table name must be alphanumeric/underscore")

// TrackedIdentity is one persisted row: the latest known place for one
// minted identity. Times are epoch seconds.
type TrackedIdentity struct {
	ID         string
	Username   string
	Location   string
	LastUpdate int64
	Created    int64
}

// Store owns the single SQLite handle. SetMaxOpenConns(1) keeps every
// statement on one connection, so logical operations never interleave.
type Store struct {
	db    *sql.DB
	table string
	cap   int
	log   log.Logger
}

type StoreConfig struct {
	Path   string
	Table  string
	RowCap int
}

// Open initializes the database file, creating parent directories as
// needed. The schema is applied on every open.
func Open(conf *StoreConfig) (*Store, error) {
	if !validTableName(conf.Table) {
		return nil, errBadTableName
	}
	if dir := filepath.Dir(conf.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", conf.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	st := &Store{db: db, table: conf.Table, cap: conf.RowCap}
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "store").Value()
	if err := st.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}

func (st *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			location TEXT NOT NULL DEFAULT '',
			last_update INTEGER NOT NULL,
			created INTEGER NOT NULL
		);`, st.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_last_update ON %s(last_update);`, st.table, st.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_location ON %s(location);`, st.table, st.table),
	}
	for _, stmt := range stmts {
		if _, err := st.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (st *Store) Close() error {
	return st.db.Close()
}

// IDExists reports whether an identity row exists.
func (st *Store) IDExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := st.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?;`, st.table), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup id: %w", err)
	}
	return true, nil
}

// UsernameExists reports whether a username is already registered.
func (st *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := st.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE username = ?;`, st.table), username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup username: %w", err)
	}
	return true, nil
}

// Insert adds a fresh identity row. A unique violation on id or
// username comes back as ErrDuplicate.
func (st *Store) Insert(ctx context.Context, row *TrackedIdentity) error {
	_, err := st.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, username, location, last_update, created) VALUES (?, ?, ?, ?, ?);`, st.table),
		row.ID, row.Username, row.Location, row.LastUpdate, row.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// SQLite reports "UNIQUE constraint failed" for both the primary key
// and the username index.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdateLocation overwrites location and last_update for one id.
// Returns false when the id does not exist.
func (st *Store) UpdateLocation(ctx context.Context, id string, location string, ts int64) (bool, error) {
	res, err := st.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET location = ?, last_update = ? WHERE id = ?;`, st.table),
		location, ts, id)
	if err != nil {
		return false, fmt.Errorf("update location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update location: %w", err)
	}
	return n > 0, nil
}

// FetchByUsernames returns the rows whose username is in the given set,
// newest first, capped. The IN-predicate is parameterized per element.
func (st *Store) FetchByUsernames(ctx context.Context, usernames []string) ([]TrackedIdentity, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(usernames)), ",")
	args := make([]interface{}, 0, len(usernames)+1)
	for _, u := range usernames {
		args = append(args, u)
	}
	args = append(args, st.cap)
	query := fmt.Sprintf(`SELECT id, username, location, last_update, created FROM %s
		WHERE username IN (%s) ORDER BY last_update DESC LIMIT ?;`, st.table, placeholders)
	return st.fetch(ctx, query, args...)
}

// FetchByLocation returns the rows at an exact place title, newest
// first, capped.
func (st *Store) FetchByLocation(ctx context.Context, location string) ([]TrackedIdentity, error) {
	query := fmt.Sprintf(`SELECT id, username, location, last_update, created FROM %s
		WHERE location = ? ORDER BY last_update DESC LIMIT ?;`, st.table)
	return st.fetch(ctx, query, location, st.cap)
}

// FetchAll returns every row, newest first, capped.
func (st *Store) FetchAll(ctx context.Context) ([]TrackedIdentity, error) {
	query := fmt.Sprintf(`SELECT id, username, location, last_update, created FROM %s
		ORDER BY last_update DESC LIMIT ?;`, st.table)
	return st.fetch(ctx, query, st.cap)
}

func (st *Store) fetch(ctx context.Context, query string, args ...interface{}) ([]TrackedIdentity, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	out := make([]TrackedIdentity, 0, st.cap)
	for rows.Next() {
		var t TrackedIdentity
		if err := rows.Scan(&t.ID, &t.Username, &t.Location, &t.LastUpdate, &t.Created); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// Purge deletes every row whose last_update is at or before cutoff and
// returns how many went.
func (st *Store) Purge(ctx context.Context, cutoff int64) (int64, error) {
	res, err := st.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE last_update <= ?;`, st.table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge stale rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge stale rows: %w", err)
	}
	if n > 0 {
		st.log.Info().Int64("rows", n).Int64("cutoff", cutoff).Msg("purged stale identities")
	}
	return n, nil
}

// Reset empties the table. Destructive; only runs at startup behind the
// reset_on_start flag.
func (st *Store) Reset(ctx context.Context) error {
	if _, err := st.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s;`, st.table)); err != nil {
		return fmt.Errorf("reset table: %w", err)
	}
	st.log.Warn().Str("table", st.table).Msg("table reset, all rows dropped")
	return nil
}

// Count returns the number of stored identities. Used by the monitor.
func (st *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := st.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, st.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}
