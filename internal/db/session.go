package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/udisondev/shortid/internal/model"
	"github.com/udisondev/shortid/internal/resolver"
)

const (
	stmtInsert  = "shortid_insert"
	stmtSelect  = "shortid_select"
	stmtReverse = "shortid_reverse"
)

// Dialer opens exclusive connections to the alias table.
// It implements resolver.Backend.
type Dialer struct {
	dsn   string
	table string
}

// NewDialer returns a Dialer for table on dsn.
func NewDialer(dsn, table string) (*Dialer, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	return &Dialer{dsn: dsn, table: table}, nil
}

// Connect opens a connection and prepares the three statements.
func (d *Dialer) Connect(ctx context.Context) (resolver.Session, error) {
	conn, err := pgx.Connect(ctx, d.dsn)
	if err != nil {
		return nil, Classify(fmt.Errorf("connecting to database: %w", err))
	}

	s := &Session{conn: conn, table: d.table}
	if err := s.prepare(ctx); err != nil {
		if cerr := conn.Close(ctx); cerr != nil {
			slog.Warn("closing connection after failed prepare", "err", cerr)
		}
		return nil, Classify(err)
	}
	return s, nil
}

// Session is one connection with prepared statements.
type Session struct {
	conn  *pgx.Conn
	table string
}

func (s *Session) prepare(ctx context.Context) error {
	table := pgx.Identifier{s.table}.Sanitize()
	stmts := []struct{ name, sql string }{
		{stmtInsert, `INSERT INTO ` + table + ` (long_id) VALUES ($1) ON CONFLICT (long_id) DO NOTHING`},
		{stmtSelect, `SELECT alias FROM ` + table + ` WHERE long_id = $1 LIMIT 1`},
		{stmtReverse, `SELECT long_id FROM ` + table + ` WHERE alias = $1 LIMIT 1`},
	}
	for _, st := range stmts {
		if _, err := s.conn.Prepare(ctx, st.name, st.sql); err != nil {
			return fmt.Errorf("preparing %s: %w", st.name, err)
		}
	}
	return nil
}

// GetOrCreate selects the alias of id, inserting id first if it is absent.
// Select, insert and re-select run in one transaction. Every insert attempt
// draws a sequence value, so the insert runs only on a miss.
func (s *Session) GetOrCreate(ctx context.Context, id model.LongID) (model.ShortAlias, error) {
	if s.conn.IsClosed() {
		return model.InvalidAlias, fmt.Errorf("%w: connection is closed", resolver.ErrConnection)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return model.InvalidAlias, Classify(fmt.Errorf("begin transaction for %s: %w", id, err))
	}
	defer rollback(ctx, tx, id)

	raw := id.Bytes()
	alias, found, err := selectAlias(ctx, tx, raw)
	if err != nil {
		return model.InvalidAlias, Classify(fmt.Errorf("selecting alias for %s: %w", id, err))
	}

	if !found {
		if _, err := tx.Exec(ctx, stmtInsert, raw); err != nil {
			return model.InvalidAlias, Classify(fmt.Errorf("inserting %s: %w", id, err))
		}
		alias, found, err = selectAlias(ctx, tx, raw)
		if err != nil {
			return model.InvalidAlias, Classify(fmt.Errorf("selecting alias for %s: %w", id, err))
		}
		if !found {
			return model.InvalidAlias, fmt.Errorf("%w: no row for %s after insert", resolver.ErrTransient, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.InvalidAlias, Classify(fmt.Errorf("commit for %s: %w", id, err))
	}
	return alias, nil
}

func selectAlias(ctx context.Context, tx pgx.Tx, raw []byte) (model.ShortAlias, bool, error) {
	var alias int64
	err := tx.QueryRow(ctx, stmtSelect, raw).Scan(&alias)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.InvalidAlias, false, nil
	}
	if err != nil {
		return model.InvalidAlias, false, err
	}
	return model.ShortAlias(alias), true, nil
}

// Lookup returns the owner of alias.
func (s *Session) Lookup(ctx context.Context, alias model.ShortAlias) (model.LongID, bool, error) {
	if s.conn.IsClosed() {
		return model.LongID{}, false, fmt.Errorf("%w: connection is closed", resolver.ErrConnection)
	}

	var raw []byte
	err := s.conn.QueryRow(ctx, stmtReverse, int64(alias)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LongID{}, false, nil
	}
	if err != nil {
		return model.LongID{}, false, Classify(fmt.Errorf("selecting id for %s: %w", alias, err))
	}

	id, err := model.LongIDFromBytes(raw)
	if err != nil {
		return model.LongID{}, false, fmt.Errorf("decoding id for %s: %w", alias, err)
	}
	return id, true, nil
}

// Import inserts every mapping in one transaction. Rows that already exist
// are skipped, then the identity sequence is moved past the highest alias.
func (s *Session) Import(ctx context.Context, snapshot map[model.LongID]model.ShortAlias) error {
	table := pgx.Identifier{s.table}.Sanitize()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return Classify(fmt.Errorf("begin import transaction: %w", err))
	}
	defer rollback(ctx, tx, model.LongID{})

	batch := &pgx.Batch{}
	for id, alias := range snapshot {
		batch.Queue(
			`INSERT INTO `+table+` (alias, long_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			int64(alias), id.Bytes(),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return Classify(fmt.Errorf("importing %d rows: %w", len(snapshot), err))
	}

	_, err = tx.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence($1, 'alias'), (SELECT MAX(alias) FROM `+table+`))`,
		s.table)
	if err != nil {
		return Classify(fmt.Errorf("advancing alias sequence: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("commit import: %w", err))
	}
	return nil
}

// Close closes the connection.
func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

func rollback(ctx context.Context, tx pgx.Tx, id model.LongID) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Warn("rollback failed", "id", id, "err", err)
	}
}
