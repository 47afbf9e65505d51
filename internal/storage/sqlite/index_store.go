// Package sqlite provides a single-file SQLite implementation of the index store.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/storage/schema"
	"github.com/JakeFAU/searchcrawler/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	upsertFrontierSQL = `
INSERT INTO frontier (address, score) VALUES (?, 1)
ON CONFLICT (address) DO UPDATE SET score = score + 1
WHERE visited = 0
RETURNING score`

	claimFrontierSQL = `
UPDATE frontier SET visited = 1
WHERE id = (
	SELECT id FROM frontier
	WHERE visited = 0
	ORDER BY score DESC, id ASC
	LIMIT 1
)
RETURNING id, address, visited, score`

	lookupFrontierSQL = `SELECT id, address, visited, score FROM frontier WHERE address = ?`

	insertPageSQL = `
INSERT INTO page (url, title, content) VALUES (?, ?, ?)
ON CONFLICT (url) DO NOTHING
RETURNING id`

	upsertTermSQL = `
INSERT INTO term (name) VALUES (?)
ON CONFLICT (name) DO UPDATE SET name = excluded.name
RETURNING id`

	insertOccurrenceSQL = `INSERT INTO occurrence (page_id, term_id, counter, relevance) VALUES (?, ?, ?, 0)`

	pageCountSQL = `SELECT COUNT(*) FROM page`

	listTermsSQL = `SELECT id, name FROM term WHERE id > ? ORDER BY id LIMIT ?`

	termStatsSQL = `SELECT COALESCE(MAX(counter), 0), COUNT(*) FROM occurrence WHERE term_id = ?`

	updateRelevanceSQL = `
UPDATE occurrence SET relevance = CAST(counter AS REAL) / ? * ?
WHERE term_id = ?`

	occurrencesSQL = `
SELECT o.page_id, o.term_id, t.name, o.counter, o.relevance
FROM occurrence o JOIN term t ON t.id = o.term_id
WHERE o.page_id = ?
ORDER BY t.name`
)

// IndexStore persists the frontier and the inverted index in SQLite.
type IndexStore struct {
	db       *sql.DB
	migrator *schema.Migrator
	logger   *zap.Logger
}

// Open opens (or creates) the database at dsn and applies pending migrations.
// Foreign keys are always enabled.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*IndexStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("ping sqlite", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open migration driver: %w", err)
	}
	m, err := schema.New(migrationsFS, "migrations", "sqlite3", driver, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.Up(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return &IndexStore{db: db, migrator: m, logger: logger.Named("sqlite")}, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=1"
}

// Ping checks the connection.
func (s *IndexStore) Ping(ctx context.Context) error {
	return wrapErr("ping sqlite", s.db.PingContext(ctx))
}

// Reset drops and recreates the index tables.
func (s *IndexStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.migrator.Reset(); err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}
	s.logger.Info("index tables recreated")
	return nil
}

// Close closes the database. The migrator owns the handle, so closing it
// releases the connection as well.
func (s *IndexStore) Close() error {
	if s == nil || s.migrator == nil {
		return nil
	}
	return s.migrator.Close()
}

// UpsertFrontier implements store.FrontierStore.
func (s *IndexStore) UpsertFrontier(ctx context.Context, address string) (int64, bool, error) {
	var score int64
	err := s.db.QueryRowContext(ctx, upsertFrontierSQL, address).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, wrapErr("upsert frontier", err)
	}
	return score, false, nil
}

// ClaimFrontier implements store.FrontierStore.
func (s *IndexStore) ClaimFrontier(ctx context.Context) (store.FrontierEntry, error) {
	return scanFrontier(s.db.QueryRowContext(ctx, claimFrontierSQL), "claim frontier")
}

// LookupFrontier implements store.FrontierStore.
func (s *IndexStore) LookupFrontier(ctx context.Context, address string) (store.FrontierEntry, error) {
	return scanFrontier(s.db.QueryRowContext(ctx, lookupFrontierSQL, address), "lookup frontier")
}

func scanFrontier(row *sql.Row, op string) (store.FrontierEntry, error) {
	var e store.FrontierEntry
	err := row.Scan(&e.ID, &e.Address, &e.Visited, &e.Score)
	if errors.Is(err, sql.ErrNoRows) {
		return store.FrontierEntry{}, store.ErrNotFound
	}
	if err != nil {
		return store.FrontierEntry{}, wrapErr(op, err)
	}
	return e, nil
}

// IndexPage implements store.PageStore.
func (s *IndexStore) IndexPage(ctx context.Context, in store.PageInput) (store.IndexedPage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.IndexedPage{}, wrapErr("begin index transaction", err)
	}
	out, err := indexPageTx(ctx, tx, in)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback index transaction", zap.String("url", in.URL), zap.Error(rbErr))
		}
		return store.IndexedPage{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.IndexedPage{}, wrapErr("commit index transaction", err)
	}
	return out, nil
}

func indexPageTx(ctx context.Context, tx *sql.Tx, in store.PageInput) (store.IndexedPage, error) {
	var pageID int64
	err := tx.QueryRowContext(ctx, insertPageSQL, in.URL, in.Title, in.Content).Scan(&pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.IndexedPage{}, store.ErrDuplicate
	}
	if err != nil {
		return store.IndexedPage{}, wrapErr("insert page", err)
	}

	names := make([]string, 0, len(in.Terms))
	for name := range in.Terms {
		names = append(names, name)
	}
	sort.Strings(names)

	termStmt, err := tx.PrepareContext(ctx, upsertTermSQL)
	if err != nil {
		return store.IndexedPage{}, wrapErr("prepare term upsert", err)
	}
	defer termStmt.Close()
	occStmt, err := tx.PrepareContext(ctx, insertOccurrenceSQL)
	if err != nil {
		return store.IndexedPage{}, wrapErr("prepare occurrence insert", err)
	}
	defer occStmt.Close()

	ids := make(map[string]int64, len(names))
	for _, name := range names {
		id, ok := in.KnownTerms[name]
		if !ok {
			if err := termStmt.QueryRowContext(ctx, name).Scan(&id); err != nil {
				return store.IndexedPage{}, wrapErr("upsert term", err)
			}
		}
		ids[name] = id
		if _, err := occStmt.ExecContext(ctx, pageID, id, in.Terms[name]); err != nil {
			return store.IndexedPage{}, wrapErr("insert occurrence", err)
		}
	}
	return store.IndexedPage{PageID: pageID, TermIDs: ids}, nil
}

// PageCount implements store.PageStore.
func (s *IndexStore) PageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, pageCountSQL).Scan(&n); err != nil {
		return 0, wrapErr("count pages", err)
	}
	return n, nil
}

// Occurrences implements store.PageStore.
func (s *IndexStore) Occurrences(ctx context.Context, pageID int64) ([]store.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, occurrencesSQL, pageID)
	if err != nil {
		return nil, wrapErr("query occurrences", err)
	}
	defer rows.Close()
	var out []store.Occurrence
	for rows.Next() {
		var o store.Occurrence
		if err := rows.Scan(&o.PageID, &o.TermID, &o.Term, &o.Counter, &o.Relevance); err != nil {
			return nil, wrapErr("scan occurrence", err)
		}
		out = append(out, o)
	}
	return out, wrapErr("query occurrences", rows.Err())
}

// ListTerms implements store.RelevanceStore. Rows are fully read before
// returning so the single connection is free for the caller's updates.
func (s *IndexStore) ListTerms(ctx context.Context, afterID int64, limit int) ([]store.Term, error) {
	rows, err := s.db.QueryContext(ctx, listTermsSQL, afterID, limit)
	if err != nil {
		return nil, wrapErr("list terms", err)
	}
	defer rows.Close()
	var terms []store.Term
	for rows.Next() {
		var t store.Term
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, wrapErr("scan term", err)
		}
		terms = append(terms, t)
	}
	return terms, wrapErr("list terms", rows.Err())
}

// TermStats implements store.RelevanceStore.
func (s *IndexStore) TermStats(ctx context.Context, termID int64) (store.TermStats, error) {
	var st store.TermStats
	if err := s.db.QueryRowContext(ctx, termStatsSQL, termID).Scan(&st.MaxCounter, &st.DocFreq); err != nil {
		return store.TermStats{}, wrapErr("term stats", err)
	}
	return st, nil
}

// UpdateRelevance implements store.RelevanceStore.
func (s *IndexStore) UpdateRelevance(ctx context.Context, termID int64, maxCounter int64, idf float64) (int64, error) {
	if maxCounter <= 0 {
		return 0, fmt.Errorf("update relevance: max counter must be positive, got %d", maxCounter)
	}
	res, err := s.db.ExecContext(ctx, updateRelevanceSQL, float64(maxCounter), idf, termID)
	if err != nil {
		return 0, wrapErr("update relevance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("update relevance", err)
	}
	return n, nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		err = store.Transient(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return true
		}
		return false
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

var _ store.Store = (*IndexStore)(nil)
