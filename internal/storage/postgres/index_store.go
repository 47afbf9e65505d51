package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/storage/schema"
	"github.com/JakeFAU/searchcrawler/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	upsertFrontierSQL = `
INSERT INTO frontier (address, score) VALUES ($1, 1)
ON CONFLICT (address) DO UPDATE SET score = frontier.score + 1
WHERE NOT frontier.visited
RETURNING score`

	claimFrontierSQL = `
UPDATE frontier SET visited = TRUE
WHERE id = (
	SELECT id FROM frontier
	WHERE NOT visited
	ORDER BY score DESC, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, address, visited, score`

	lookupFrontierSQL = `SELECT id, address, visited, score FROM frontier WHERE address = $1`

	insertPageSQL = `
INSERT INTO page (url, title, content) VALUES ($1, $2, $3)
ON CONFLICT (url) DO NOTHING
RETURNING id`

	upsertTermsSQL = `
INSERT INTO term (name) SELECT unnest($1::text[])
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name`

	insertOccurrencesSQL = `
INSERT INTO occurrence (page_id, term_id, counter, relevance)
SELECT $1, t.term_id, t.counter, 0
FROM unnest($2::bigint[], $3::integer[]) AS t(term_id, counter)`

	pageCountSQL = `SELECT COUNT(*) FROM page`

	listTermsSQL = `SELECT id, name FROM term WHERE id > $1 ORDER BY id LIMIT $2`

	termStatsSQL = `SELECT COALESCE(MAX(counter), 0), COUNT(*) FROM occurrence WHERE term_id = $1`

	updateRelevanceSQL = `
UPDATE occurrence SET relevance = counter::double precision / $2 * $3
WHERE term_id = $1`

	occurrencesSQL = `
SELECT o.page_id, o.term_id, t.name, o.counter, o.relevance
FROM occurrence o JOIN term t ON t.id = o.term_id
WHERE o.page_id = $1
ORDER BY t.name`
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// SchemaResetter drops and recreates the index tables.
type SchemaResetter func(ctx context.Context) error

// IndexStore persists the frontier and the inverted index in Postgres.
type IndexStore struct {
	pool   pool
	reset  SchemaResetter
	logger *zap.Logger
}

// Open connects a pool using cfg. The schema is not touched until Reset or Migrate.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*IndexStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	connCfg := poolCfg.ConnConfig.Copy()
	return &IndexStore{
		pool:   p,
		reset:  migrationResetter(connCfg, logger, true),
		logger: logger.Named("postgres"),
	}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, reset SchemaResetter, logger *zap.Logger) (*IndexStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexStore{pool: p, reset: reset, logger: logger.Named("postgres")}, nil
}

// Migrate applies pending migrations without dropping data.
func Migrate(ctx context.Context, dsn string, logger *zap.Logger) error {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	return migrationResetter(connCfg, logger, false)(ctx)
}

func migrationResetter(connCfg *pgx.ConnConfig, logger *zap.Logger, drop bool) SchemaResetter {
	return func(ctx context.Context) error {
		db := stdlib.OpenDB(*connCfg)
		driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			_ = db.Close()
			return wrapErr("open migration driver", err)
		}
		m, err := schema.New(migrationsFS, "migrations", "pgx5", driver, logger)
		if err != nil {
			_ = driver.Close()
			return err
		}
		defer func() {
			if err := m.Close(); err != nil {
				logger.Warn("close migrator", zap.Error(err))
			}
		}()
		if err := ctx.Err(); err != nil {
			return err
		}
		if drop {
			return m.Reset()
		}
		return m.Up()
	}
}

// Ping checks the connection.
func (s *IndexStore) Ping(ctx context.Context) error {
	return wrapErr("ping postgres", s.pool.Ping(ctx))
}

// Reset drops and recreates the index tables.
func (s *IndexStore) Reset(ctx context.Context) error {
	if s.reset == nil {
		return fmt.Errorf("schema reset is not configured")
	}
	if err := s.reset(ctx); err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}
	s.logger.Info("index tables recreated")
	return nil
}

// Close releases the underlying pool resources.
func (s *IndexStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// UpsertFrontier implements store.FrontierStore.
func (s *IndexStore) UpsertFrontier(ctx context.Context, address string) (int64, bool, error) {
	var score int64
	err := s.pool.QueryRow(ctx, upsertFrontierSQL, address).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, wrapErr("upsert frontier", err)
	}
	return score, false, nil
}

// ClaimFrontier implements store.FrontierStore.
func (s *IndexStore) ClaimFrontier(ctx context.Context) (store.FrontierEntry, error) {
	return s.scanFrontier(s.pool.QueryRow(ctx, claimFrontierSQL), "claim frontier")
}

// LookupFrontier implements store.FrontierStore.
func (s *IndexStore) LookupFrontier(ctx context.Context, address string) (store.FrontierEntry, error) {
	return s.scanFrontier(s.pool.QueryRow(ctx, lookupFrontierSQL, address), "lookup frontier")
}

func (s *IndexStore) scanFrontier(row pgx.Row, op string) (store.FrontierEntry, error) {
	var e store.FrontierEntry
	err := row.Scan(&e.ID, &e.Address, &e.Visited, &e.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.FrontierEntry{}, store.ErrNotFound
	}
	if err != nil {
		return store.FrontierEntry{}, wrapErr(op, err)
	}
	return e, nil
}

// IndexPage implements store.PageStore.
func (s *IndexStore) IndexPage(ctx context.Context, in store.PageInput) (store.IndexedPage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.IndexedPage{}, wrapErr("begin index transaction", err)
	}
	out, err := indexPageTx(ctx, tx, in)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback index transaction", zap.String("url", in.URL), zap.Error(rbErr))
		}
		return store.IndexedPage{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return store.IndexedPage{}, wrapErr("commit index transaction", err)
	}
	return out, nil
}

func indexPageTx(ctx context.Context, tx pgx.Tx, in store.PageInput) (store.IndexedPage, error) {
	var pageID int64
	err := tx.QueryRow(ctx, insertPageSQL, in.URL, in.Title, in.Content).Scan(&pageID)
	if errors.Is(err, pgx.ErrNoRows) {
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

	ids := make(map[string]int64, len(names))
	var unknown []string
	for _, name := range names {
		if id, ok := in.KnownTerms[name]; ok {
			ids[name] = id
			continue
		}
		unknown = append(unknown, name)
	}
	if len(unknown) > 0 {
		if err := upsertTerms(ctx, tx, unknown, ids); err != nil {
			return store.IndexedPage{}, err
		}
	}

	if len(names) > 0 {
		termIDs := make([]int64, len(names))
		counters := make([]int32, len(names))
		for i, name := range names {
			termIDs[i] = ids[name]
			counters[i] = int32(in.Terms[name])
		}
		if _, err := tx.Exec(ctx, insertOccurrencesSQL, pageID, termIDs, counters); err != nil {
			return store.IndexedPage{}, wrapErr("insert occurrences", err)
		}
	}
	return store.IndexedPage{PageID: pageID, TermIDs: ids}, nil
}

func upsertTerms(ctx context.Context, tx pgx.Tx, names []string, ids map[string]int64) error {
	rows, err := tx.Query(ctx, upsertTermsSQL, names)
	if err != nil {
		return wrapErr("upsert terms", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return wrapErr("scan term", err)
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return wrapErr("upsert terms", err)
	}
	for _, name := range names {
		if _, ok := ids[name]; !ok {
			return fmt.Errorf("upsert terms: no id returned for %q", name)
		}
	}
	return nil
}

// PageCount implements store.PageStore.
func (s *IndexStore) PageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, pageCountSQL).Scan(&n); err != nil {
		return 0, wrapErr("count pages", err)
	}
	return n, nil
}

// Occurrences implements store.PageStore.
func (s *IndexStore) Occurrences(ctx context.Context, pageID int64) ([]store.Occurrence, error) {
	rows, err := s.pool.Query(ctx, occurrencesSQL, pageID)
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

// ListTerms implements store.RelevanceStore.
func (s *IndexStore) ListTerms(ctx context.Context, afterID int64, limit int) ([]store.Term, error) {
	rows, err := s.pool.Query(ctx, listTermsSQL, afterID, limit)
	if err != nil {
		return nil, wrapErr("list terms", err)
	}
	defer rows.Close()
	terms := make([]store.Term, 0, limit)
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
	if err := s.pool.QueryRow(ctx, termStatsSQL, termID).Scan(&st.MaxCounter, &st.DocFreq); err != nil {
		return store.TermStats{}, wrapErr("term stats", err)
	}
	return st, nil
}

// UpdateRelevance implements store.RelevanceStore.
func (s *IndexStore) UpdateRelevance(ctx context.Context, termID int64, maxCounter int64, idf float64) (int64, error) {
	if maxCounter <= 0 {
		return 0, fmt.Errorf("update relevance: max counter must be positive, got %d", maxCounter)
	}
	tag, err := s.pool.Exec(ctx, updateRelevanceSQL, termID, float64(maxCounter), idf)
	if err != nil {
		return 0, wrapErr("update relevance", err)
	}
	return tag.RowsAffected(), nil
}

var _ store.Store = (*IndexStore)(nil)
