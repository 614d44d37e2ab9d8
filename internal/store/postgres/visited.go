// Package postgres implements the durable visited-state store on PostgreSQL.
//
// The store degrades instead of failing: when the database is unreachable,
// Has reports unseen and Put is a logged no-op, so a broken database costs
// duplicate work, never lost work.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// Counter rows are monotonic cross-run totals.
const (
	counterArticlesDistinct = "articles_distinct"
	counterPostsDistinct    = "posts_distinct"
	counterCommentsTotal    = "comments_total"
)

const schema = `
CREATE TABLE IF NOT EXISTS visited (
	url        TEXT PRIMARY KEY,
	first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value BIGINT NOT NULL DEFAULT 0
);`

// querier is the slice of pgxpool.Pool the store uses, also satisfied by
// pgxmock in tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a pipeline.VisitedStore backed by a pgx connection pool.
type Store struct {
	db     querier
	pool   *pgxpool.Pool // nil when constructed over a mock
	logger *zap.Logger
}

// New connects to dsn, verifies the connection, and bootstraps the schema.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{db: pool, pool: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// newWithDB wires the store over an existing querier, for tests.
func newWithDB(db querier, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Has reports whether url was processed in this or any earlier run. Database
// errors degrade to false so a flaky store never suppresses content.
func (s *Store) Has(ctx context.Context, url string) bool {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM visited WHERE url = $1`, url).Scan(&one)
	if err == nil {
		return true
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		s.logger.Warn("visited lookup failed", zap.String("url", url), zap.Error(err))
	}
	return false
}

// Put records url and bumps the distinct counter for kind when the row is
// new. Failures are logged and swallowed.
func (s *Store) Put(ctx context.Context, url string, kind pipeline.Kind) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO visited (url) VALUES ($1) ON CONFLICT (url) DO NOTHING`, url)
	if err != nil {
		s.logger.Warn("visited insert failed", zap.String("url", url), zap.Error(err))
		return
	}
	if tag.RowsAffected() == 0 {
		return
	}
	switch kind {
	case pipeline.KindArticle:
		s.addCounter(ctx, counterArticlesDistinct, 1)
	case pipeline.KindDiscussionPost:
		s.addCounter(ctx, counterPostsDistinct, 1)
	}
}

// AddComments bumps the monotonic comment total. Comments are not URL-keyed,
// so the count is additive per run.
func (s *Store) AddComments(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	s.addCounter(ctx, counterCommentsTotal, int64(n))
}

func (s *Store) addCounter(ctx context.Context, name string, delta int64) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO counters (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = counters.value + EXCLUDED.value`,
		name, delta)
	if err != nil {
		s.logger.Warn("counter update failed", zap.String("counter", name), zap.Error(err))
	}
}

// Cumulative returns the cross-run totals. Missing rows read as zero.
func (s *Store) Cumulative(ctx context.Context) pipeline.CumulativeCounters {
	var out pipeline.CumulativeCounters
	rows, err := s.db.Query(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		s.logger.Warn("counter read failed", zap.Error(err))
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			s.logger.Warn("counter scan failed", zap.Error(err))
			return out
		}
		switch name {
		case counterArticlesDistinct:
			out.ArticlesDistinct = value
		case counterPostsDistinct:
			out.PostsDistinct = value
		case counterCommentsTotal:
			out.CommentsTotal = value
		}
	}
	return out
}
