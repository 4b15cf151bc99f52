package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gogotex/document-service/internal/document"
)

// PgQuerier is the subset of *pgxpool.Pool and pgx.Tx the store needs.
type PgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS document_revision (
	doc_id       TEXT        NOT NULL,
	revision     INTEGER     NOT NULL,
	content      BYTEA,
	content_type TEXT        NOT NULL,
	metadata     JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	deleted      BOOLEAN     NOT NULL DEFAULT FALSE,
	PRIMARY KEY (doc_id, revision)
);`

const pgColumns = `doc_id, revision, content, content_type, metadata, created_at, deleted`

// PostgresStore keeps one row per revision in document_revision.
type PostgresStore struct {
	db   PgQuerier
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &PostgresStore{db: pool, pool: pool}, nil
}

func (s *PostgresStore) Put(ctx context.Context, rev *document.Revision) error {
	if err := checkRevision(rev); err != nil {
		return err
	}
	const q = `INSERT INTO document_revision (` + pgColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(ctx, q, rev.DocumentID, rev.Number, rev.Content, rev.ContentType, rev.Metadata, rev.CreatedAt, rev.Deleted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return &document.ConflictError{DocumentID: rev.DocumentID, Revision: rev.Number}
		}
		return fmt.Errorf("insert revision %s/%d: %w", rev.DocumentID, rev.Number, err)
	}
	return nil
}

func scanPgRevision(row pgx.Row) (*document.Revision, error) {
	var r document.Revision
	if err := row.Scan(&r.DocumentID, &r.Number, &r.Content, &r.ContentType, &r.Metadata, &r.CreatedAt, &r.Deleted); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string, revision int) (*document.Revision, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pgColumns+` FROM document_revision WHERE doc_id = $1 AND revision = $2`, id, revision)
	r, err := scanPgRevision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &document.NotFoundError{DocumentID: id, Revision: revision}
	}
	return r, err
}

func (s *PostgresStore) Latest(ctx context.Context, id string) (*document.Revision, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pgColumns+` FROM document_revision WHERE doc_id = $1 ORDER BY revision DESC LIMIT 1`, id)
	r, err := scanPgRevision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	return r, err
}

func (s *PostgresStore) History(ctx context.Context, id string) ([]*document.Revision, error) {
	rows, err := s.db.Query(ctx, `SELECT `+pgColumns+` FROM document_revision WHERE doc_id = $1 ORDER BY revision`, id)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", id, err)
	}
	defer rows.Close()
	var out []*document.Revision
	for rows.Next() {
		r, err := scanPgRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	return out, nil
}

func (s *PostgresStore) Heads(ctx context.Context) iter.Seq2[Head, error] {
	return func(yield func(Head, error) bool) {
		const q = `
SELECT DISTINCT ON (doc_id) doc_id, revision, deleted, created_at
FROM document_revision
ORDER BY doc_id, revision DESC`
		rows, err := s.db.Query(ctx, q)
		if err != nil {
			yield(Head{}, fmt.Errorf("query heads: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var h Head
			if err := rows.Scan(&h.DocumentID, &h.Revision, &h.Deleted, &h.CreatedAt); err != nil {
				yield(Head{}, err)
				return
			}
			if !yield(h, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Head{}, err)
		}
	}
}

func (s *PostgresStore) DocumentIDs(ctx context.Context) iter.Seq2[string, error] {
	return liveIDs(s.Heads(ctx))
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
