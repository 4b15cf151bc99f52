package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/gogotex/document-service/internal/document"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS revisions (
	doc_id       TEXT    NOT NULL,
	revision     INTEGER NOT NULL,
	content      BLOB,
	content_type TEXT    NOT NULL,
	metadata     TEXT    NOT NULL,
	created_at   INTEGER NOT NULL,
	deleted      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (doc_id, revision)
);`

const sqliteHeads = `
SELECT r.doc_id, r.revision, r.deleted, r.created_at
FROM revisions r
JOIN (SELECT doc_id, MAX(revision) AS head FROM revisions GROUP BY doc_id) h
  ON r.doc_id = h.doc_id AND r.revision = h.head
ORDER BY r.doc_id`

// SQLiteStore stores one row per revision; the composite primary key enforces
// write-once.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database file at path with WAL journaling and
// synchronous=FULL so committed rows survive a crash.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rev *document.Revision) error {
	if err := checkRevision(rev); err != nil {
		return err
	}
	meta, err := json.Marshal(rev.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO revisions (doc_id, revision, content, content_type, metadata, created_at, deleted) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rev.DocumentID, rev.Number, rev.Content, rev.ContentType, string(meta), rev.CreatedAt.UnixNano(), rev.Deleted)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return &document.ConflictError{DocumentID: rev.DocumentID, Revision: rev.Number}
		}
		return fmt.Errorf("insert revision %s/%d: %w", rev.DocumentID, rev.Number, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRevision(row rowScanner) (*document.Revision, error) {
	var (
		r       document.Revision
		meta    string
		created int64
	)
	if err := row.Scan(&r.DocumentID, &r.Number, &r.Content, &r.ContentType, &meta, &created, &r.Deleted); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	return &r, nil
}

const sqliteColumns = `doc_id, revision, content, content_type, metadata, created_at, deleted`

func (s *SQLiteStore) Get(ctx context.Context, id string, revision int) (*document.Revision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM revisions WHERE doc_id = ? AND revision = ?`, id, revision)
	r, err := scanSQLiteRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &document.NotFoundError{DocumentID: id, Revision: revision}
	}
	return r, err
}

func (s *SQLiteStore) Latest(ctx context.Context, id string) (*document.Revision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM revisions WHERE doc_id = ? ORDER BY revision DESC LIMIT 1`, id)
	r, err := scanSQLiteRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	return r, err
}

func (s *SQLiteStore) History(ctx context.Context, id string) ([]*document.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM revisions WHERE doc_id = ? ORDER BY revision`, id)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", id, err)
	}
	defer rows.Close()
	var out []*document.Revision
	for rows.Next() {
		r, err := scanSQLiteRevision(rows)
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

func (s *SQLiteStore) Heads(ctx context.Context) iter.Seq2[Head, error] {
	return func(yield func(Head, error) bool) {
		rows, err := s.db.QueryContext(ctx, sqliteHeads)
		if err != nil {
			yield(Head{}, fmt.Errorf("query heads: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var (
				h       Head
				created int64
			)
			if err := rows.Scan(&h.DocumentID, &h.Revision, &h.Deleted, &created); err != nil {
				yield(Head{}, err)
				return
			}
			h.CreatedAt = time.Unix(0, created).UTC()
			if !yield(h, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Head{}, err)
		}
	}
}

func (s *SQLiteStore) DocumentIDs(ctx context.Context) iter.Seq2[string, error] {
	return liveIDs(s.Heads(ctx))
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
