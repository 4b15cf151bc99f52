package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gogotex/document-service/internal/document"
)

var documentsBucket = []byte("documents")

// BoltStore persists revisions in an embedded bbolt file. Each document owns a
// nested bucket whose keys are big-endian revision numbers, so the cursor's
// Last() is always the head.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func revKey(n int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))
	return k
}

func (s *BoltStore) Put(_ context.Context, rev *document.Revision) error {
	if err := checkRevision(rev); err != nil {
		return err
	}
	val, err := encodeRevision(rev)
	if err != nil {
		return err
	}
	// bbolt fsyncs on commit, so a nil return means the revision is on disk.
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(documentsBucket).CreateBucketIfNotExists([]byte(rev.DocumentID))
		if err != nil {
			return fmt.Errorf("document bucket %q: %w", rev.DocumentID, err)
		}
		key := revKey(rev.Number)
		if b.Get(key) != nil {
			return &document.ConflictError{DocumentID: rev.DocumentID, Revision: rev.Number}
		}
		return b.Put(key, val)
	})
}

func (s *BoltStore) Get(_ context.Context, id string, revision int) (*document.Revision, error) {
	var out *document.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket).Bucket([]byte(id))
		if b == nil {
			return &document.NotFoundError{DocumentID: id, Revision: revision}
		}
		v := b.Get(revKey(revision))
		if v == nil {
			return &document.NotFoundError{DocumentID: id, Revision: revision}
		}
		r, err := decodeRevision(v)
		out = r
		return err
	})
	return out, err
}

func (s *BoltStore) Latest(_ context.Context, id string) (*document.Revision, error) {
	var out *document.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket).Bucket([]byte(id))
		if b == nil {
			return &document.NotFoundError{DocumentID: id}
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return &document.NotFoundError{DocumentID: id}
		}
		r, err := decodeRevision(v)
		out = r
		return err
	})
	return out, err
}

func (s *BoltStore) History(_ context.Context, id string) ([]*document.Revision, error) {
	var out []*document.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket).Bucket([]byte(id))
		if b == nil {
			return &document.NotFoundError{DocumentID: id}
		}
		return b.ForEach(func(_, v []byte) error {
			r, err := decodeRevision(v)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// Heads walks document buckets in key order. Each step runs in its own read
// transaction so long scans do not pin old pages.
func (s *BoltStore) Heads(ctx context.Context) iter.Seq2[Head, error] {
	return func(yield func(Head, error) bool) {
		var after []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(Head{}, err)
				return
			}
			var (
				head  Head
				found bool
			)
			err := s.db.View(func(tx *bolt.Tx) error {
				c := tx.Bucket(documentsBucket).Cursor()
				var k []byte
				if after == nil {
					k, _ = c.First()
				} else {
					k, _ = c.Seek(after)
					if k != nil && string(k) == string(after) {
						k, _ = c.Next()
					}
				}
				for ; k != nil; k, _ = c.Next() {
					b := tx.Bucket(documentsBucket).Bucket(k)
					if b == nil {
						continue
					}
					_, v := b.Cursor().Last()
					after = append([]byte(nil), k...)
					if v == nil {
						continue
					}
					r, err := decodeRevision(v)
					if err != nil {
						return err
					}
					head, found = headOf(r), true
					return nil
				}
				return nil
			})
			if err != nil {
				yield(Head{}, err)
				return
			}
			if !found {
				return
			}
			if !yield(head, nil) {
				return
			}
		}
	}
}

func (s *BoltStore) DocumentIDs(ctx context.Context) iter.Seq2[string, error] {
	return liveIDs(s.Heads(ctx))
}

func (s *BoltStore) Close() error { return s.db.Close() }
