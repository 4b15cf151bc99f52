package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/storage"
)

// ObjectBackend is the object-storage surface ObjectStore needs.
// *storage.MinIOStorage implements it.
type ObjectBackend interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context, prefix string) iter.Seq2[string, error]
}

var _ ObjectBackend = (*storage.MinIOStorage)(nil)

// ObjectStore keeps each revision as a JSON object at
// <escaped id>/<zero-padded revision>.json. Object stores have no
// conditional put here, so write-once is a stat before the upload; the
// revision index CAS is what actually arbitrates writers.
type ObjectStore struct {
	objects ObjectBackend
}

func NewObjectStore(objects ObjectBackend) *ObjectStore {
	return &ObjectStore{objects: objects}
}

func docPrefix(id string) string { return url.PathEscape(id) + "/" }

func objectKey(id string, n int) string {
	return docPrefix(id) + revisionSuffix(n) + ".json"
}

func (s *ObjectStore) Put(ctx context.Context, rev *document.Revision) error {
	if err := checkRevision(rev); err != nil {
		return err
	}
	key := objectKey(rev.DocumentID, rev.Number)
	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return &document.ConflictError{DocumentID: rev.DocumentID, Revision: rev.Number}
	}
	val, err := encodeRevision(rev)
	if err != nil {
		return err
	}
	return s.objects.Upload(ctx, key, val, "application/json")
}

func (s *ObjectStore) load(ctx context.Context, key string) (*document.Revision, error) {
	b, err := s.objects.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeRevision(b)
}

func (s *ObjectStore) Get(ctx context.Context, id string, revision int) (*document.Revision, error) {
	r, err := s.load(ctx, objectKey(id, revision))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, &document.NotFoundError{DocumentID: id, Revision: revision}
	}
	return r, err
}

func (s *ObjectStore) Latest(ctx context.Context, id string) (*document.Revision, error) {
	var last string
	for key, err := range s.objects.Keys(ctx, docPrefix(id)) {
		if err != nil {
			return nil, err
		}
		last = key
	}
	if last == "" {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	return s.load(ctx, last)
}

func (s *ObjectStore) History(ctx context.Context, id string) ([]*document.Revision, error) {
	var out []*document.Revision
	for key, err := range s.objects.Keys(ctx, docPrefix(id)) {
		if err != nil {
			return nil, err
		}
		r, err := s.load(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	return out, nil
}

// Heads relies on the listing being in key order: the last key seen for a
// document prefix is its head.
func (s *ObjectStore) Heads(ctx context.Context) iter.Seq2[Head, error] {
	return func(yield func(Head, error) bool) {
		var doc, last string
		emit := func() bool {
			if last == "" {
				return true
			}
			r, err := s.load(ctx, last)
			if err != nil {
				yield(Head{}, fmt.Errorf("load %s: %w", last, err))
				return false
			}
			return yield(headOf(r), nil)
		}
		for key, err := range s.objects.Keys(ctx, "") {
			if err != nil {
				yield(Head{}, err)
				return
			}
			d, _, ok := strings.Cut(key, "/")
			if !ok {
				continue
			}
			if d != doc {
				if !emit() {
					return
				}
				doc = d
			}
			last = key
		}
		emit()
	}
}

func (s *ObjectStore) DocumentIDs(ctx context.Context) iter.Seq2[string, error] {
	return liveIDs(s.Heads(ctx))
}

func (s *ObjectStore) Close() error { return nil }
