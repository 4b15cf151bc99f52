package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/gogotex/document-service/internal/document"
)

// Store persists immutable document revisions keyed by (documentID, revision).
// Every implementation is write-once per key and durable before Put returns.
type Store interface {
	Put(ctx context.Context, rev *document.Revision) error
	Get(ctx context.Context, id string, revision int) (*document.Revision, error)
	Latest(ctx context.Context, id string) (*document.Revision, error)
	// DocumentIDs yields the IDs of documents whose latest revision is not a
	// tombstone. Ranging over the sequence again restarts the scan.
	DocumentIDs(ctx context.Context) iter.Seq2[string, error]
	// Heads yields the highest revision of every stored document.
	Heads(ctx context.Context) iter.Seq2[Head, error]
	History(ctx context.Context, id string) ([]*document.Revision, error)
	Close() error
}

// Head summarises the highest persisted revision of one document.
type Head struct {
	DocumentID string
	Revision   int
	Deleted    bool
	CreatedAt  time.Time
}

func headOf(r *document.Revision) Head {
	return Head{DocumentID: r.DocumentID, Revision: r.Number, Deleted: r.Deleted, CreatedAt: r.CreatedAt}
}

// liveIDs adapts a Heads sequence into the DocumentIDs contract.
func liveIDs(heads iter.Seq2[Head, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for h, err := range heads {
			if err != nil {
				yield("", err)
				return
			}
			if h.Deleted {
				continue
			}
			if !yield(h.DocumentID, nil) {
				return
			}
		}
	}
}

func checkRevision(rev *document.Revision) error {
	if rev == nil || rev.DocumentID == "" {
		return fmt.Errorf("revision without document id")
	}
	if rev.Number < 1 {
		return fmt.Errorf("document %q: revision number %d must be >= 1", rev.DocumentID, rev.Number)
	}
	return nil
}

// revisionSuffix zero-pads revision numbers so lexical order matches numeric order.
func revisionSuffix(n int) string {
	return fmt.Sprintf("%010d", n)
}

func encodeRevision(rev *document.Revision) ([]byte, error) {
	b, err := json.Marshal(rev)
	if err != nil {
		return nil, fmt.Errorf("encode revision %s/%d: %w", rev.DocumentID, rev.Number, err)
	}
	return b, nil
}

func decodeRevision(b []byte) (*document.Revision, error) {
	var r document.Revision
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode revision: %w", err)
	}
	return &r, nil
}
