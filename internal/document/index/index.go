// Package index keeps the in-memory pointer to every document's current
// revision. It is rebuilt from the store once at startup and is the single
// arbiter of which write becomes current.
package index

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/pkg/logger"
	"github.com/gogotex/document-service/pkg/metrics"
)

// ErrAlreadyRebuilt is returned by a second Rebuild.
var ErrAlreadyRebuilt = errors.New("revision index already rebuilt")

// HeadSource is the part of the store a rebuild scans.
type HeadSource interface {
	Heads(ctx context.Context) iter.Seq2[repository.Head, error]
}

// slot guards one document's pointer. Different documents never share a slot.
type slot struct {
	mu  sync.Mutex
	ptr document.Pointer
}

// Stats is a point-in-time count of tracked documents.
type Stats struct {
	Documents int64 `json:"documents"`
	Deleted   int64 `json:"deleted"`
}

type Index struct {
	slots      sync.Map // map[string]*slot
	ready      atomic.Bool
	rebuilding atomic.Bool
	live       atomic.Int64
	deleted    atomic.Int64
	now        func() time.Time
	log        *zap.Logger
}

type Option func(*Index)

// WithClock overrides time.Now for pointer timestamps.
func WithClock(now func() time.Time) Option { return func(i *Index) { i.now = now } }

func WithLogger(l *zap.Logger) Option { return func(i *Index) { i.log = l } }

func New(opts ...Option) *Index {
	i := &Index{now: time.Now, log: logger.Named("index")}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Index) Ready() bool { return i.ready.Load() }

func (i *Index) checkReady() error {
	if !i.ready.Load() {
		return &document.NotReadyError{}
	}
	return nil
}

// Current returns the current revision of id. ok is false for unknown IDs.
func (i *Index) Current(id string) (int, bool, error) {
	p, ok, err := i.Lookup(id)
	return p.Current, ok, err
}

// Lookup returns a copy of the pointer for id.
func (i *Index) Lookup(id string) (document.Pointer, bool, error) {
	if err := i.checkReady(); err != nil {
		return document.Pointer{}, false, err
	}
	v, ok := i.slots.Load(id)
	if !ok {
		return document.Pointer{}, false, nil
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptr.Current == 0 {
		return document.Pointer{}, false, nil
	}
	return s.ptr, true, nil
}

// Advance moves id from expectedPrevious to next atomically. It returns false
// when the pointer is not at expectedPrevious. expectedPrevious 0 means the
// document must not exist yet.
func (i *Index) Advance(id string, expectedPrevious, next int, deleted bool) (bool, error) {
	if err := i.checkReady(); err != nil {
		return false, err
	}
	if next <= expectedPrevious {
		return false, fmt.Errorf("advance %q: next revision %d must exceed %d", id, next, expectedPrevious)
	}
	v, _ := i.slots.LoadOrStore(id, &slot{})
	s := v.(*slot)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptr.Current != expectedPrevious {
		return false, nil
	}
	wasTracked, wasDeleted := s.ptr.Current > 0, s.ptr.Deleted
	s.ptr = document.Pointer{DocumentID: id, Current: next, Deleted: deleted, UpdatedAt: i.now().UTC()}
	i.account(wasTracked, wasDeleted, deleted)
	return true, nil
}

func (i *Index) account(wasTracked, wasDeleted, deleted bool) {
	if wasTracked {
		if wasDeleted {
			i.deleted.Add(-1)
		} else {
			i.live.Add(-1)
		}
	}
	if deleted {
		i.deleted.Add(1)
	} else {
		i.live.Add(1)
	}
	metrics.IndexDocuments.WithLabelValues("live").Set(float64(i.live.Load()))
	metrics.IndexDocuments.WithLabelValues("deleted").Set(float64(i.deleted.Load()))
}

// Rebuild loads the head of every stored document and marks the index ready.
// It runs once; callers are rejected with NotReadyError until it finishes. A
// failed rebuild leaves the index empty and may be retried.
func (i *Index) Rebuild(ctx context.Context, src HeadSource) error {
	if !i.rebuilding.CompareAndSwap(false, true) {
		return ErrAlreadyRebuilt
	}
	start := time.Now()
	var n int
	for h, err := range src.Heads(ctx) {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			i.reset()
			i.rebuilding.Store(false)
			return fmt.Errorf("rebuild revision index: %w", err)
		}
		s := &slot{ptr: document.Pointer{DocumentID: h.DocumentID, Current: h.Revision, Deleted: h.Deleted, UpdatedAt: h.CreatedAt}}
		if _, loaded := i.slots.LoadOrStore(h.DocumentID, s); loaded {
			i.reset()
			i.rebuilding.Store(false)
			return fmt.Errorf("rebuild revision index: duplicate head for %q", h.DocumentID)
		}
		i.account(false, false, h.Deleted)
		n++
	}
	took := time.Since(start)
	metrics.IndexRebuildSeconds.Observe(took.Seconds())
	i.ready.Store(true)
	i.log.Info("revision index rebuilt",
		zap.Int("documents", n),
		zap.Int64("deleted", i.deleted.Load()),
		logger.Duration(took))
	return nil
}

func (i *Index) reset() {
	i.slots.Range(func(k, _ any) bool {
		i.slots.Delete(k)
		return true
	})
	i.live.Store(0)
	i.deleted.Store(0)
}

// Live yields the IDs of non-tombstoned documents in ascending order. The set
// is snapshotted each time the sequence is ranged over.
func (i *Index) Live() iter.Seq[string] {
	return func(yield func(string) bool) {
		var ids []string
		i.slots.Range(func(k, v any) bool {
			s := v.(*slot)
			s.mu.Lock()
			if s.ptr.Current > 0 && !s.ptr.Deleted {
				ids = append(ids, k.(string))
			}
			s.mu.Unlock()
			return true
		})
		slices.Sort(ids)
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

func (i *Index) Stats() Stats {
	return Stats{Documents: i.live.Load() + i.deleted.Load(), Deleted: i.deleted.Load()}
}
