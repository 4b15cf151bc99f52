package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/gogotex/document-service/internal/cache"
	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/concurrency"
	"github.com/gogotex/document-service/internal/document/index"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/internal/notify"
	"github.com/gogotex/document-service/pkg/logger"
	"github.com/gogotex/document-service/pkg/metrics"
)

// Latest asks Get for the current revision.
const Latest = 0

// Draft is the caller-supplied part of a new revision.
type Draft struct {
	Content     []byte
	ContentType string
	Metadata    document.Metadata
}

// Service defines the document operations used by the handler layer.
type Service interface {
	Create(ctx context.Context, d Draft) (id string, revision int, err error)
	Get(ctx context.Context, id string, revision int) (*document.Revision, error)
	Update(ctx context.Context, id string, expected int, d Draft) (int, error)
	Delete(ctx context.Context, id string, expected int) (int, error)
	List(ctx context.Context) (iter.Seq[string], error)
	History(ctx context.Context, id string) ([]*document.Revision, error)
	Filter(ctx context.Context, f Filter) (*Page, error)
}

// Cache key namespaces.
const (
	RevisionKeyPrefix = "rev:"
	FilterKeyPrefix   = "filter:"
)

// DocumentService is the façade over store, index and controller.
type DocumentService struct {
	store    repository.Store
	index    *index.Index
	ctrl     *concurrency.Controller
	cache    cache.Cache
	revTTL   time.Duration
	pageTTL  time.Duration
	notifier notify.Notifier
	rules    document.Rules
	now      func() time.Time
	newID    func(time.Time) string
	log      *zap.Logger

	// generation counts committed writes; filter cache keys embed it.
	generation atomic.Uint64
}

var _ Service = (*DocumentService)(nil)

type Option func(*DocumentService)

// WithCache caches revisions for revTTL and filter pages for pageTTL.
func WithCache(c cache.Cache, revTTL, pageTTL time.Duration) Option {
	return func(s *DocumentService) { s.cache, s.revTTL, s.pageTTL = c, revTTL, pageTTL }
}

func WithNotifier(n notify.Notifier) Option { return func(s *DocumentService) { s.notifier = n } }

func WithRules(r document.Rules) Option { return func(s *DocumentService) { s.rules = r } }

func WithClock(now func() time.Time) Option { return func(s *DocumentService) { s.now = now } }

// WithIDGenerator replaces the ULID generator used for new documents.
func WithIDGenerator(fn func(time.Time) string) Option {
	return func(s *DocumentService) { s.newID = fn }
}

func WithLogger(l *zap.Logger) Option { return func(s *DocumentService) { s.log = l } }

func newULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func New(store repository.Store, idx *index.Index, ctrl *concurrency.Controller, opts ...Option) *DocumentService {
	s := &DocumentService{
		store:    store,
		index:    idx,
		ctrl:     ctrl,
		cache:    cache.Nop{},
		notifier: notify.Nop{},
		rules:    document.DefaultRules(),
		now:      time.Now,
		newID:    newULID,
		log:      logger.Named("service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *DocumentService) Create(ctx context.Context, d Draft) (string, int, error) {
	now := s.now()
	if err := s.rules.Check(d.Content, d.Metadata, now); err != nil {
		return "", 0, err
	}
	id := s.newID(now)
	rev, err := s.write(ctx, "create", concurrency.Proposal{
		DocumentID:  id,
		Content:     d.Content,
		ContentType: d.ContentType,
		Metadata:    d.Metadata,
	})
	if err != nil {
		return "", 0, err
	}
	s.committed(ctx, notify.EventCreate, id, rev, d.Metadata)
	return id, rev, nil
}

// live returns the pointer of a document that exists and is not tombstoned.
func (s *DocumentService) live(id string) (document.Pointer, error) {
	p, ok, err := s.index.Lookup(id)
	if err != nil {
		return p, err
	}
	if !ok || p.Deleted {
		return p, &document.NotFoundError{DocumentID: id}
	}
	return p, nil
}

func (s *DocumentService) Get(ctx context.Context, id string, revision int) (*document.Revision, error) {
	if revision < 0 {
		return nil, &document.ValidationError{Field: "revision", Reason: "must not be negative"}
	}
	if revision == Latest {
		p, err := s.live(id)
		if err != nil {
			return nil, err
		}
		revision = p.Current
	} else {
		p, ok, err := s.index.Lookup(id)
		if err != nil {
			return nil, err
		}
		// revisions above the pointer are not committed yet
		if !ok || revision > p.Current {
			return nil, &document.NotFoundError{DocumentID: id, Revision: revision}
		}
	}
	return s.revision(ctx, id, revision)
}

// revision reads through the cache. Revisions are immutable, so cached
// entries never need invalidating.
func (s *DocumentService) revision(ctx context.Context, id string, n int) (*document.Revision, error) {
	key := fmt.Sprintf("%s%s:%d", RevisionKeyPrefix, id, n)
	if b, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("revision cache read failed", logger.DocumentID(id), logger.Err(err))
	} else if ok {
		var r document.Revision
		if err := json.Unmarshal(b, &r); err == nil {
			metrics.CacheRequests.WithLabelValues("revision", "hit").Inc()
			return &r, nil
		}
	}
	metrics.CacheRequests.WithLabelValues("revision", "miss").Inc()

	r, err := s.store.Get(ctx, id, n)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(r); err == nil {
		if err := s.cache.Set(ctx, key, b, s.revTTL); err != nil {
			s.log.Warn("revision cache write failed", logger.DocumentID(id), logger.Err(err))
		}
	}
	return r, nil
}

func (s *DocumentService) Update(ctx context.Context, id string, expected int, d Draft) (int, error) {
	if err := s.rules.Check(d.Content, d.Metadata, s.now()); err != nil {
		return 0, err
	}
	if _, err := s.live(id); err != nil {
		return 0, err
	}
	rev, err := s.write(ctx, "update", concurrency.Proposal{
		DocumentID:  id,
		Expected:    expected,
		Content:     d.Content,
		ContentType: d.ContentType,
		Metadata:    d.Metadata,
	})
	if err != nil {
		return 0, err
	}
	s.committed(ctx, notify.EventUpdate, id, rev, d.Metadata)
	return rev, nil
}

// Delete appends a tombstone. Earlier revisions stay readable by number.
func (s *DocumentService) Delete(ctx context.Context, id string, expected int) (int, error) {
	p, err := s.live(id)
	if err != nil {
		return 0, err
	}
	// The tombstone copies revision expected; the controller commits only
	// while the pointer is still expected.
	if p.Current != expected {
		metrics.WriteOutcomes.WithLabelValues("delete", concurrency.Conflict.String()).Inc()
		return 0, &document.ConcurrentModificationError{DocumentID: id, Expected: expected, Actual: p.Current}
	}
	last, err := s.revision(ctx, id, expected)
	if err != nil {
		return 0, fmt.Errorf("read revision before delete: %w", err)
	}
	rev, err := s.write(ctx, "delete", concurrency.Proposal{
		DocumentID:  id,
		Expected:    expected,
		ContentType: last.ContentType,
		Metadata:    last.Metadata,
		Deleted:     true,
	})
	if err != nil {
		return 0, err
	}
	s.committed(ctx, notify.EventDelete, id, rev, last.Metadata)
	return rev, nil
}

func (s *DocumentService) write(ctx context.Context, op string, p concurrency.Proposal) (int, error) {
	res, err := s.ctrl.ProposeWrite(ctx, p)
	if err != nil {
		metrics.WriteOutcomes.WithLabelValues(op, "error").Inc()
		if !errors.Is(err, document.ErrNotReady) && !errors.Is(err, document.ErrValidation) {
			s.log.Error("write failed", zap.String("op", op), logger.DocumentID(p.DocumentID), logger.Err(err))
		}
		return 0, err
	}
	metrics.WriteOutcomes.WithLabelValues(op, res.Outcome.String()).Inc()
	if err := res.Err(); err != nil {
		return 0, err
	}
	return res.Revision, nil
}

// committed runs the best-effort side effects of a successful write.
func (s *DocumentService) committed(ctx context.Context, typ notify.EventType, id string, rev int, meta document.Metadata) {
	ctx = context.WithoutCancel(ctx)
	s.generation.Add(1)
	if err := s.cache.DeletePrefix(ctx, FilterKeyPrefix); err != nil {
		s.log.Warn("filter cache eviction failed", logger.Err(err))
	}
	ev := notify.NewEvent(typ, &document.Revision{DocumentID: id, Number: rev, Metadata: meta}, s.now())
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Warn("notification failed",
			zap.String("event", string(typ)), logger.DocumentID(id), logger.Revision(rev), logger.Err(err))
	}
}

// List yields live document IDs in ascending order. The sequence reflects
// the index each time it is ranged over.
func (s *DocumentService) List(ctx context.Context) (iter.Seq[string], error) {
	if !s.index.Ready() {
		return nil, &document.NotReadyError{}
	}
	return s.index.Live(), nil
}

// History returns every committed revision of id, tombstones included.
func (s *DocumentService) History(ctx context.Context, id string) ([]*document.Revision, error) {
	p, ok, err := s.index.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	all, err := s.store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Number <= p.Current {
			out = append(out, r)
		}
	}
	return out, nil
}
