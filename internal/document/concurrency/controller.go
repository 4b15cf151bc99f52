// Package concurrency arbitrates writes to a document: a write is accepted
// only when the caller's expected revision is still current.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/index"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/pkg/logger"
	"github.com/gogotex/document-service/pkg/metrics"
)

// Outcome of a proposed write.
type Outcome int

const (
	Committed Outcome = iota + 1
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Conflict:
		return "conflict"
	}
	return "unknown"
}

// Proposal describes the revision a caller wants to append. Expected is the
// revision the caller last saw, 0 for a new document.
type Proposal struct {
	DocumentID  string
	Expected    int
	Content     []byte
	ContentType string
	Metadata    document.Metadata
	Deleted     bool
}

// Result reports what happened to a proposal. On Committed, Revision is the
// new revision. On Conflict, Current is the revision the caller should
// re-read (0 if the document does not exist).
type Result struct {
	DocumentID string
	Outcome    Outcome
	Revision   int
	Current    int
	Expected   int
}

// Err converts a Conflict outcome to a ConcurrentModificationError.
func (r Result) Err() error {
	if r.Outcome != Conflict {
		return nil
	}
	return &document.ConcurrentModificationError{DocumentID: r.DocumentID, Expected: r.Expected, Actual: r.Current}
}

type Controller struct {
	store repository.Store
	index *index.Index
	locks *keyedMutex
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.log = l } }

func NewController(store repository.Store, idx *index.Index, opts ...Option) *Controller {
	c := &Controller{
		store: store,
		index: idx,
		locks: newKeyedMutex(),
		now:   time.Now,
		log:   logger.Named("concurrency"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ProposeWrite appends revision p.Expected+1 if p.Expected is still current.
// A stale expectation is a Conflict outcome with a nil error. Writes to one
// document are serialized from the pointer check to the index advance.
func (c *Controller) ProposeWrite(ctx context.Context, p Proposal) (Result, error) {
	if p.DocumentID == "" {
		return Result{}, &document.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if p.Expected < 0 {
		return Result{}, &document.ValidationError{Field: "expectedRevision", Reason: "must not be negative"}
	}
	unlock, err := c.locks.lock(ctx, p.DocumentID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	current, _, err := c.index.Current(p.DocumentID)
	if err != nil {
		return Result{}, err
	}
	res := Result{DocumentID: p.DocumentID, Expected: p.Expected}
	if current != p.Expected {
		res.Outcome, res.Current = Conflict, current
		return res, nil
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = document.DefaultContentType
	}
	rev := &document.Revision{
		DocumentID:  p.DocumentID,
		Number:      p.Expected + 1,
		Content:     p.Content,
		ContentType: contentType,
		Metadata:    p.Metadata,
		CreatedAt:   c.now().UTC(),
		Deleted:     p.Deleted,
	}
	if err := c.store.Put(ctx, rev); err != nil {
		var ce *document.ConflictError
		if errors.As(err, &ce) {
			c.realign(ctx, p.DocumentID, current, err)
		}
		return Result{}, err
	}

	// The revision is durable; the pointer must follow even if ctx is gone.
	ok, err := c.index.Advance(p.DocumentID, p.Expected, rev.Number, p.Deleted)
	if err != nil {
		return Result{}, fmt.Errorf("advance %q to %d: %w", p.DocumentID, rev.Number, err)
	}
	if !ok {
		now, _, _ := c.index.Current(p.DocumentID)
		c.log.Warn("revision orphaned by concurrent advance",
			logger.DocumentID(p.DocumentID), logger.Revision(rev.Number), zap.Int("current", now))
		res.Outcome, res.Current = Conflict, now
		return res, nil
	}
	res.Outcome, res.Revision, res.Current = Committed, rev.Number, rev.Number
	return res, nil
}

// realign handles a store that already holds the revision the index thinks is
// next: the pointer is moved to the store's latest revision so later writes
// can proceed.
func (c *Controller) realign(ctx context.Context, id string, current int, cause error) {
	metrics.StoreConflicts.Inc()
	l := c.log.With(logger.DocumentID(id), zap.Int("current", current))
	l.Error("store rejected write the index allowed", logger.Err(cause))

	latest, err := c.store.Latest(context.WithoutCancel(ctx), id)
	if err != nil {
		l.Error("realign: read latest revision", logger.Err(err))
		return
	}
	if latest.Number <= current {
		return
	}
	if ok, err := c.index.Advance(id, current, latest.Number, latest.Deleted); err != nil || !ok {
		l.Error("realign: advance pointer", zap.Int("latest", latest.Number), zap.Bool("advanced", ok), zap.Error(err))
		return
	}
	l.Warn("realigned pointer to store", logger.Revision(latest.Number))
}
