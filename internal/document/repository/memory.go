package repository

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/gogotex/document-service/internal/document"
)

type memoryDoc struct {
	revisions map[int]*document.Revision
	head      int
}

// MemoryStore keeps revisions in process memory. Used for unit tests and
// local development; nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*memoryDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*memoryDoc)}
}

func (m *MemoryStore) Put(_ context.Context, rev *document.Revision) error {
	if err := checkRevision(rev); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[rev.DocumentID]
	if !ok {
		d = &memoryDoc{revisions: make(map[int]*document.Revision)}
		m.docs[rev.DocumentID] = d
	}
	if _, exists := d.revisions[rev.Number]; exists {
		return &document.ConflictError{DocumentID: rev.DocumentID, Revision: rev.Number}
	}
	d.revisions[rev.Number] = rev.Clone()
	if rev.Number > d.head {
		d.head = rev.Number
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string, revision int) (*document.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.docs[id]; ok {
		if r, ok := d.revisions[revision]; ok {
			return r.Clone(), nil
		}
	}
	return nil, &document.NotFoundError{DocumentID: id, Revision: revision}
}

func (m *MemoryStore) Latest(_ context.Context, id string) (*document.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok || d.head == 0 {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	return d.revisions[d.head].Clone(), nil
}

func (m *MemoryStore) History(_ context.Context, id string) ([]*document.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	nums := make([]int, 0, len(d.revisions))
	for n := range d.revisions {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	out := make([]*document.Revision, 0, len(nums))
	for _, n := range nums {
		out = append(out, d.revisions[n].Clone())
	}
	return out, nil
}

// Heads snapshots the set of heads when iteration starts, in ID order.
func (m *MemoryStore) Heads(_ context.Context) iter.Seq2[Head, error] {
	return func(yield func(Head, error) bool) {
		m.mu.RLock()
		heads := make([]Head, 0, len(m.docs))
		for _, d := range m.docs {
			if d.head > 0 {
				heads = append(heads, headOf(d.revisions[d.head]))
			}
		}
		m.mu.RUnlock()
		slices.SortFunc(heads, func(a, b Head) int { return strings.Compare(a.DocumentID, b.DocumentID) })
		for _, h := range heads {
			if !yield(h, nil) {
				return
			}
		}
	}
}

func (m *MemoryStore) DocumentIDs(ctx context.Context) iter.Seq2[string, error] {
	return liveIDs(m.Heads(ctx))
}

func (m *MemoryStore) Close() error { return nil }
