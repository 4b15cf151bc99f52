package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/index"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/pkg/metrics"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func setup(t *testing.T, store repository.Store) (*Controller, *index.Index) {
	t.Helper()
	idx := index.New()
	require.NoError(t, idx.Rebuild(context.Background(), store))
	return NewController(store, idx, WithClock(func() time.Time { return fixedNow })), idx
}

func propose(id string, expected int, body string) Proposal {
	return Proposal{DocumentID: id, Expected: expected, Content: []byte(body)}
}

func TestCreateAndAdvance(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	c, idx := setup(t, store)

	res, err := c.ProposeWrite(ctx, propose("a", 0, "one"))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Outcome)
	require.Equal(t, 1, res.Revision)
	require.NoError(t, res.Err())

	res, err = c.ProposeWrite(ctx, propose("a", 1, "two"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Revision)

	cur, _, err := idx.Current("a")
	require.NoError(t, err)
	require.Equal(t, 2, cur)

	r, err := store.Get(ctx, "a", 2)
	require.NoError(t, err)
	require.Equal(t, "two", string(r.Content))
	require.Equal(t, document.DefaultContentType, r.ContentType)
	require.Equal(t, fixedNow, r.CreatedAt)
}

func TestStaleExpectationIsConflict(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	c, _ := setup(t, store)

	_, err := c.ProposeWrite(ctx, propose("a", 0, "one"))
	require.NoError(t, err)
	_, err = c.ProposeWrite(ctx, propose("a", 1, "two"))
	require.NoError(t, err)

	res, err := c.ProposeWrite(ctx, propose("a", 1, "late"))
	require.NoError(t, err)
	require.Equal(t, Conflict, res.Outcome)
	require.Equal(t, 2, res.Current)

	var cm *document.ConcurrentModificationError
	require.ErrorAs(t, res.Err(), &cm)
	require.Equal(t, 1, cm.Expected)
	require.Equal(t, 2, cm.Actual)

	// nothing was written
	_, err = store.Get(ctx, "a", 3)
	require.ErrorIs(t, err, document.ErrNotFound)

	res, err = c.ProposeWrite(ctx, propose("a", 0, "recreate"))
	require.NoError(t, err)
	require.Equal(t, Conflict, res.Outcome)
}

func TestConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	c, idx := setup(t, store)
	_, err := c.ProposeWrite(ctx, propose("doc", 0, "base"))
	require.NoError(t, err)

	const writers = 32
	results := make([]Result, writers)
	var wg sync.WaitGroup
	for n := 0; n < writers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := c.ProposeWrite(ctx, propose("doc", 1, "w"))
			require.NoError(t, err)
			results[n] = res
		}(n)
	}
	wg.Wait()

	var won int
	for _, r := range results {
		if r.Outcome == Committed {
			won++
			require.Equal(t, 2, r.Revision)
		} else {
			require.Equal(t, 2, r.Current)
		}
	}
	require.Equal(t, 1, won)

	hist, err := store.History(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	cur, _, _ := idx.Current("doc")
	require.Equal(t, 2, cur)
	require.Zero(t, c.locks.size())
}

func TestStoreConflictRealignsPointer(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	c, idx := setup(t, store)
	_, err := c.ProposeWrite(ctx, propose("a", 0, "one"))
	require.NoError(t, err)

	// a revision the index never heard about
	require.NoError(t, store.Put(ctx, &document.Revision{DocumentID: "a", Number: 2, Content: []byte("stray"), CreatedAt: fixedNow}))

	before := testutil.ToFloat64(metrics.StoreConflicts)
	_, err = c.ProposeWrite(ctx, propose("a", 1, "two"))
	require.ErrorIs(t, err, document.ErrConflict)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.StoreConflicts))

	cur, _, _ := idx.Current("a")
	require.Equal(t, 2, cur)

	res, err := c.ProposeWrite(ctx, propose("a", 2, "three"))
	require.NoError(t, err)
	require.Equal(t, 3, res.Revision)
}

// cancellingStore cancels the caller's context once the revision is stored.
type cancellingStore struct {
	repository.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) Put(ctx context.Context, rev *document.Revision) error {
	err := s.Store.Put(ctx, rev)
	s.cancel()
	return err
}

func TestAdvanceSurvivesCancellationAfterPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &cancellingStore{Store: repository.NewMemoryStore(), cancel: cancel}
	c, idx := setup(t, store)

	res, err := c.ProposeWrite(ctx, propose("a", 0, "one"))
	require.NoError(t, err)
	require.Equal(t, Committed, res.Outcome)
	cur, _, _ := idx.Current("a")
	require.Equal(t, 1, cur)
}

// racingStore lets another arbiter advance the index between Put and Advance.
type racingStore struct {
	repository.Store
	idx *index.Index
}

func (s *racingStore) Put(ctx context.Context, rev *document.Revision) error {
	if err := s.Store.Put(ctx, rev); err != nil {
		return err
	}
	_, err := s.idx.Advance(rev.DocumentID, rev.Number-1, rev.Number+5, false)
	return err
}

func TestLostAdvanceOrphansRevision(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	idx := index.New()
	require.NoError(t, idx.Rebuild(ctx, mem))
	c := NewController(&racingStore{Store: mem, idx: idx}, idx)

	res, err := c.ProposeWrite(ctx, propose("a", 0, "one"))
	require.NoError(t, err)
	require.Equal(t, Conflict, res.Outcome)
	require.Equal(t, 6, res.Current)

	// the orphan is still addressable by number
	r, err := mem.Get(ctx, "a", 1)
	require.NoError(t, err)
	require.Equal(t, "one", string(r.Content))
}

func TestNotReady(t *testing.T) {
	c := NewController(repository.NewMemoryStore(), index.New())
	_, err := c.ProposeWrite(context.Background(), propose("a", 0, "x"))
	require.ErrorIs(t, err, document.ErrNotReady)
}

func TestRejectsBadProposals(t *testing.T) {
	c, _ := setup(t, repository.NewMemoryStore())
	_, err := c.ProposeWrite(context.Background(), propose("", 0, "x"))
	require.ErrorIs(t, err, document.ErrValidation)
	_, err = c.ProposeWrite(context.Background(), propose("a", -1, "x"))
	require.ErrorIs(t, err, document.ErrValidation)
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys are independent
	unlockB, err := k.lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()

	unlock()
	require.Zero(t, k.size())
}
