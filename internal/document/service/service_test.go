package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogotex/document-service/internal/cache"
	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/document/concurrency"
	"github.com/gogotex/document-service/internal/document/index"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/internal/notify"
)

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.EventType
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	svc   *DocumentService
	store *repository.MemoryStore
	index *index.Index
	notes *recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	idx := index.New()
	require.NoError(t, idx.Rebuild(context.Background(), store))
	ctrl := concurrency.NewController(store, idx)
	notes := &recorder{}
	var seq atomic.Int64
	base := []Option{
		WithClock(func() time.Time { return now }),
		WithNotifier(notes),
		WithIDGenerator(func(time.Time) string { return fmt.Sprintf("doc-%03d", seq.Add(1)) }),
	}
	svc := New(store, idx, ctrl, append(base, opts...)...)
	return &fixture{svc: svc, store: store, index: idx, notes: notes}
}

func text(s string) Draft {
	return Draft{Content: []byte(s), ContentType: "text/plain"}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, rev, err := f.svc.Create(ctx, text("hello"))
	require.NoError(t, err)
	require.Equal(t, 1, rev)

	got, err := f.svc.Get(ctx, id, 1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got.Content))
	require.Equal(t, "text/plain", got.ContentType)
	require.Equal(t, now, got.CreatedAt)
}

func TestRevisionsAreContiguous(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, rev, err := f.svc.Create(ctx, text("v1"))
	require.NoError(t, err)
	for want := 2; want <= 10; want++ {
		rev, err = f.svc.Update(ctx, id, rev, text(fmt.Sprintf("v%d", want)))
		require.NoError(t, err)
		require.Equal(t, want, rev)
	}
	hist, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	for i, r := range hist {
		require.Equal(t, i+1, r.Number)
	}
}

func TestLatestMatchesIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, rev, err := f.svc.Create(ctx, text("a"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		rev, err = f.svc.Update(ctx, id, rev, text("b"))
		require.NoError(t, err)

		cur, _, err := f.index.Current(id)
		require.NoError(t, err)
		got, err := f.svc.Get(ctx, id, Latest)
		require.NoError(t, err)
		require.Equal(t, cur, got.Number)
	}
}

func TestConcurrentUpdatesSameExpected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, _, err := f.svc.Create(ctx, text("A"))
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for n := range errs {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.svc.Update(ctx, id, 1, text(fmt.Sprintf("writer-%d", n)))
		}(n)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, document.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)
}

func TestDeleteHidesFromListButKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keep, _, err := f.svc.Create(ctx, text("keep"))
	require.NoError(t, err)
	gone, _, err := f.svc.Create(ctx, Draft{Content: []byte("gone"), Metadata: document.Metadata{Name: "gone.txt", Owner: "bob"}})
	require.NoError(t, err)

	rev, err := f.svc.Delete(ctx, gone, 1)
	require.NoError(t, err)
	require.Equal(t, 2, rev)

	ids, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{keep}, slices.Collect(ids))

	old, err := f.svc.Get(ctx, gone, 1)
	require.NoError(t, err)
	require.Equal(t, "gone", string(old.Content))

	_, err = f.svc.Get(ctx, gone, Latest)
	require.ErrorIs(t, err, document.ErrNotFound)

	tomb, err := f.store.Get(ctx, gone, 2)
	require.NoError(t, err)
	require.True(t, tomb.Deleted)
	require.Empty(t, tomb.Content)
	require.Equal(t, "gone.txt", tomb.Metadata.Name)

	_, err = f.svc.Update(ctx, gone, 2, text("zombie"))
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.Delete(ctx, gone, 2)
	require.ErrorIs(t, err, document.ErrNotFound)

	hist, err := f.svc.History(ctx, gone)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestScenarioStaleRetryLoses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, rev, err := f.svc.Create(ctx, text("A"))
	require.NoError(t, err)
	require.Equal(t, 1, rev)

	rev, err = f.svc.Update(ctx, id, 1, text("B"))
	require.NoError(t, err)
	require.Equal(t, 2, rev)

	_, err = f.svc.Update(ctx, id, 1, text("C"))
	var cm *document.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	require.Equal(t, 2, cm.Actual)

	got, err := f.svc.Get(ctx, id, Latest)
	require.NoError(t, err)
	require.Equal(t, "B", string(got.Content))
	require.Equal(t, 2, got.Number)
}

func TestMissingDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Get(ctx, "nope", Latest)
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.Get(ctx, "nope", 3)
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.Update(ctx, "nope", 1, text("x"))
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.Delete(ctx, "nope", 1)
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.History(ctx, "nope")
	require.ErrorIs(t, err, document.ErrNotFound)

	id, _, err := f.svc.Create(ctx, text("x"))
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, id, 2)
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.Get(ctx, id, -1)
	require.ErrorIs(t, err, document.ErrValidation)
}

func TestValidationRejectsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithRules(document.Rules{MinExpiry: 60 * 24 * time.Hour, MaxContentBytes: 4}))

	soon := now.Add(24 * time.Hour)
	_, _, err := f.svc.Create(ctx, Draft{Content: []byte("x"), Metadata: document.Metadata{ExpiryDate: &soon}})
	require.ErrorIs(t, err, document.ErrValidation)
	_, _, err = f.svc.Create(ctx, text("too long"))
	require.ErrorIs(t, err, document.ErrValidation)
	_, _, err = f.svc.Create(ctx, Draft{Metadata: document.Metadata{Type: "RECEIPT"}})
	require.ErrorIs(t, err, document.ErrValidation)

	ids, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, slices.Collect(ids))
	require.Empty(t, f.notes.types())
}

func TestNotReadyBeforeRebuild(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	idx := index.New()
	svc := New(store, idx, concurrency.NewController(store, idx))

	_, _, err := svc.Create(ctx, text("x"))
	require.ErrorIs(t, err, document.ErrNotReady)
	_, err = svc.Get(ctx, "a", Latest)
	require.ErrorIs(t, err, document.ErrNotReady)
	_, err = svc.Update(ctx, "a", 1, text("x"))
	require.ErrorIs(t, err, document.ErrNotReady)
	_, err = svc.Delete(ctx, "a", 1)
	require.ErrorIs(t, err, document.ErrNotReady)
	_, err = svc.List(ctx)
	require.ErrorIs(t, err, document.ErrNotReady)
	_, err = svc.Filter(ctx, Filter{})
	require.ErrorIs(t, err, document.ErrNotReady)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, _, err := f.svc.Create(ctx, text("a1"))
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, a, 1, text("a2"))
	require.NoError(t, err)
	b, _, err := f.svc.Create(ctx, text("b1"))
	require.NoError(t, err)
	_, err = f.svc.Delete(ctx, b, 1)
	require.NoError(t, err)

	idx := index.New()
	require.NoError(t, idx.Rebuild(ctx, f.store))
	svc := New(f.store, idx, concurrency.NewController(f.store, idx))

	got, err := svc.Get(ctx, a, Latest)
	require.NoError(t, err)
	require.Equal(t, "a2", string(got.Content))
	ids, err := svc.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{a}, slices.Collect(ids))

	_, err = svc.Update(ctx, a, 1, text("stale"))
	require.ErrorIs(t, err, document.ErrConcurrentModification)
	rev, err := svc.Update(ctx, a, 2, text("a3"))
	require.NoError(t, err)
	require.Equal(t, 3, rev)
}

func TestNotificationsAreBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notes.err = errors.New("notification service down")

	id, _, err := f.svc.Create(ctx, Draft{Content: []byte("x"), Metadata: document.Metadata{Name: "cv.pdf", Owner: "carol"}})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, id, 1, Draft{Content: []byte("y"), Metadata: document.Metadata{Name: "cv.pdf", Owner: "carol"}})
	require.NoError(t, err)
	_, err = f.svc.Delete(ctx, id, 2)
	require.NoError(t, err)

	require.Equal(t, []notify.EventType{notify.EventCreate, notify.EventUpdate, notify.EventDelete}, f.notes.types())
	last := f.notes.events[2]
	require.Equal(t, "carol has deleted the document named cv.pdf.", last.Message)
	require.Equal(t, 3, last.Revision)
	require.Equal(t, "2026-10-01 12:00:00", last.Timestamp)
}

func TestFilterPaginatesAndCaches(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(time.Minute)
	f := newFixture(t, WithCache(mem, time.Minute, time.Minute))

	for i := 0; i < 25; i++ {
		typ, owner := document.TypeLegal, "alice"
		if i%5 == 0 {
			typ, owner = document.TypeFinancial, "bob"
		}
		_, _, err := f.svc.Create(ctx, Draft{
			Content:  []byte("x"),
			Metadata: document.Metadata{Name: fmt.Sprintf("f%02d", i), Type: typ, Owner: owner},
		})
		require.NoError(t, err)
	}

	p, err := f.svc.Filter(ctx, Filter{Type: document.TypeLegal, Owner: "ALICE"})
	require.NoError(t, err)
	require.Equal(t, 20, p.TotalElements)
	require.Equal(t, 2, p.TotalPages)
	require.Equal(t, DefaultPageSize, p.Size)
	require.Len(t, p.Content, 10)
	require.True(t, p.First)
	require.False(t, p.Last)
	require.Equal(t, "f01", p.Content[0].Metadata.Name)

	p, err = f.svc.Filter(ctx, Filter{Type: document.TypeLegal, Page: 1})
	require.NoError(t, err)
	require.True(t, p.Last)
	require.Len(t, p.Content, 10)

	p, err = f.svc.Filter(ctx, Filter{Page: 9, Size: 500})
	require.NoError(t, err)
	require.Equal(t, MaxPageSize, p.Size)
	require.True(t, p.Empty)
	require.Equal(t, 25, p.TotalElements)

	_, ok, _ := mem.Get(ctx, Filter{Owner: "bob", Page: 0, Size: 10}.cacheKey(f.svc.generation.Load()))
	require.False(t, ok)
	p, err = f.svc.Filter(ctx, Filter{Owner: "bob"})
	require.NoError(t, err)
	require.Equal(t, 5, p.TotalElements)
	_, ok, _ = mem.Get(ctx, Filter{Owner: "bob", Page: 0, Size: 10}.cacheKey(f.svc.generation.Load()))
	require.True(t, ok)

	// a write evicts cached pages
	_, err = f.svc.Delete(ctx, p.Content[0].DocumentID, 1)
	require.NoError(t, err)
	_, ok, _ = mem.Get(ctx, Filter{Owner: "bob", Page: 0, Size: 10}.cacheKey(f.svc.generation.Load()))
	require.False(t, ok)
	p, err = f.svc.Filter(ctx, Filter{Owner: "bob"})
	require.NoError(t, err)
	require.Equal(t, 4, p.TotalElements)
}

func TestFilterHugePageIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, _, err := f.svc.Create(ctx, text("x"))
		require.NoError(t, err)
	}

	p, err := f.svc.Filter(ctx, Filter{Page: 1<<60 + 1, Size: 10})
	require.NoError(t, err)
	require.True(t, p.Empty)
	require.True(t, p.Last)
	require.Equal(t, 3, p.TotalElements)
}

// writeDuringSet commits a write just before a filter page is stored.
type writeDuringSet struct {
	cache.Cache
	once  sync.Once
	write func()
}

func (w *writeDuringSet) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if strings.HasPrefix(key, FilterKeyPrefix) {
		w.once.Do(w.write)
	}
	return w.Cache.Set(ctx, key, value, ttl)
}

func TestFilterDoesNotServePageComputedBeforeWrite(t *testing.T) {
	ctx := context.Background()
	wrapped := &writeDuringSet{Cache: cache.NewMemory(time.Minute)}
	f := newFixture(t, WithCache(wrapped, time.Minute, time.Minute))
	id, _, err := f.svc.Create(ctx, Draft{Content: []byte("x"), Metadata: document.Metadata{Name: "bob-1", Owner: "bob"}})
	require.NoError(t, err)
	wrapped.write = func() {
		_, err := f.svc.Delete(ctx, id, 1)
		require.NoError(t, err)
	}

	p, err := f.svc.Filter(ctx, Filter{Owner: "bob"})
	require.NoError(t, err)
	require.Equal(t, 1, p.TotalElements, "page computed before the delete")

	p, err = f.svc.Filter(ctx, Filter{Owner: "bob"})
	require.NoError(t, err)
	require.Zero(t, p.TotalElements)
}

func TestDeleteWithStaleExpectedWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, _, err := f.svc.Create(ctx, Draft{Content: []byte("a"), Metadata: document.Metadata{Name: "v1"}})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, id, 1, Draft{Content: []byte("b"), Metadata: document.Metadata{Name: "v2"}})
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, id, 1)
	var cm *document.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	require.Equal(t, 2, cm.Actual)

	rev, err := f.svc.Delete(ctx, id, 2)
	require.NoError(t, err)
	tomb, err := f.store.Get(ctx, id, rev)
	require.NoError(t, err)
	require.Equal(t, "v2", tomb.Metadata.Name)
}

func TestFilterValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Filter(context.Background(), Filter{Page: -1})
	require.ErrorIs(t, err, document.ErrValidation)
	_, err = f.svc.Filter(context.Background(), Filter{Type: "NOPE"})
	require.ErrorIs(t, err, document.ErrValidation)
}

func TestRevisionCacheServesReads(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(time.Minute)
	f := newFixture(t, WithCache(mem, time.Minute, time.Minute))
	id, _, err := f.svc.Create(ctx, text("cached"))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, id, 1)
	require.NoError(t, err)
	_, ok, _ := mem.Get(ctx, "rev:"+id+":1")
	require.True(t, ok)

	// served from cache even if the store copy were unreachable
	require.NoError(t, mem.Set(ctx, "rev:"+id+":1", []byte(`{"documentId":"`+id+`","revision":1,"content":"Zm9v","contentType":"text/plain"}`), 0))
	got, err := f.svc.Get(ctx, id, 1)
	require.NoError(t, err)
	require.Equal(t, "foo", string(got.Content))
}

func TestModifyRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, _, err := f.svc.Create(ctx, text("0"))
	require.NoError(t, err)

	var attempts int
	rev, err := Modify(ctx, f.svc, id, Backoff{Attempts: 3, Initial: time.Millisecond}, func(cur *document.Revision) (Draft, error) {
		attempts++
		if attempts == 1 {
			// someone else writes between our read and our update
			_, err := f.svc.Update(ctx, id, cur.Number, text("interloper"))
			require.NoError(t, err)
		}
		return text(string(cur.Content) + "+"), nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, 3, rev)

	got, err := f.svc.Get(ctx, id, Latest)
	require.NoError(t, err)
	require.Equal(t, "interloper+", string(got.Content))
}

func TestModifyStopsOnOtherErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := Modify(ctx, f.svc, "nope", DefaultBackoff(), func(*document.Revision) (Draft, error) {
		return Draft{}, nil
	})
	require.ErrorIs(t, err, document.ErrNotFound)
}

func TestNewULIDsSortByTime(t *testing.T) {
	a := newULID(now)
	b := newULID(now.Add(time.Millisecond))
	require.Len(t, a, 26)
	require.Less(t, a, b)
}
