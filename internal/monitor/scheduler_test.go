package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qepting91/listing-watcher/internal/domain"
	"github.com/qepting91/listing-watcher/internal/notify"
	"github.com/qepting91/listing-watcher/internal/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	srcA = "https://www.olx.pl/oferty/q-lego-51515/"
	srcB = "https://www.olx.pl/oferty/q-lego-42100/"
)

// fakeCollector serves canned listings per source. When gate is set,
// Scrape blocks until it is closed.
type fakeCollector struct {
	mu       sync.Mutex
	listings map[string][]domain.Listing
	fail     map[string]error
	gate     chan struct{}
	entered  chan struct{}
	calls    int
	ctxErrs  []error
}

func (f *fakeCollector) Scrape(ctx context.Context, sourceURL string) ([]domain.Listing, error) {
	f.mu.Lock()
	f.calls++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if err := f.fail[sourceURL]; err != nil {
		return nil, err
	}
	return f.listings[sourceURL], nil
}

func (f *fakeCollector) set(sourceURL string, ls ...domain.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listings == nil {
		f.listings = map[string][]domain.Listing{}
	}
	f.listings[sourceURL] = ls
}

type fakeNotifier struct {
	mu      sync.Mutex
	digests []notify.Digest
	err     error
}

func (n *fakeNotifier) Deliver(_ context.Context, d notify.Digest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, d)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.digests)
}

// failingStore fails Save for the listed sources
type failingStore struct {
	domain.SnapshotStore
	failFor map[string]bool
}

func (s *failingStore) Save(ctx context.Context, sourceURL string, snap domain.Snapshot) error {
	if s.failFor[sourceURL] {
		return fmt.Errorf("%w: disk full", domain.ErrStoreWrite)
	}
	return s.SnapshotStore.Save(ctx, sourceURL, snap)
}

func item(src, id, price string) domain.Listing {
	return domain.Listing{
		SourceURL:    src,
		Link:         "https://www.olx.pl/d/" + id,
		Title:        "LEGO " + id,
		Price:        price,
		Condition:    "Używane",
		LocationDate: "Kraków - Dzisiaj",
	}
}

func newStore(t *testing.T) domain.SnapshotStore {
	t.Helper()
	st, err := storage.NewFileStore(t.TempDir(), quiet)
	require.NoError(t, err)
	return st
}

func sources(urls ...string) []domain.Source {
	var out []domain.Source
	for _, u := range urls {
		out = append(out, domain.Source{URL: u})
	}
	return out
}

func TestRunCycle_FirstRunNotifiesEverything(t *testing.T) {
	col := &fakeCollector{}
	col.set(srcA, item(srcA, "a1", "100"), item(srcA, "a2", "200"))
	col.set(srcB, item(srcB, "b1", "300"))
	n := &fakeNotifier{}
	s := New(sources(srcA, srcB), col, newStore(t), n, Config{SubjectPrefix: "OLX Alert"}, nil, quiet)

	rep, ok := s.RunCycle(context.Background())
	require.True(t, ok)

	assert.Equal(t, 3, rep.Changes)
	assert.True(t, rep.Delivered)
	assert.NotEmpty(t, rep.CycleID)
	require.Len(t, rep.Sources, 2)
	assert.Equal(t, 2, rep.Sources[0].New)
	assert.Equal(t, 1, rep.Sources[1].New)

	require.Equal(t, 1, n.count())
	d := n.digests[0]
	assert.Equal(t, "[OLX Alert] 3 new/updated listings", d.Subject)
	require.Len(t, d.Groups, 2)
	assert.Equal(t, srcA, d.Groups[0].SourceURL)
	assert.Equal(t, srcB, d.Groups[1].SourceURL)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, &rep, s.LastReport())
}

func TestRunCycle_SecondRunIsQuiet(t *testing.T) {
	col := &fakeCollector{}
	col.set(srcA, item(srcA, "a1", "100"))
	n := &fakeNotifier{}
	s := New(sources(srcA), col, newStore(t), n, Config{}, nil, quiet)

	s.RunCycle(context.Background())
	rep, ok := s.RunCycle(context.Background())
	require.True(t, ok)

	assert.Equal(t, 0, rep.Changes)
	assert.False(t, rep.Delivered)
	assert.Equal(t, 1, n.count())
}

func TestRunCycle_DetectsUpdate(t *testing.T) {
	col := &fakeCollector{}
	col.set(srcA, item(srcA, "a1", "100"), item(srcA, "a2", "200"))
	n := &fakeNotifier{}
	s := New(sources(srcA), col, newStore(t), n, Config{}, nil, quiet)
	s.RunCycle(context.Background())

	col.set(srcA, item(srcA, "a1", "90"), item(srcA, "a2", "200"), item(srcA, "a3", "50"))
	rep, _ := s.RunCycle(context.Background())

	assert.Equal(t, 1, rep.Sources[0].New)
	assert.Equal(t, 1, rep.Sources[0].Updated)
	require.Equal(t, 2, n.count())
	recs := n.digests[1].Groups[0].Records
	require.Len(t, recs, 2)
	assert.Equal(t, domain.ChangeUpdated, recs[0].ChangeType)
	assert.Equal(t, "90", recs[0].Price)
	assert.Equal(t, domain.ChangeNew, recs[1].ChangeType)
}

func TestRunCycle_FailingSourceDoesNotAbortOthers(t *testing.T) {
	col := &fakeCollector{fail: map[string]error{srcA: fmt.Errorf("%w: timeout", domain.ErrFetch)}}
	col.set(srcB, item(srcB, "b1", "300"))
	n := &fakeNotifier{}
	st := newStore(t)
	s := New(sources(srcA, srcB), col, st, n, Config{}, nil, quiet)

	rep, _ := s.RunCycle(context.Background())

	assert.Contains(t, rep.Sources[0].Error, "timeout")
	assert.Empty(t, rep.Sources[1].Error)
	assert.False(t, rep.Failed())
	require.Equal(t, 1, n.count())
	assert.Equal(t, 1, n.digests[0].Total)
	assert.Empty(t, st.Load(context.Background(), srcA))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().SourceErrors.WithLabelValues("fetch")))
}

func TestRunCycle_AllSourcesFailing(t *testing.T) {
	boom := fmt.Errorf("%w: dns", domain.ErrFetch)
	col := &fakeCollector{fail: map[string]error{srcA: boom, srcB: boom}}
	n := &fakeNotifier{}
	s := New(sources(srcA, srcB), col, newStore(t), n, Config{}, nil, quiet)

	rep, ok := s.RunCycle(context.Background())
	require.True(t, ok)
	assert.True(t, rep.Failed())
	assert.Equal(t, 0, n.count())
	assert.Equal(t, Idle, s.State())

	// next trigger retries
	col.mu.Lock()
	col.fail = nil
	col.mu.Unlock()
	col.set(srcA, item(srcA, "a1", "1"))
	rep, ok = s.RunCycle(context.Background())
	require.True(t, ok)
	assert.False(t, rep.Failed())
}

func TestRunCycle_DeliveryFailureKeepsSnapshot(t *testing.T) {
	col := &fakeCollector{}
	col.set(srcA, item(srcA, "a1", "100"))
	n := &fakeNotifier{err: fmt.Errorf("%w: auth", domain.ErrDelivery)}
	s := New(sources(srcA), col, newStore(t), n, Config{}, nil, quiet)

	rep, _ := s.RunCycle(context.Background())
	assert.False(t, rep.Delivered)
	assert.Contains(t, rep.DeliveryError, "auth")

	// not re-notified just because delivery failed
	n.err = nil
	rep, _ = s.RunCycle(context.Background())
	assert.Equal(t, 0, rep.Changes)
	assert.Equal(t, 1, n.count())
}

func TestRunCycle_SaveFailureWithholdsChanges(t *testing.T) {
	col := &fakeCollector{}
	col.set(srcA, item(srcA, "a1", "100"))
	col.set(srcB, item(srcB, "b1", "100"))
	st := &failingStore{SnapshotStore: newStore(t), failFor: map[string]bool{srcA: true}}
	n := &fakeNotifier{}
	s := New(sources(srcA, srcB), col, st, n, Config{}, nil, quiet)

	rep, _ := s.RunCycle(context.Background())
	assert.Contains(t, rep.Sources[0].Error, "disk full")
	assert.Equal(t, 0, rep.Sources[0].Tracked, "nothing was persisted for the failed source")
	assert.Equal(t, 1, rep.Sources[1].Tracked)
	require.Equal(t, 1, n.count())
	require.Len(t, n.digests[0].Groups, 1)
	assert.Equal(t, srcB, n.digests[0].Groups[0].SourceURL)

	// once the store recovers the withheld change goes out exactly once
	st.failFor = nil
	rep, _ = s.RunCycle(context.Background())
	assert.Equal(t, 1, rep.Changes)
	rep, _ = s.RunCycle(context.Background())
	assert.Equal(t, 0, rep.Changes)
}

func TestRunCycle_CrossSourceIsolation(t *testing.T) {
	shared := "https://www.olx.pl/d/same"
	col := &fakeCollector{}
	a := item(srcA, "same", "100")
	b := item(srcB, "same", "999")
	require.Equal(t, shared, a.Link)
	col.set(srcA, a)
	col.set(srcB, b)
	st := newStore(t)
	s := New(sources(srcA, srcB), col, st, &fakeNotifier{}, Config{}, nil, quiet)

	rep, _ := s.RunCycle(context.Background())
	assert.Equal(t, 1, rep.Sources[0].New)
	assert.Equal(t, 1, rep.Sources[1].New)

	col.set(srcB)
	rep, _ = s.RunCycle(context.Background())
	assert.Equal(t, 0, rep.Changes)
	assert.Len(t, st.Load(context.Background(), srcA), 1)
	assert.Empty(t, st.Load(context.Background(), srcB))
}

func TestRunCycle_OverlapIsNoOp(t *testing.T) {
	col := &fakeCollector{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	col.set(srcA, item(srcA, "a1", "100"))
	s := New(sources(srcA), col, newStore(t), &fakeNotifier{}, Config{}, nil, quiet)

	done := make(chan Report)
	go func() {
		rep, _ := s.RunCycle(context.Background())
		done <- rep
	}()
	<-col.entered
	assert.Equal(t, Running, s.State())

	_, ok := s.RunCycle(context.Background())
	assert.False(t, ok)

	close(col.gate)
	rep := <-done
	assert.Equal(t, 1, rep.Changes)

	col.mu.Lock()
	assert.Equal(t, 1, col.calls)
	col.mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().CyclesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().CyclesTotal))
}

func TestRun_GracefulShutdownLetsCycleFinish(t *testing.T) {
	col := &fakeCollector{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	col.set(srcA, item(srcA, "a1", "100"))
	n := &fakeNotifier{}
	st := newStore(t)
	s := New(sources(srcA), col, st, n, Config{Interval: time.Hour}, nil, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	<-col.entered
	cancel()

	select {
	case <-stopped:
		t.Fatal("Run returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(col.gate)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the cycle finished")
	}

	assert.Equal(t, ShuttingDown, s.State())
	assert.Equal(t, 1, n.count())
	assert.Len(t, st.Load(context.Background(), srcA), 1)

	col.mu.Lock()
	assert.NoError(t, col.ctxErrs[0], "in-flight scrape must not see cancellation")
	col.mu.Unlock()

	_, ok := s.RunCycle(context.Background())
	assert.False(t, ok, "no cycle may start after shutdown")
}

func TestRun_CancelledBeforeStartRunsNothing(t *testing.T) {
	col := &fakeCollector{}
	col.set(srcA, item(srcA, "a1", "100"))
	n := &fakeNotifier{}
	s := New(sources(srcA), col, newStore(t), n, Config{Interval: time.Hour}, nil, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return for a cancelled context")
	}

	col.mu.Lock()
	assert.Equal(t, 0, col.calls)
	col.mu.Unlock()
	assert.Equal(t, 0, n.count())
	assert.Nil(t, s.LastReport())
	assert.Equal(t, ShuttingDown, s.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(s.Metrics().CyclesTotal))
}

func TestRun_TicksRepeatCycles(t *testing.T) {
	col := &fakeCollector{}
	col.set(srcA, item(srcA, "a1", "100"))
	s := New(sources(srcA), col, newStore(t), &fakeNotifier{}, Config{Interval: 10 * time.Millisecond}, nil, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		col.mu.Lock()
		defer col.mu.Unlock()
		return col.calls >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
}

func TestReport_Failed(t *testing.T) {
	assert.False(t, Report{}.Failed())
	assert.True(t, Report{Sources: []SourceReport{{Error: "x"}}}.Failed())
	assert.False(t, Report{Sources: []SourceReport{{Error: "x"}, {}}}.Failed())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "shutting_down", ShuttingDown.String())
}
