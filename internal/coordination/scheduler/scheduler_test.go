package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/storage/sqlite"
)

// fakeManager scripts Trigger results per source.
type fakeManager struct {
	mu        sync.Mutex
	triggered []string
	errs      map[string]error
	recovered int
}

var _ ports.SyncManager = (*fakeManager)(nil)

func (f *fakeManager) Trigger(_ context.Context, sourceID string, _ domain.SyncType, trigger domain.TriggerType) (domain.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if trigger != domain.TriggerScheduled {
		panic("scheduler must use the scheduled trigger type")
	}
	if err, ok := f.errs[sourceID]; ok && err != nil {
		return domain.SyncRun{}, err
	}
	f.triggered = append(f.triggered, sourceID)
	return domain.SyncRun{ID: "run-" + sourceID, SourceID: sourceID, Status: domain.SyncRunRunning}, nil
}

func (f *fakeManager) Cancel(context.Context, string) error { return nil }

func (f *fakeManager) RecoverStale(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered++
	return 0, nil
}

func (f *fakeManager) triggeredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggered...)
}

func newSourceStore(t *testing.T) ports.SourceStore {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store.SourceStore()
}

func saveSource(t *testing.T, sources ports.SourceStore, id string, interval time.Duration) {
	t.Helper()
	require.NoError(t, sources.Save(context.Background(), domain.Source{
		ID:                 id,
		Name:               id,
		Type:               domain.SourceTypeFiles,
		Config:             map[string]any{},
		Active:             true,
		SchedulingInterval: interval,
	}))
}

func TestSweepTriggersDueSourcesAndAdvancesSchedule(t *testing.T) {
	sources := newSourceStore(t)
	manager := &fakeManager{}
	s := New(Config{Interval: time.Minute}, sources, manager)
	ctx := context.Background()

	saveSource(t, sources, "src-1", 30*time.Minute)
	saveSource(t, sources, "src-2", time.Hour)

	s.sweep(ctx)

	assert.ElementsMatch(t, []string{"src-1", "src-2"}, manager.triggeredIDs())
	assert.Equal(t, 1, manager.recovered)

	// Both schedules advanced: the next sweep finds nothing due.
	s.sweep(ctx)
	assert.Len(t, manager.triggeredIDs(), 2)

	got, err := sources.Get(ctx, "src-1")
	require.NoError(t, err)
	require.NotNil(t, got.NextSyncAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *got.NextSyncAt, time.Minute)
}

func TestSweepSwallowsAdmissionRejections(t *testing.T) {
	sources := newSourceStore(t)
	manager := &fakeManager{errs: map[string]error{
		"src-busy":    domain.ErrSyncAlreadyRunning,
		"src-crowded": &domain.ConcurrencyError{Cap: "global", Limit: 10},
	}}
	s := New(Config{Interval: time.Minute}, sources, manager)
	ctx := context.Background()

	saveSource(t, sources, "src-busy", time.Hour)
	saveSource(t, sources, "src-crowded", time.Hour)
	saveSource(t, sources, "src-free", time.Hour)

	s.sweep(ctx)
	assert.Equal(t, []string{"src-free"}, manager.triggeredIDs())

	// Rejected sources stay due for the next tick.
	busy, err := sources.Get(ctx, "src-busy")
	require.NoError(t, err)
	assert.Nil(t, busy.NextSyncAt)
}

func TestSweepSkipsSourcesNotYetDue(t *testing.T) {
	sources := newSourceStore(t)
	manager := &fakeManager{}
	s := New(Config{Interval: time.Minute}, sources, manager)
	ctx := context.Background()

	saveSource(t, sources, "src-later", time.Hour)
	require.NoError(t, sources.SetNextSyncAt(ctx, "src-later", time.Now().Add(time.Hour).Unix()))

	s.sweep(ctx)
	assert.Empty(t, manager.triggeredIDs())
}

func TestStartStopLifecycle(t *testing.T) {
	sources := newSourceStore(t)
	manager := &fakeManager{}
	s := New(Config{Interval: 50 * time.Millisecond}, sources, manager)

	saveSource(t, sources, "src-1", time.Hour)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(manager.triggeredIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
