package automation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	triggers []Trigger
	err      error
}

func (d *fakeDispatcher) DispatchScheduled(_ context.Context, t Trigger) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.triggers = append(d.triggers, t)
	return fmt.Sprintf("job-%d", len(d.triggers)), nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.triggers)
}

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// generation returns the live trigger generation of a schedule, or 0.
func generation(s *Scheduler, id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id].gen
}
