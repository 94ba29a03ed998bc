package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
)

func TestStore_Sweep(t *testing.T) {
	var expired []string
	s, clock := newTestStore(t, Config{}, WithOnExpire(func(key, value string) {
		expired = append(expired, key+"="+value)
	}))

	s.SetWithTTL("a", "1", time.Second)
	s.SetWithTags("b", "2", time.Second, "T")
	s.SetWithTTL("c", "3", time.Hour)

	if n := s.Sweep(); n != 0 {
		t.Fatalf("nothing is expired yet, swept %d", n)
	}

	clock.Advance(time.Second)
	if n := s.Sweep(); n != 2 {
		t.Fatalf("expected 2 swept, got %d", n)
	}

	sort.Strings(expired)
	if diff := cmp.Diff([]string{"a=1", "b=2"}, expired); diff != "" {
		t.Errorf("OnExpire calls mismatch (-want +got):\n%s", diff)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", s.Len())
	}
	if len(s.Tags()) != 0 {
		t.Errorf("sweep should drop tag registrations, got %v", s.Tags())
	}
	if st := s.Stats(); st.Expirations != 2 {
		t.Errorf("expected 2 expirations, got %d", st.Expirations)
	}
}

func TestStore_SweepNeverExpiresTwice(t *testing.T) {
	calls := 0
	s, clock := newTestStore(t, Config{}, WithOnExpire(func(string, string) { calls++ }))

	s.SetWithTTL("a", "1", time.Second)
	clock.Advance(time.Second)

	s.Sweep()
	s.Sweep()
	s.Get("a")

	if calls != 1 {
		t.Errorf("expected one expiry callback, got %d", calls)
	}
}

func TestStore_BackgroundSweep(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	expired := make(chan string, 1)

	s, err := New[string](Config{CleanupInterval: time.Minute},
		WithClock[string](clock),
		WithOnExpire(func(key, _ string) { expired <- key }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.SetWithTTL("k", "v", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("sweep ticker never started: %v", err)
	}
	clock.Advance(time.Minute)

	select {
	case key := <-expired:
		if key != "k" {
			t.Errorf("expected k to expire, got %q", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background sweep did not run")
	}
}

func TestStore_CloseStopsSweep(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	calls := make(chan string, 1)

	s, err := New[string](Config{CleanupInterval: time.Minute},
		WithClock[string](clock),
		WithOnExpire(func(key, _ string) { calls <- key }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SetWithTTL("k", "v", time.Second)
	s.Close()

	clock.Advance(time.Hour)
	select {
	case <-calls:
		t.Fatal("sweep ran after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
