package cache

import (
	"context"
	"strconv"
	"testing"
)

func TestWrap(t *testing.T) {
	s, _ := newTestStore(t, Config{})

	calls := map[int]int{}
	square := Wrap(s,
		func(n int) string { return "square:" + strconv.Itoa(n) },
		func(_ context.Context, n int) (string, error) {
			calls[n]++
			return strconv.Itoa(n * n), nil
		},
		0, "math",
	)

	for i := 0; i < 3; i++ {
		got, err := square(context.Background(), 4)
		if err != nil {
			t.Fatalf("square: %v", err)
		}
		if got != "16" {
			t.Errorf("expected 16, got %q", got)
		}
	}
	if calls[4] != 1 {
		t.Errorf("expected one underlying call, got %d", calls[4])
	}

	if n := s.InvalidateByTag("math"); n != 1 {
		t.Fatalf("expected wrapped result to be tagged, removed %d", n)
	}
	square(context.Background(), 4)
	if calls[4] != 2 {
		t.Errorf("expected a reload after invalidation, got %d calls", calls[4])
	}
}
