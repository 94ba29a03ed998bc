package durable

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wudi/cachelayer/internal/errors"
	"github.com/wudi/cachelayer/internal/logging"
)

type profile struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func newTestAdapter(t *testing.T, kv KV) (*Adapter, *clockwork.FakeClock) {
	t.Helper()
	a, err := New(kv, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a.SetClock(clock)
	return a, clock
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	original := logging.Global()
	core, obs := observer.New(zapcore.WarnLevel)
	logging.SetGlobal(zap.New(core))
	t.Cleanup(func() { logging.SetGlobal(original) })
	return obs
}

func TestAdapter_SetGet(t *testing.T) {
	kv, _ := NewMemoryKV(10, 0)
	a, _ := newTestAdapter(t, kv)
	ctx := context.Background()

	want := profile{Name: "ada", Roles: []string{"admin"}}
	a.Set(ctx, "user:1", want, 0)

	var got profile
	if !a.Get(ctx, "user:1", &got) {
		t.Fatal("expected durable hit")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestAdapter_EnvelopeFormat(t *testing.T) {
	kv, _ := NewMemoryKV(10, 0)
	a, clock := newTestAdapter(t, kv)

	a.Set(context.Background(), "k", map[string]int{"n": 1}, 30*time.Second)

	raw, ok, _ := kv.Get(context.Background(), "cache:k")
	if !ok {
		t.Fatal("expected record under the namespaced key")
	}
	res := gjson.ParseBytes(raw)
	if res.Get("key").String() != "k" {
		t.Errorf("key = %q", res.Get("key").String())
	}
	if res.Get("ttl").Int() != 30000 {
		t.Errorf("ttl = %d, want 30000", res.Get("ttl").Int())
	}
	if res.Get("timestamp").Int() != clock.Now().UnixMilli() {
		t.Errorf("timestamp = %d", res.Get("timestamp").Int())
	}
	if res.Get("value.n").Int() != 1 {
		t.Errorf("value = %s", res.Get("value").Raw)
	}
}

func TestAdapter_ExpiredRecordIsDeleted(t *testing.T) {
	kv, _ := NewMemoryKV(10, 0)
	a, clock := newTestAdapter(t, kv)
	ctx := context.Background()

	a.Set(ctx, "k", "v", time.Second)

	clock.Advance(999 * time.Millisecond)
	var got string
	if !a.Get(ctx, "k", &got) {
		t.Fatal("expected hit before expiry")
	}

	clock.Advance(time.Millisecond)
	if a.Get(ctx, "k", &got) {
		t.Fatal("expected miss at expiry")
	}
	if kv.Len() != 0 {
		t.Error("expired record should be deleted from the medium")
	}
}

func TestAdapter_GetWithExpiry(t *testing.T) {
	kv, _ := NewMemoryKV(10, 0)
	a, clock := newTestAdapter(t, kv)
	ctx := context.Background()
	start := clock.Now()

	a.Set(ctx, "k", "v", 30*time.Second)
	clock.Advance(20 * time.Second)

	var got string
	expiresAt, ok := a.GetWithExpiry(ctx, "k", &got)
	if !ok || got != "v" {
		t.Fatalf("expected hit, got %q ok=%v", got, ok)
	}
	if want := start.Add(30 * time.Second); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}

	clock.Advance(10 * time.Second)
	if _, ok := a.GetWithExpiry(ctx, "k", &got); ok {
		t.Error("expected miss at the recorded expiry")
	}
}

func TestAdapter_CorruptRecordIsMiss(t *testing.T) {
	obs := observeLogs(t)
	kv, _ := NewMemoryKV(10, 0)
	a, _ := newTestAdapter(t, kv)
	ctx := context.Background()

	kv.Set(ctx, "cache:bad", []byte("{not json"))

	var got string
	if a.Get(ctx, "bad", &got) {
		t.Fatal("corrupt record must be reported as a miss")
	}
	if obs.FilterMessage("Durable cache decode failed, treating as miss").Len() != 1 {
		t.Error("expected a decode warning")
	}
}

func TestAdapter_TypeMismatchIsMiss(t *testing.T) {
	observeLogs(t)
	kv, _ := NewMemoryKV(10, 0)
	a, _ := newTestAdapter(t, kv)
	ctx := context.Background()

	a.Set(ctx, "k", "text", 0)

	var n int
	if a.Get(ctx, "k", &n) {
		t.Fatal("decoding into the wrong type must be a miss")
	}
}

func TestAdapter_QuotaExceededIsSwallowed(t *testing.T) {
	obs := observeLogs(t)
	kv, _ := NewMemoryKV(10, 16)
	a, _ := newTestAdapter(t, kv)
	ctx := context.Background()

	a.Set(ctx, "big", "this value is far larger than sixteen bytes", 0)

	var got string
	if a.Get(ctx, "big", &got) {
		t.Fatal("value over quota should not be stored")
	}
	logs := obs.FilterMessage("Durable cache set failed").All()
	if len(logs) != 1 {
		t.Fatalf("expected one set warning, got %d", len(logs))
	}
	if err, ok := logs[0].ContextMap()["error"].(string); !ok || err == "" {
		t.Errorf("expected error field on warning, got %v", logs[0].ContextMap())
	}
}

func TestAdapter_UnencodableValueIsSwallowed(t *testing.T) {
	obs := observeLogs(t)
	kv, _ := NewMemoryKV(10, 0)
	a, _ := newTestAdapter(t, kv)

	a.Set(context.Background(), "ch", make(chan int), 0)

	if kv.Len() != 0 {
		t.Error("unencodable value must not reach the medium")
	}
	if obs.FilterMessage("Durable cache encode failed").Len() != 1 {
		t.Error("expected an encode warning")
	}
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, stderrors.New("medium offline")
}
func (failingKV) Set(context.Context, string, []byte) error { return stderrors.New("medium offline") }
func (failingKV) Delete(context.Context, string) error     { return stderrors.New("medium offline") }

func TestAdapter_MediumFailuresDegrade(t *testing.T) {
	obs := observeLogs(t)
	a, _ := newTestAdapter(t, failingKV{})
	ctx := context.Background()

	a.Set(ctx, "k", "v", 0)
	a.Delete(ctx, "k")
	var got string
	if a.Get(ctx, "k", &got) {
		t.Fatal("failing medium must report a miss")
	}
	if obs.Len() != 3 {
		t.Errorf("expected 3 warnings, got %d", obs.Len())
	}
}

func TestAdapter_Delete(t *testing.T) {
	kv, _ := NewMemoryKV(10, 0)
	a, _ := newTestAdapter(t, kv)
	ctx := context.Background()

	a.Set(ctx, "k", "v", 0)
	a.Delete(ctx, "k")
	a.Delete(ctx, "k")

	var got string
	if a.Get(ctx, "k", &got) {
		t.Fatal("expected miss after delete")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(nil, Config{}); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("nil KV: expected ErrInvalidConfig, got %v", err)
	}
	kv, _ := NewMemoryKV(1, 0)
	if _, err := New(kv, Config{TTL: -time.Second}); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("negative ttl: expected ErrInvalidConfig, got %v", err)
	}
}

func TestMemoryKV_Bounded(t *testing.T) {
	kv, err := NewMemoryKV(2, 0)
	if err != nil {
		t.Fatalf("NewMemoryKV: %v", err)
	}
	ctx := context.Background()
	kv.Set(ctx, "a", []byte("1"))
	kv.Set(ctx, "b", []byte("2"))
	kv.Set(ctx, "c", []byte("3"))

	if kv.Len() != 2 {
		t.Errorf("expected 2 records, got %d", kv.Len())
	}
	if _, ok, _ := kv.Get(ctx, "a"); ok {
		t.Error("expected oldest record to be dropped")
	}
}

func TestMemoryKV_QuotaError(t *testing.T) {
	kv, _ := NewMemoryKV(2, 4)
	err := kv.Set(context.Background(), "k", []byte("12345"))
	if !stderrors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
}
