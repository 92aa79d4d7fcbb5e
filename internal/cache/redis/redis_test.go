package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "mp"), mr
}

func TestLockAcquireRelease(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "writer", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("mp:lock:writer") {
		t.Fatal("lock key not written")
	}
	if _, err := NewLockManager(c).Acquire(ctx, "writer", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire: err = %v", err)
	}

	unlock()
	unlock()
	if mr.Exists("mp:lock:writer") {
		t.Fatal("lock not released")
	}
	if _, err := lm.Acquire(ctx, "writer", time.Minute); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
}

func TestLockExtend(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	if err := lm.Extend(ctx, "writer", time.Minute); !errors.Is(err, domain.ErrLockLost) {
		t.Fatalf("extend unheld: err = %v", err)
	}

	if _, err := lm.Acquire(ctx, "writer", 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := lm.Extend(ctx, "writer", time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ttl := mr.TTL("mp:lock:writer"); ttl != time.Minute {
		t.Fatalf("ttl = %s", ttl)
	}

	// Another process took over after expiry.
	mr.FastForward(2 * time.Minute)
	if err := mr.Set("mp:lock:writer", "someone-else"); err != nil {
		t.Fatal(err)
	}
	if err := lm.Extend(ctx, "writer", time.Minute); !errors.Is(err, domain.ErrLockLost) {
		t.Fatalf("extend stolen: err = %v", err)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, 2, time.Second)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		ok, err := rl.Allow(ctx, "client", 2, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if ok != want {
			t.Fatalf("request %d allowed = %v", i, ok)
		}
	}
	if ok, _ := rl.Allow(ctx, "other", 2, time.Second); !ok {
		t.Fatal("keys share a window")
	}

	now = now.Add(1100 * time.Millisecond)
	if ok, _ := rl.Allow(ctx, "client", 2, time.Second); !ok {
		t.Fatal("window did not slide")
	}
}

func TestRateLimiterRetryHint(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, 1, time.Second)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	if ok, _, err := rl.hit(ctx, "k", 1, time.Second); err != nil || !ok {
		t.Fatalf("first hit: %v %v", ok, err)
	}
	now = now.Add(300 * time.Millisecond)
	ok, retry, err := rl.hit(ctx, "k", 1, time.Second)
	if err != nil || ok {
		t.Fatalf("second hit: %v %v", ok, err)
	}
	if retry != 700*time.Millisecond {
		t.Fatalf("retry = %s", retry)
	}
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 1, time.Hour)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	if err := rl.Wait(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestEventPublisherStreamsRecords(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	bus := NewSignalBus(c)

	sub, err := bus.Subscribe(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}

	pub := NewEventPublisher(bus, "events", "events-stream")
	records := []domain.EventRecord{
		{ID: "a", Seq: 1, Name: domain.EventPositionOpened, Payload: json.RawMessage(`{"id":1}`)},
		{ID: "b", Seq: 2, Name: domain.EventFeesAccrued, Payload: json.RawMessage(`{}`)},
	}
	if err := pub.HandleEvents(ctx, records); err != nil {
		t.Fatal(err)
	}

	msgs, err := bus.StreamRead(ctx, "events-stream", "0", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stream holds %d messages", len(msgs))
	}
	var got domain.EventRecord
	if err := json.Unmarshal(msgs[1].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Seq != 2 || got.Name != domain.EventFeesAccrued {
		t.Fatalf("second record = %+v", got)
	}

	select {
	case payload := <-sub:
		if err := json.Unmarshal(payload, &got); err != nil || got.Seq != 1 {
			t.Fatalf("published %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pub/sub delivery")
	}

	if msgs, err := bus.StreamRead(ctx, "empty", "0", 10); err != nil || len(msgs) != 0 {
		t.Fatalf("empty stream: %v %v", msgs, err)
	}
}
