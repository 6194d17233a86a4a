package redisclient

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/event"
)

// testClient connects to REDIS_TEST_ADDR or skips.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := NewRedisClient(ctx, addr, "", "", "redisclient-test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestSequencer_NextAndCurrent(t *testing.T) {
	rdb := testClient(t)
	seq := NewSequencer(rdb)
	ctx := context.Background()
	topic := "test:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), seqKey(topic)) })

	if n, err := seq.Current(ctx, topic); err != nil || n != 0 {
		t.Fatalf("Current on fresh topic = %d, %v; want 0, nil", n, err)
	}
	for want := uint64(1); want <= 3; want++ {
		n, err := seq.Next(ctx, topic)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if n != want {
			t.Fatalf("Next = %d, want %d", n, want)
		}
	}
	if n, _ := seq.Current(ctx, topic); n != 3 {
		t.Errorf("Current = %d, want 3", n)
	}
}

func TestLease_SecondHolderIsRefused(t *testing.T) {
	rdb := testClient(t)
	first := NewLease(rdb, "worker-a", 5*time.Second)
	second := NewLease(rdb, "worker-b", 5*time.Second)
	name := "test-" + uuid.NewString()

	err := first.WithLock(context.Background(), name, func(ctx context.Context) error {
		holder, err := second.Holder(ctx, name)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(holder, "worker-a/") {
			t.Errorf("holder = %q, want worker-a", holder)
		}
		inner := second.WithLock(ctx, name, func(context.Context) error {
			t.Error("second holder ran")
			return nil
		})
		if !errors.Is(inner, ErrLockNotAcquired) {
			t.Errorf("second WithLock = %v, want ErrLockNotAcquired", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	// Released on return.
	if holder, _ := first.Holder(context.Background(), name); holder != "" {
		t.Fatalf("lease still held by %q", holder)
	}
	ran := false
	if err := second.WithLock(context.Background(), name, func(context.Context) error {
		ran = true
		return nil
	}); err != nil || !ran {
		t.Fatalf("reacquire: ran=%v err=%v", ran, err)
	}
}

func TestLease_OutlivesTTLWhileWorking(t *testing.T) {
	rdb := testClient(t)
	lease := NewLease(rdb, "worker-a", 300*time.Millisecond)
	name := "test-" + uuid.NewString()

	err := lease.WithLock(context.Background(), name, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		if holder, _ := lease.Holder(ctx, name); holder == "" {
			t.Error("lease expired while work was running")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
}

func TestLease_LostLeaseCancelsWork(t *testing.T) {
	rdb := testClient(t)
	lease := NewLease(rdb, "worker-a", 300*time.Millisecond)
	name := "test-" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), leaseKey(name)) })

	err := lease.WithLock(context.Background(), name, func(ctx context.Context) error {
		rdb.Set(ctx, leaseKey(name), "worker-b/stolen", time.Minute)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
			t.Error("work was not cancelled")
			return nil
		}
	})
	if !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("WithLock = %v, want ErrLeaseLost", err)
	}
	if holder, _ := lease.Holder(context.Background(), name); holder != "worker-b/stolen" {
		t.Errorf("release removed another holder's lease: holder = %q", holder)
	}
}

func TestBus_RoundTrip(t *testing.T) {
	rdb := testClient(t)
	bus := NewBus(rdb, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan event.Envelope, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Run(ctx, func(env event.Envelope) {
			select {
			case got <- env:
			default:
			}
		})
	}()

	ev, err := event.New(event.AlertPublished, uuid.New(), map[string]string{"title": "boil water"}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	want := event.Envelope{Topic: event.StudentAlertsTopic, Seq: 7, Event: ev}

	// The subscription is asynchronous; publish until it lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case env := <-got:
			if env.Topic != want.Topic || env.Seq != want.Seq || env.Event.EntityID != ev.EntityID {
				t.Fatalf("got %+v, want %+v", env, want)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Run returned %v", err)
			}
			return
		case <-tick.C:
			if err := bus.Publish(context.Background(), want); err != nil {
				t.Fatalf("Publish: %v", err)
			}
		case <-deadline:
			t.Fatal("envelope never delivered")
		}
	}
}
