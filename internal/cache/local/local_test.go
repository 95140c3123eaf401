package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

func TestLockManager(t *testing.T) {
	l := NewLockManager()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "sync:kalshi", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "sync:kalshi", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second Acquire err = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()
	again, err := l.Acquire(ctx, "sync:kalshi", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	again()
}

func TestLockExpires(t *testing.T) {
	l := NewLockManager()
	ctx := context.Background()
	if _, err := l.Acquire(ctx, "k", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Errorf("Acquire after expiry: %v", err)
	}
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	b := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "ch:sync")
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Publish(ctx, "ch:sync", []byte("hello"))
	_ = b.Publish(ctx, "ch:other", []byte("ignored"))

	select {
	case got := <-ch:
		if string(got) != "hello" {
			t.Errorf("payload = %q, want hello", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestSignalBusStream(t *testing.T) {
	b := NewSignalBus()
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		_ = b.StreamAppend(ctx, "stream:sync", []byte(p))
	}
	msgs, _ := b.StreamRead(ctx, "stream:sync", "1", 10)
	if len(msgs) != 2 || string(msgs[0].Payload) != "b" {
		t.Errorf("StreamRead = %+v", msgs)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow(ctx, "k", 2, time.Minute); !ok {
			t.Fatalf("hit %d rejected", i)
		}
	}
	if ok, _ := rl.Allow(ctx, "k", 2, time.Minute); ok {
		t.Error("third hit allowed inside window")
	}
	if ok, _ := rl.Allow(ctx, "other", 2, time.Minute); !ok {
		t.Error("independent key rejected")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := rl.Allow(ctx, "k", 2, time.Minute); !ok {
		t.Error("hit rejected after window elapsed")
	}
}
