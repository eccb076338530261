package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiterAllowBurst(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 2})
	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("expected burst of two to be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("expected third request to be limited")
	}
}

func TestLimiterDifferentClients(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	if !l.Allow("a") {
		t.Fatal("client a should be allowed")
	}
	if !l.Allow("b") {
		t.Fatal("client b has its own bucket")
	}
	if l.Allow("a") {
		t.Fatal("client a should be limited")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", l.Len())
	}
}

func TestLimiterRefills(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(Config{RPS: 10, Burst: 1})
	l.now = func() time.Time { return now }

	if !l.Allow("a") {
		t.Fatal("first request should pass")
	}
	if l.Allow("a") {
		t.Fatal("second request should be limited")
	}
	now = now.Add(150 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatal("token should have refilled after 100ms")
	}
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(Config{RPS: 1, Burst: 1, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("stale")
	now = now.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(fmt.Sprintf("client-%d", i%4))
	}
	if l.Len() != 4 {
		t.Fatalf("expected stale client evicted, tracked=%d", l.Len())
	}
}
