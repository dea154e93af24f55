package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAllow_WindowResets(t *testing.T) {
	l := New(2, time.Minute)
	defer l.Stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two events should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("third event should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("keys are independent")
	}
	if got := l.Remaining("a"); got != 0 {
		t.Errorf("Remaining(a) = %d, want 0", got)
	}
	if got := l.RetryAfter("a"); got != time.Minute {
		t.Errorf("RetryAfter(a) = %v, want 1m", got)
	}

	now = now.Add(time.Minute + time.Second)
	if !l.Allow("a") {
		t.Fatal("window should have reset")
	}
	if got := l.Remaining("a"); got != 1 {
		t.Errorf("Remaining(a) = %d, want 1", got)
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := New(50, time.Minute)
	defer l.Stop()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("k") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestStop_Idempotent(t *testing.T) {
	l := New(1, time.Millisecond)
	l.Stop()
	l.Stop()
}
