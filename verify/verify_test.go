// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package verify

import (
	"sync"
	"testing"
	"time"
)

func newTestStore(start time.Time) (*Store, *time.Time) {
	clock := start
	s := NewStore()
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestVerifyIsOneTime(t *testing.T) {
	s, _ := newTestStore(time.Unix(1000, 0))
	s.Set("a@example.com", "123456", EmailCodeTTL)

	if s.Verify("a@example.com", "000000") {
		t.Error("Wrong code should not verify")
	}
	if !s.Verify("a@example.com", "123456") {
		t.Fatal("Correct code should verify")
	}
	if s.Verify("a@example.com", "123456") {
		t.Error("Code should be consumed after first success")
	}
}

func TestVerifyExpiry(t *testing.T) {
	s, clock := newTestStore(time.Unix(1000, 0))
	s.Set("k", "v", time.Minute)

	*clock = clock.Add(59 * time.Second)
	if _, ok := s.Peek("k"); !ok {
		t.Fatal("Entry should still be live")
	}

	*clock = clock.Add(time.Second)
	if s.Verify("k", "v") {
		t.Error("Expired entry should not verify")
	}
	if s.Len() != 0 {
		t.Errorf("Expired entry should be dropped, have %d", s.Len())
	}
}

func TestSetReplaces(t *testing.T) {
	s, _ := newTestStore(time.Unix(1000, 0))
	s.Set("k", "old", time.Minute)
	s.Set("k", "new", time.Minute)

	if s.Verify("k", "old") {
		t.Error("Replaced value should not verify")
	}
	if !s.Verify("k", "new") {
		t.Error("Latest value should verify")
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	s, _ := newTestStore(time.Unix(1000, 0))
	s.Set("ticket", "user-1", ResetTicketTTL)

	for i := 0; i < 3; i++ {
		v, ok := s.Peek("ticket")
		if !ok || v != "user-1" {
			t.Fatalf("Peek %d = (%q, %v)", i, v, ok)
		}
	}
	s.Delete("ticket")
	if _, ok := s.Peek("ticket"); ok {
		t.Error("Deleted entry should be gone")
	}
}

func TestSweep(t *testing.T) {
	start := time.Unix(1000, 0)
	s, _ := newTestStore(start)
	s.Set("short", "1", time.Minute)
	s.Set("long", "2", time.Hour)

	if n := s.Sweep(start.Add(30 * time.Second)); n != 0 {
		t.Errorf("Expected nothing swept, got %d", n)
	}
	if n := s.Sweep(start.Add(2 * time.Minute)); n != 1 {
		t.Errorf("Expected 1 swept, got %d", n)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 remaining, got %d", s.Len())
	}
}

func TestConcurrentVerifySucceedsOnce(t *testing.T) {
	s := NewStore()
	s.Set("k", "v", time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Verify("k", "v") {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("Expected exactly one success, got %d", successes)
	}
}
