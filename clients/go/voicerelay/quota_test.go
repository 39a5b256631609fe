package voicerelay

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestQuota(t *testing.T) *QuotaTracker {
	t.Helper()
	q, err := NewQuotaTracker(filepath.Join(t.TempDir(), "usage.json"))
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func TestQuotaFreshWindow(t *testing.T) {
	q := newTestQuota(t)
	now := time.Now()

	rec, err := q.CheckAndRoll(now)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MessagesUsed != 0 {
		t.Fatalf("fresh tracker should start at 0, got %d", rec.MessagesUsed)
	}

	exceeded, err := q.IsExceeded(DefaultReplyLimit, now)
	if err != nil {
		t.Fatal(err)
	}
	if exceeded {
		t.Fatal("fresh tracker should not be exceeded")
	}
}

func TestQuotaIncrementPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	q, err := NewQuotaTracker(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	for i := 1; i <= 3; i++ {
		n, err := q.Increment(now)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}

	// Reload from disk
	q2, err := NewQuotaTracker(path)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := q2.CheckAndRoll(now)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MessagesUsed != 3 {
		t.Fatalf("expected persisted count 3, got %d", rec.MessagesUsed)
	}
}

func TestQuotaRollover(t *testing.T) {
	q := newTestQuota(t)
	now := time.Now()

	// Backdate the window 31 days and use up half the quota
	q.rec = UsageRecord{MessagesUsed: 50, WindowStart: now.Add(-31 * 24 * time.Hour)}

	rec, err := q.CheckAndRoll(now)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MessagesUsed != 0 {
		t.Fatalf("expected reset to 0, got %d", rec.MessagesUsed)
	}
	if !rec.WindowStart.Equal(now) {
		t.Fatalf("expected window start %v, got %v", now, rec.WindowStart)
	}
}

func TestQuotaNotRolledEarly(t *testing.T) {
	q := newTestQuota(t)
	now := time.Now()

	q.rec = UsageRecord{MessagesUsed: 50, WindowStart: now.Add(-29 * 24 * time.Hour)}

	rec, err := q.CheckAndRoll(now)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MessagesUsed != 50 {
		t.Fatalf("window should not roll at 29 days, got %d", rec.MessagesUsed)
	}
}

func TestQuotaEnforcementAtLimit(t *testing.T) {
	q := newTestQuota(t)
	now := time.Now()

	q.rec.MessagesUsed = DefaultReplyLimit

	exceeded, err := q.IsExceeded(DefaultReplyLimit, now)
	if err != nil {
		t.Fatal(err)
	}
	if !exceeded {
		t.Fatal("expected exceeded at limit")
	}

	if _, err := q.Consume(DefaultReplyLimit, now); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if q.rec.MessagesUsed != DefaultReplyLimit {
		t.Fatalf("failed consume must not change the count, got %d", q.rec.MessagesUsed)
	}
}

func TestQuotaConcurrentConsume(t *testing.T) {
	q := newTestQuota(t)
	now := time.Now()
	const limit = 10

	var wg sync.WaitGroup
	results := make(chan error, limit*2)
	for i := 0; i < limit*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Consume(limit, now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	allowed, rejected := 0, 0
	for err := range results {
		if err == nil {
			allowed++
		} else if errors.Is(err, ErrQuotaExceeded) {
			rejected++
		} else {
			t.Fatal(err)
		}
	}
	if allowed != limit || rejected != limit {
		t.Fatalf("expected %d allowed and %d rejected, got %d/%d", limit, limit, allowed, rejected)
	}
}
