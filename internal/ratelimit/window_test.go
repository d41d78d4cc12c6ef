package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestLimiterAdmitsExactlyCapacityPerWindow(t *testing.T) {
	limiter := NewLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		decision := limiter.Check("client-a")
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if decision.Remaining != 3-(i+1) {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, 3-(i+1), decision.Remaining)
		}
	}

	denied := limiter.Check("client-a")
	if denied.Allowed {
		t.Fatalf("request over capacity should be denied")
	}
	if denied.Remaining != 0 {
		t.Fatalf("denied decision should report zero remaining, got %d", denied.Remaining)
	}
	if denied.RetryAfter <= 0 {
		t.Fatalf("denied decision should carry a retry estimate")
	}
	if !strings.Contains(denied.Message(), "retry in") {
		t.Fatalf("denied message should include a wait estimate, got %q", denied.Message())
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, time.Hour)

	if !limiter.Check("client-a").Allowed {
		t.Fatalf("first request for client-a should be allowed")
	}
	if !limiter.Check("client-b").Allowed {
		t.Fatalf("client-b should have its own window")
	}
	if limiter.Check("client-a").Allowed {
		t.Fatalf("client-a should be exhausted")
	}
}

func TestLimiterResetsAfterWindowExpires(t *testing.T) {
	limiter := NewLimiter(2, time.Hour)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	limiter.Check("client-a")
	limiter.Check("client-a")
	if limiter.Check("client-a").Allowed {
		t.Fatalf("third request in window should be denied")
	}

	current = current.Add(time.Hour + time.Minute)
	decision := limiter.Check("client-a")
	if !decision.Allowed {
		t.Fatalf("request after reset should be allowed")
	}
	if decision.Remaining != 1 {
		t.Fatalf("fresh window should count the admitted request, remaining=%d", decision.Remaining)
	}
}

func TestPeekDoesNotConsumeQuota(t *testing.T) {
	limiter := NewLimiter(2, time.Hour)

	for i := 0; i < 10; i++ {
		if !limiter.Peek("client-a").Allowed {
			t.Fatalf("peek %d should not consume quota", i+1)
		}
	}

	if !limiter.Check("client-a").Allowed || !limiter.Check("client-a").Allowed {
		t.Fatalf("full capacity should remain after peeking")
	}

	peeked := limiter.Peek("client-a")
	if peeked.Allowed || peeked.Remaining != 0 {
		t.Fatalf("peek should see the exhausted window: %+v", peeked)
	}
	if peeked.RetryAfter <= 0 {
		t.Fatalf("exhausted peek should carry a retry estimate")
	}
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	limiter := NewLimiter(5, time.Hour)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	limiter.Check("client-a")
	limiter.Check("client-b")

	current = current.Add(2 * time.Hour)
	limiter.Sweep()

	limiter.mu.Lock()
	size := len(limiter.windows)
	limiter.mu.Unlock()
	if size != 0 {
		t.Fatalf("expected expired windows to be swept, %d left", size)
	}
}
