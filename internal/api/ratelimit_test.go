package api

import (
	"testing"
	"time"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(60, 2)

	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("First request within burst must be allowed")
	}
	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("Second request within burst must be allowed")
	}

	ok, retryAfter := rl.allow("10.0.0.1")
	if ok {
		t.Fatal("Request beyond burst must be denied")
	}
	if retryAfter <= 0 {
		t.Errorf("Denied request must carry a positive retry hint, got %v", retryAfter)
	}
}

func TestRateLimiter_PerIPIsolation(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("First IP must be allowed")
	}
	if ok, _ := rl.allow("10.0.0.2"); !ok {
		t.Error("A second IP must have its own bucket")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(6000, 1) // 100 tokens/second

	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("First request must be allowed")
	}
	if ok, _ := rl.allow("10.0.0.1"); ok {
		t.Fatal("Bucket must be empty immediately after burst")
	}

	time.Sleep(50 * time.Millisecond)
	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Error("Bucket must refill over time")
	}
}
