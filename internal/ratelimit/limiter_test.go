package ratelimit

import (
	"testing"
	"time"
)

func TestBucketAllowsUpToBurst(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true})

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if bucket.Allow() {
		t.Fatal("request beyond burst should be denied")
	}
}

func TestBucketRefillsOverTime(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 100, BurstSize: 2, Enabled: true})
	bucket.Allow()
	bucket.Allow()
	if bucket.Allow() {
		t.Fatal("should be denied after exhausting tokens")
	}

	time.Sleep(50 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("should be allowed again after refill")
	}
}

func TestLimiterIsolatesBucketsPerKey(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 1, Enabled: true})

	if !limiter.Allow("anthropic") {
		t.Fatal("first request for anthropic should be allowed")
	}
	if limiter.Allow("anthropic") {
		t.Fatal("second immediate request for anthropic should be denied")
	}
	if !limiter.Allow("openai") {
		t.Fatal("openai has its own bucket and should be allowed")
	}
}

func TestLimiterDisabledAlwaysAllows(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: false})
	for i := 0; i < 10; i++ {
		if !limiter.Allow("anthropic") {
			t.Fatalf("disabled limiter should always allow, denied on iteration %d", i)
		}
	}
}

func TestLimiterResetRestoresFullBucket(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 1, Enabled: true})
	limiter.Allow("anthropic")
	if limiter.Allow("anthropic") {
		t.Fatal("expected bucket to be exhausted")
	}
	limiter.Reset("anthropic")
	if !limiter.Allow("anthropic") {
		t.Fatal("expected a fresh bucket after Reset")
	}
}
