package realtime

import (
	"testing"
	"time"
)

func TestTokenBucketAllowsUpToCapacityThenBlocks(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("expected request %d to be allowed within capacity", i)
		}
	}
	if tb.Allow() {
		t.Fatalf("expected the bucket to be exhausted after draining its capacity")
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(1, 1000)
	if !tb.Allow() {
		t.Fatalf("expected the first request to be allowed")
	}
	if tb.Allow() {
		t.Fatalf("expected the bucket to be empty immediately after draining")
	}
	time.Sleep(5 * time.Millisecond)
	if !tb.Allow() {
		t.Fatalf("expected the bucket to have refilled after waiting")
	}
}
