package limiter

import "testing"

func TestPerTenantBucketsAreIndependent(t *testing.T) {
	// Generous global bucket, one-shot tenant buckets.
	l := New(1000, 0, 1)

	if !l.AllowSubmit("key-a") {
		t.Fatal("first submission for key-a should pass")
	}
	if l.AllowSubmit("key-a") {
		t.Error("key-a's burst is spent, second submission should be rejected")
	}
	if !l.AllowSubmit("key-b") {
		t.Error("key-b has its own bucket and should pass")
	}
}

func TestGlobalBucketCapsAllTenants(t *testing.T) {
	// A zero global rate leaves the shared bucket permanently empty, so no
	// tenant gets through regardless of its own allowance.
	l := New(0, 1000, 1000)

	if l.AllowSubmit("key-a") {
		t.Error("submission should be rejected when the global bucket is dry")
	}
}
