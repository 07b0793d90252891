package maintenance

import "testing"

func TestAuthorityBuilderSingleSigner(t *testing.T) {
	b := newAuthorityBuilder()
	b.add(1, 1000)
	auth, err := b.buildCurrent()
	if err != nil {
		t.Fatalf("buildCurrent: %v", err)
	}
	if len(auth.Signers) != 1 {
		t.Fatalf("want 1 signer, got %d", len(auth.Signers))
	}
	if auth.Signers[0].Weight == 0 {
		t.Fatal("signer weight must never be 0 (min-of-one rule)")
	}
	assertThresholdSane(t, auth)
}

func TestAuthorityBuilderAccumulatesWeight(t *testing.T) {
	b := newAuthorityBuilder()
	b.add(1, 100)
	b.add(1, 50)
	auth, err := b.buildCurrent()
	if err != nil {
		t.Fatalf("buildCurrent: %v", err)
	}
	if len(auth.Signers) != 1 {
		t.Fatalf("want 1 accumulated signer, got %d", len(auth.Signers))
	}
	if uint64(auth.Signers[0].Weight) != 150 {
		t.Fatalf("accumulated weight = %d, want 150 (under 15-bit headroom, no drop)", auth.Signers[0].Weight)
	}
}

func TestAuthorityBuilderDropShift(t *testing.T) {
	b := newAuthorityBuilder()
	// Sum exceeds 15 significant bits (> 32767), forcing a drop shift.
	b.add(1, 1<<20)
	b.add(2, 1<<19)
	auth, err := b.buildCurrent()
	if err != nil {
		t.Fatalf("buildCurrent: %v", err)
	}
	for _, s := range auth.Signers {
		if s.Weight > 0xffff {
			t.Fatalf("signer weight %d exceeds 16 bits", s.Weight)
		}
	}
	assertThresholdSane(t, auth)
}

// TestAuthorityBuilderNoDropAtSixteenBits covers the find_msb/BitLen
// off-by-one boundary: a sum of exactly 65535 (0xffff) has find_msb = 15, so
// bits_to_drop = 0 and every signer keeps its raw weight.
func TestAuthorityBuilderNoDropAtSixteenBits(t *testing.T) {
	b := newAuthorityBuilder()
	b.add(1, 65535)
	auth, err := b.buildCurrent()
	if err != nil {
		t.Fatalf("buildCurrent: %v", err)
	}
	if uint64(auth.Signers[0].Weight) != 65535 {
		t.Fatalf("weight = %d, want 65535 (no drop at the 16-bit boundary)", auth.Signers[0].Weight)
	}
}

func TestAuthorityBuilderEmptyIsInvariantViolation(t *testing.T) {
	b := newAuthorityBuilder()
	if _, err := b.buildCurrent(); err == nil {
		t.Fatal("expected invariant violation for empty signer set")
	}
}

func TestAuthorityBuilderSignerOrder(t *testing.T) {
	b := newAuthorityBuilder()
	b.add(5, 10)
	b.add(1, 10)
	b.add(3, 10)
	auth, err := b.buildCurrent()
	if err != nil {
		t.Fatalf("buildCurrent: %v", err)
	}
	for i := 1; i < len(auth.Signers); i++ {
		if auth.Signers[i-1].Account >= auth.Signers[i].Account {
			t.Fatalf("signers not sorted ascending by account: %+v", auth.Signers)
		}
	}
}

// assertThresholdSane checks invariant I2 / property P2: threshold > 0,
// threshold <= sum(weights), and threshold > sum(weights)/2.
func assertThresholdSane(t *testing.T, auth WeightedAuthority) {
	t.Helper()
	var sum uint64
	for _, s := range auth.Signers {
		sum += uint64(s.Weight)
	}
	if auth.Threshold == 0 {
		t.Fatal("threshold must be > 0")
	}
	if uint64(auth.Threshold) > sum {
		t.Fatalf("threshold %d exceeds weight sum %d", auth.Threshold, sum)
	}
	if uint64(auth.Threshold)*2 <= sum {
		t.Fatalf("threshold %d must exceed half of weight sum %d", auth.Threshold, sum)
	}
}
