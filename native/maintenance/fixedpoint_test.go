package maintenance

import "testing"

func TestMulDivFloor(t *testing.T) {
	got, err := mulDivFloor(7, 3, 2)
	if err != nil {
		t.Fatalf("mulDivFloor: %v", err)
	}
	if got != 10 {
		t.Fatalf("mulDivFloor(7,3,2) = %d, want 10", got)
	}
}

func TestMulDivCeil(t *testing.T) {
	got, err := mulDivCeil(7, 3, 2)
	if err != nil {
		t.Fatalf("mulDivCeil: %v", err)
	}
	if got != 11 {
		t.Fatalf("mulDivCeil(7,3,2) = %d, want 11", got)
	}
}

func TestMulDivExact(t *testing.T) {
	floor, err := mulDivFloor(10, 10, 10)
	if err != nil {
		t.Fatalf("mulDivFloor: %v", err)
	}
	ceil, err := mulDivCeil(10, 10, 10)
	if err != nil {
		t.Fatalf("mulDivCeil: %v", err)
	}
	if floor != 10 || ceil != 10 {
		t.Fatalf("exact division should agree: floor=%d ceil=%d", floor, ceil)
	}
}

func TestMulDivZeroDivisor(t *testing.T) {
	if _, err := mulDivFloor(1, 1, 0); err == nil {
		t.Fatal("expected OverflowError on zero divisor, got nil")
	}
}

func TestMulDivOverflow(t *testing.T) {
	const maxU64 = ^uint64(0)
	if _, err := mulDivFloor(maxU64, maxU64, 1); err == nil {
		t.Fatal("expected OverflowError, got nil")
	}
}

func TestPercentOf(t *testing.T) {
	got, err := percentOf(1001, 20)
	if err != nil {
		t.Fatalf("percentOf: %v", err)
	}
	if got != 200 {
		t.Fatalf("percentOf(1001, 20) = %d, want 200", got)
	}
}
