package bitfield

import "testing"

func TestSetHasUnset(t *testing.T) {
	bf := New(10)

	if bf.Has(3) {
		t.Fatalf("expected bit 3 unset")
	}

	if err := bf.Set(3); err != nil {
		t.Fatal(err)
	}
	if !bf.Has(3) {
		t.Fatalf("expected bit 3 set")
	}

	if err := bf.Unset(3); err != nil {
		t.Fatal(err)
	}
	if bf.Has(3) {
		t.Fatalf("expected bit 3 unset after Unset")
	}
}

func TestSetOutOfBounds(t *testing.T) {
	bf := New(4)
	if err := bf.Set(100); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
}

func TestCount(t *testing.T) {
	bf := New(16)
	for _, i := range []int{0, 1, 8, 15} {
		if err := bf.Set(i); err != nil {
			t.Fatal(err)
		}
	}

	if got := bf.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
}

func TestComplete(t *testing.T) {
	bf := Full(12)
	if !bf.Complete(12) {
		t.Fatalf("expected Full(12) to be Complete(12)")
	}

	bf.Unset(5)
	if bf.Complete(12) {
		t.Fatalf("expected incomplete bitfield after Unset")
	}
}
