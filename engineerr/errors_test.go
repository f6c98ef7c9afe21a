package engineerr

import "testing"

func TestWrapPreservesKind(t *testing.T) {
	base := Wrap(New("boom"), Op("a.b"), Internal)
	outer := Wrap(base, Op("c.d"))

	if KindOf(outer) != Internal {
		t.Fatalf("KindOf(outer) = %v, want Internal", KindOf(outer))
	}

	ops := Ops(outer)
	if len(ops) != 2 || ops[0] != Op("c.d") || ops[1] != Op("a.b") {
		t.Fatalf("Ops(outer) = %v", ops)
	}
}

func TestFatal(t *testing.T) {
	internal := Wrap(New("bad invariant"), Op("x"), Internal)
	if !Fatal(internal) {
		t.Fatalf("expected Fatal(internal) == true")
	}

	badArg := Wrap(New("bad url"), Op("x"), BadArgument)
	if Fatal(badArg) {
		t.Fatalf("expected Fatal(badArg) == false")
	}
}
