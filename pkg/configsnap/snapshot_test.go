package configsnap

import "testing"

func TestNewIsPureFunctionOfInputs(t *testing.T) {
	data := Map{"a": map[string]any{"b": float64(1)}}
	s1, err := New(data, 1000, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s2, err := New(data, 1000, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s1.Checksum() != s2.Checksum() {
		t.Fatalf("expected equal checksums for equal data, got %q vs %q", s1.Checksum(), s2.Checksum())
	}
	if s1.Version() != "v1000" {
		t.Fatalf("expected version v1000, got %q", s1.Version())
	}
}

func TestChecksumIgnoresKeyOrdering(t *testing.T) {
	a := Map{"x": float64(1), "y": float64(2)}
	b := Map{"y": float64(2), "x": float64(1)}
	sa, _ := New(a, 1, nil)
	sb, _ := New(b, 1, nil)
	if sa.Checksum() != sb.Checksum() {
		t.Fatal("expected checksum to be independent of map key ordering")
	}
}

func TestGetResolvesDottedPath(t *testing.T) {
	data := Map{"sandbox": map[string]any{"timeout_ms": float64(30000)}}
	snap, _ := New(data, 1, nil)

	v, ok := snap.Get("sandbox.timeout_ms")
	if !ok || v != float64(30000) {
		t.Fatalf("expected 30000, got %v ok=%v", v, ok)
	}

	if _, ok := snap.Get("sandbox.missing.deep"); ok {
		t.Fatal("expected missing nested path to report not found")
	}
}

func TestSwitchSwapAndRollback(t *testing.T) {
	initial, _ := New(Map{"v": float64(1)}, 1, nil)
	sw := NewSwitch(initial)
	sw.MarkGood()

	next, _ := New(Map{"v": float64(2)}, 2, nil)
	sw.Swap(next)
	if sw.Current().Version() != "v2" {
		t.Fatalf("expected current version v2 after swap, got %q", sw.Current().Version())
	}

	rolled := sw.Rollback()
	if rolled.Version() != "v1" {
		t.Fatalf("expected rollback to restore v1, got %q", rolled.Version())
	}
	if sw.Current().Version() != "v1" {
		t.Fatal("expected Current() to reflect the rollback")
	}
}

func TestRollbackWithoutMarkGoodRestoresInitial(t *testing.T) {
	initial, _ := New(Map{"v": float64(1)}, 1, nil)
	sw := NewSwitch(initial)

	next, _ := New(Map{"v": float64(2)}, 2, nil)
	sw.Swap(next)

	rolled := sw.Rollback()
	if rolled.Version() != "v1" {
		t.Fatalf("expected rollback to the never-promoted initial snapshot, got %q", rolled.Version())
	}
}
