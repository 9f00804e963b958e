package bloom

import "testing"

func TestInsertAndMatch(t *testing.T) {
	s := New(100, 0.01)
	s.Insert([]byte("alpha"))
	s.Insert([]byte("beta"))

	bin := s.ToBinary()

	m := NewMatcher(s.k, []byte("alpha"))
	if got := m.IsMatch(bin); got != Match {
		t.Fatalf("IsMatch(alpha) = %v, want Match", got)
	}

	m2 := NewMatcher(s.k, []byte("gamma-not-inserted"))
	if got := m2.IsMatch(bin); got == Match {
		// False positives are possible but astronomically unlikely for
		// one value against a 100-entry filter; treat as a test bug.
		t.Fatalf("IsMatch(gamma) reported Match against a filter that never saw it")
	}
}

func TestIsMatchNoFilter(t *testing.T) {
	m := NewMatcher(4, []byte("x"))
	if got := m.IsMatch(nil); got != NoFilter {
		t.Fatalf("IsMatch(nil) = %v, want NoFilter", got)
	}
}

func TestMatcherAnyOfValues(t *testing.T) {
	s := New(10, 0.01)
	s.Insert([]byte("present"))
	bin := s.ToBinary()

	m := NewMatcher(s.k, []byte("absent"), []byte("present"))
	if got := m.IsMatch(bin); got != Match {
		t.Fatalf("IsMatch = %v, want Match (one of the values is present)", got)
	}
}

func TestSizeClampedToMax(t *testing.T) {
	s := New(1_000_000_000, 0.0001)
	if s.Size() > MaxSize {
		t.Fatalf("Size() = %d, want <= %d", s.Size(), MaxSize)
	}
}

func TestNewFromSize(t *testing.T) {
	s := NewFromSize(300, 3)
	if s.Size() != MaxSize {
		t.Fatalf("Size() = %d, want clamped to %d", s.Size(), MaxSize)
	}
}
