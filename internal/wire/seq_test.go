package wire

import "testing"

func TestSeqLessWrapAware(t *testing.T) {
	for a := 0; a <= 65535; a += 97 { // sample across the full range
		av := uint16(a)
		next := av + 1
		if !SeqLess(av, next) {
			t.Errorf("seqLess(%d, %d) should be true", av, next)
		}
		if SeqLess(next, av) {
			t.Errorf("seqLess(%d, %d) should be false", next, av)
		}
	}
}

func TestSeqLessWrapBoundary(t *testing.T) {
	if !SeqLess(65535, 0) {
		t.Error("seqLess(65535, 0) should be true (wraps)")
	}
	if SeqLess(0, 65535) {
		t.Error("seqLess(0, 65535) should be false")
	}
}
