package netvar

import "testing"

func TestMergeGlobalLWWByTimestamp(t *testing.T) {
	s := NewStore()

	s.MergeGlobal("X", Entry{Value: "A", Timestamp: 10, LastWriter: 1})
	s.MergeGlobal("X", Entry{Value: "B", Timestamp: 11, LastWriter: 2})

	if v, _ := s.Global("X"); v != "B" {
		t.Fatalf("expected B, got %q", v)
	}
}

func TestMergeGlobalLWWReverseOrder(t *testing.T) {
	s := NewStore()

	s.MergeGlobal("X", Entry{Value: "B", Timestamp: 11, LastWriter: 2})
	changed, _ := s.MergeGlobal("X", Entry{Value: "A", Timestamp: 10, LastWriter: 1})

	if changed {
		t.Fatal("stale write should not change the store")
	}
	if v, _ := s.Global("X"); v != "B" {
		t.Fatalf("expected B to survive, got %q", v)
	}
}

func TestMergeGlobalTieBreakByWriter(t *testing.T) {
	s := NewStore()

	s.MergeGlobal("X", Entry{Value: "A", Timestamp: 10, LastWriter: 3})
	s.MergeGlobal("X", Entry{Value: "B", Timestamp: 10, LastWriter: 5})
	if v, _ := s.Global("X"); v != "B" {
		t.Fatalf("higher writer should win the tie, got %q", v)
	}

	s.MergeGlobal("X", Entry{Value: "C", Timestamp: 10, LastWriter: 4})
	if v, _ := s.Global("X"); v != "B" {
		t.Fatalf("lower writer should lose the tie, got %q", v)
	}
}

func TestMergeClientIndependentOfGlobal(t *testing.T) {
	s := NewStore()

	s.MergeGlobal("score", Entry{Value: "1", Timestamp: 1, LastWriter: 1})
	s.MergeClient(8, "score", Entry{Value: "2", Timestamp: 1, LastWriter: 1})

	if v, _ := s.Global("score"); v != "1" {
		t.Fatalf("global score = %q", v)
	}
	if v, _ := s.Client(8, "score"); v != "2" {
		t.Fatalf("client score = %q", v)
	}
	if _, ok := s.Client(9, "score"); ok {
		t.Fatal("client 9 should have no variables")
	}
}

func TestClearEmptiesBothDictionaries(t *testing.T) {
	s := NewStore()
	s.MergeGlobal("a", Entry{Value: "1", Timestamp: 1})
	s.MergeClient(2, "b", Entry{Value: "2", Timestamp: 1})

	s.Clear()

	if _, ok := s.Global("a"); ok {
		t.Fatal("global survived Clear")
	}
	if _, ok := s.Client(2, "b"); ok {
		t.Fatal("client var survived Clear")
	}
}
