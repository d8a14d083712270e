package clock

import "testing"

func TestMeanStdInitializesOnFirstSample(t *testing.T) {
	m := NewMeanStd(1.0)
	if m.Ready() {
		t.Fatal("should not be ready before any sample")
	}
	m.Add(5, 1)
	if !m.Ready() {
		t.Fatal("should be ready after one sample")
	}
	if m.Mean() != 5 {
		t.Errorf("expected mean 5 after single sample, got %v", m.Mean())
	}
	if m.StdDev() != 0 {
		t.Errorf("expected zero stddev after single sample, got %v", m.StdDev())
	}
}

func TestMeanStdConvergesToConstant(t *testing.T) {
	m := NewMeanStd(0.5)
	for i := 0; i < 50; i++ {
		m.Add(10, 0.1)
	}
	if diff := m.Mean() - 10; diff > 0.01 || diff < -0.01 {
		t.Errorf("expected mean to converge to 10, got %v", m.Mean())
	}
	if m.StdDev() > 0.01 {
		t.Errorf("expected near-zero stddev for constant input, got %v", m.StdDev())
	}
}
