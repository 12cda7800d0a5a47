package metrics

import (
	"sync"
	"testing"
)

func TestGauge(t *testing.T) {
	tests := []struct {
		name     string
		deltas   []int64
		wantLoad int64
		wantPeak int64
	}{
		{"empty", nil, 0, 0},
		{"up and down", []int64{3, 2, -4}, 1, 5},
		{"saturates at zero", []int64{2, -10}, 0, 2},
		{"decrement from zero", []int64{-1, 1}, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Gauge
			for _, d := range tt.deltas {
				g.Add(d)
			}
			if g.Load() != tt.wantLoad {
				t.Errorf("Load() = %d, want %d", g.Load(), tt.wantLoad)
			}
			if g.Peak() != tt.wantPeak {
				t.Errorf("Peak() = %d, want %d", g.Peak(), tt.wantPeak)
			}
		})
	}
}

func TestGaugeConcurrent(t *testing.T) {
	var g Gauge
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Add(1)
			g.Add(-1)
		}()
	}
	wg.Wait()

	if g.Load() != 0 {
		t.Errorf("expected 0 after balanced adds, got %d", g.Load())
	}
	if g.Peak() < 1 || g.Peak() > 100 {
		t.Errorf("peak %d outside [1, 100]", g.Peak())
	}
}

func TestGaugeReset(t *testing.T) {
	var g Gauge
	g.Add(7)
	g.Reset()
	if g.Load() != 0 || g.Peak() != 0 {
		t.Errorf("expected zero after reset, got %d peak %d", g.Load(), g.Peak())
	}
}
