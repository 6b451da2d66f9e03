package training

import (
	"math"
	"testing"
)

func TestHardestNegative(t *testing.T) {
	idx, loss := HardestNegative(0.5, []float64{0.1, 0.9, 0.3})
	if idx != 1 {
		t.Fatalf("index = %d, want 1", idx)
	}
	if math.Abs(loss-0.4) > 1e-12 {
		t.Fatalf("loss = %v, want 0.4", loss)
	}
	if !ShouldUpdate(loss, 0.123) {
		t.Fatal("0.4 > -0.123 should trigger an update")
	}
}

func TestMarginGateSkips(t *testing.T) {
	idx, loss := HardestNegative(0.9, []float64{0.1})
	if idx != 0 || math.Abs(loss+0.8) > 1e-12 {
		t.Fatalf("got index %d loss %v, want 0 and -0.8", idx, loss)
	}
	if ShouldUpdate(loss, 0.5) {
		t.Fatal("-0.8 <= -0.5 must not update")
	}
}

func TestHardestNegativeTies(t *testing.T) {
	if idx, _ := HardestNegative(0, []float64{0.2, 0.7, 0.7}); idx != 1 {
		t.Fatalf("ties should pick the first maximum, got %d", idx)
	}
}

func TestHardestNegativeNaN(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name string
		bad  []float64
		idx  int
	}{
		{"nan after finite", []float64{0.1, nan}, 1},
		{"nan first", []float64{nan, 0.9}, 0},
		{"first nan wins", []float64{0.3, nan, 0.8, nan}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx, loss := HardestNegative(0.5, tc.bad)
			if idx != tc.idx {
				t.Fatalf("index = %d, want %d", idx, tc.idx)
			}
			if !math.IsNaN(loss) {
				t.Fatalf("loss = %v, want NaN", loss)
			}
			if ShouldUpdate(loss, 1) {
				t.Fatal("a NaN loss must not update")
			}
		})
	}
}

func TestShouldUpdateBoundary(t *testing.T) {
	cases := []struct {
		loss, margin float64
		want         bool
	}{
		{-0.5, 0.5, false},
		{-0.499, 0.5, true},
		{0, 0, false},
		{1e-9, 0, true},
		{math.NaN(), 0.1, false},
	}
	for _, tc := range cases {
		if got := ShouldUpdate(tc.loss, tc.margin); got != tc.want {
			t.Errorf("ShouldUpdate(%v, %v) = %v, want %v", tc.loss, tc.margin, got, tc.want)
		}
	}
}

func TestAnnealedTemperature(t *testing.T) {
	const maxEpoch = 5
	if got := AnnealedTemperature(0, maxEpoch); got != 1.0 {
		t.Fatalf("epoch 0: %v, want 1", got)
	}
	if got := AnnealedTemperature(maxEpoch-1, maxEpoch); math.Abs(got-0.01) > 1e-12 {
		t.Fatalf("last epoch: %v, want 0.01", got)
	}
	prev := math.Inf(1)
	for e := 0; e < maxEpoch; e++ {
		got := AnnealedTemperature(e, maxEpoch)
		if got >= prev {
			t.Fatalf("epoch %d: %v not below %v", e, got, prev)
		}
		prev = got
	}
	if got := AnnealedTemperature(0, 1); got != 1.0 {
		t.Fatalf("single epoch: %v, want 1", got)
	}
}

func TestRunningAverage(t *testing.T) {
	avg := RunningAverage(2, 0, 0.99)
	if avg != 2 {
		t.Fatalf("first value should be taken as-is, got %v", avg)
	}
	avg = RunningAverage(4, avg, 0.99)
	if math.Abs(avg-2.02) > 1e-12 {
		t.Fatalf("got %v, want 2.02", avg)
	}
	if got := RunningAverage(100, 0, 0.99); got != 12 {
		t.Fatalf("should clip at 12, got %v", got)
	}
}
