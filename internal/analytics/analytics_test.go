package analytics

import (
	"math"
	"testing"
)

func TestAccumulator_Add(t *testing.T) {
	acc := NewAccumulator()

	values := []float64{10, 20, 30, 40, 50}
	for _, v := range values {
		acc.Add(v)
	}

	if acc.Count() != 5 {
		t.Errorf("Expected count 5, got %d", acc.Count())
	}

	expectedMean := 30.0
	if math.Abs(acc.Mean()-expectedMean) > 0.001 {
		t.Errorf("Expected mean %.2f, got %.2f", expectedMean, acc.Mean())
	}
	if acc.Min() != 10 || acc.Max() != 50 {
		t.Errorf("Expected min/max 10/50, got %.2f/%.2f", acc.Min(), acc.Max())
	}
}

func TestAccumulator_StdDev(t *testing.T) {
	acc := NewAccumulator()

	// Same value - stddev should be 0
	for i := 0; i < 5; i++ {
		acc.Add(50)
	}

	if acc.StdDev() != 0 {
		t.Errorf("Expected stddev 0 for identical values, got %.4f", acc.StdDev())
	}

	acc2 := NewAccumulator()
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		acc2.Add(v)
	}

	// Sample stddev of [2,4,4,4,5,5,7,9] is sqrt(32/7)
	expected := math.Sqrt(32.0 / 7.0)
	if math.Abs(acc2.StdDev()-expected) > 1e-9 {
		t.Errorf("Expected stddev %.6f, got %.6f", expected, acc2.StdDev())
	}
}

func TestAccumulator_LargeOffsetStability(t *testing.T) {
	acc := NewAccumulator()

	// Large offset with tiny spread loses precision with sum-of-squares
	for _, v := range []float64{1e9 + 4, 1e9 + 7, 1e9 + 13, 1e9 + 16} {
		acc.Add(v)
	}

	if math.Abs(acc.Variance()-30.0) > 1e-6 {
		t.Errorf("Expected variance 30, got %.9f", acc.Variance())
	}
}

func TestAccumulator_ZScore(t *testing.T) {
	acc := NewAccumulator()
	for i := 0; i < 50; i++ {
		acc.Add(50.0)
	}

	// Zero stddev must not divide by zero
	if z := acc.ZScore(60.0); z != 0 {
		t.Errorf("Expected z-score 0 with zero stddev, got %.2f", z)
	}

	acc2 := NewAccumulator()
	for i := 0; i < 50; i++ {
		acc2.Add(float64(40 + i%20))
	}
	if z := acc2.ZScore(100.0); z < 2.0 {
		t.Errorf("Expected outlier z-score above 2, got %.2f", z)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}

	if p := Percentile(sorted, 50); p != 3 {
		t.Errorf("Expected p50 3, got %.2f", p)
	}
	if p := Percentile(sorted, 0); p != 1 {
		t.Errorf("Expected p0 1, got %.2f", p)
	}
	if p := Percentile(sorted, 100); p != 5 {
		t.Errorf("Expected p100 5, got %.2f", p)
	}
	// index = 0.05*4 = 0.2 -> 1 + 0.2
	if p := Percentile(sorted, 5); math.Abs(p-1.2) > 1e-9 {
		t.Errorf("Expected p5 1.2, got %.4f", p)
	}
	if !math.IsNaN(Percentile(nil, 50)) {
		t.Error("Expected NaN for empty input")
	}
}

func TestSummarize_ConstantValues(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 4.2
	}

	b, ok := Summarize(values)
	if !ok {
		t.Fatal("Expected summary for non-empty input")
	}
	if b.Std != 0 {
		t.Errorf("Expected std 0, got %.6f", b.Std)
	}
	if b.Mean != 4.2 || b.P5 != 4.2 || b.P95 != 4.2 {
		t.Errorf("Expected mean=p5=p95=4.2, got %.6f/%.6f/%.6f", b.Mean, b.P5, b.P95)
	}
	if b.SampleCount != 20 {
		t.Errorf("Expected sample count 20, got %d", b.SampleCount)
	}
}

func TestSummarize_Empty(t *testing.T) {
	if _, ok := Summarize(nil); ok {
		t.Error("Expected no summary for empty input")
	}
}

func BenchmarkAccumulatorAdd(b *testing.B) {
	acc := NewAccumulator()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		acc.Add(float64(i % 100))
	}
}

func BenchmarkSummarize(b *testing.B) {
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i % 97)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Summarize(values)
	}
}
