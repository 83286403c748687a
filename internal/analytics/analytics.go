// Package analytics реализует статистику для обучения базовых линий:
// онлайн-алгоритм Уэлфорда для среднего и дисперсии и процентили с линейной интерполяцией
package analytics

import (
	"math"
	"sort"

	"diagnosis-service/internal/models"
)

const (
	// LowPercentile нижний процентиль базовой линии
	LowPercentile = 5.0
	// HighPercentile верхний процентиль базовой линии
	HighPercentile = 95.0
)

// Accumulator накапливает среднее и дисперсию за один проход (Welford).
// В отличие от суммы квадратов не теряет точность на больших значениях с малым разбросом.
type Accumulator struct {
	count int
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// NewAccumulator создает пустой аккумулятор
func NewAccumulator() *Accumulator {
	return &Accumulator{
		min: math.Inf(1),
		max: math.Inf(-1),
	}
}

// Add добавляет значение
func (a *Accumulator) Add(value float64) {
	a.count++
	delta := value - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (value - a.mean)

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}
}

// Count возвращает количество значений
func (a *Accumulator) Count() int {
	return a.count
}

// Mean возвращает среднее значение
func (a *Accumulator) Mean() float64 {
	return a.mean
}

// Variance возвращает выборочную дисперсию (n-1)
func (a *Accumulator) Variance() float64 {
	if a.count < 2 {
		return 0
	}
	v := a.m2 / float64(a.count-1)
	if v < 0 {
		return 0
	}
	return v
}

// StdDev возвращает стандартное отклонение
func (a *Accumulator) StdDev() float64 {
	return math.Sqrt(a.Variance())
}

// ZScore вычисляет z-score для заданного значения
func (a *Accumulator) ZScore(value float64) float64 {
	stdDev := a.StdDev()
	if stdDev == 0 {
		return 0
	}
	return (value - a.mean) / stdDev
}

// Min минимальное значение
func (a *Accumulator) Min() float64 {
	return a.min
}

// Max максимальное значение
func (a *Accumulator) Max() float64 {
	return a.max
}

// Percentile вычисляет процентиль p (0..100) по отсортированному срезу
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	index := (p / 100.0) * float64(n-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper || sorted[lower] == sorted[upper] {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Summarize рассчитывает базовую линию по набору значений.
// Для пустого набора возвращает false.
func Summarize(values []float64) (models.ConditionBaseline, bool) {
	if len(values) == 0 {
		return models.ConditionBaseline{}, false
	}

	acc := NewAccumulator()
	for _, v := range values {
		acc.Add(v)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return models.ConditionBaseline{
		Mean:        acc.Mean(),
		Std:         acc.StdDev(),
		P5:          Percentile(sorted, LowPercentile),
		P95:         Percentile(sorted, HighPercentile),
		SampleCount: acc.Count(),
	}, true
}
