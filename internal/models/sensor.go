// Package models содержит структуры данных для нормализации признаков и диагностики
package models

import (
	"math"
	"sort"
	"time"
)

// FeatureState классифицированное состояние нормализованного признака
type FeatureState string

const (
	StateNormal  FeatureState = "normal"
	StateWarning FeatureState = "warning"
	StateDanger  FeatureState = "danger"
	// StateUnknown используется, когда для признака нет базовой линии
	StateUnknown FeatureState = "unknown"
)

// Rank возвращает порядок тяжести состояния (чем больше, тем хуже)
func (s FeatureState) Rank() int {
	switch s {
	case StateNormal:
		return 1
	case StateWarning:
		return 2
	case StateDanger:
		return 3
	default:
		return 0
	}
}

// Method метод нормализации
type Method string

const (
	// MethodRatio value / mean
	MethodRatio Method = "ratio"
	// MethodZScore (value - mean) / std
	MethodZScore Method = "zscore"
)

// Valid проверяет, что метод поддерживается
func (m Method) Valid() bool {
	return m == MethodRatio || m == MethodZScore
}

// FeatureSample одно значение признака в момент времени
type FeatureSample struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
}

// DataSlice срез данных с датчиков: набор признаков одного компонента.
// Используется и как входной срез для нормализации, и как исторический образец для обучения.
type DataSlice struct {
	Timestamp   time.Time          `json:"timestamp"`
	Component   string             `json:"component"`
	DeviceCode  string             `json:"device_code,omitempty"`
	ConditionID string             `json:"condition_id,omitempty"`
	Features    map[string]float64 `json:"features"`
}

// Samples раскладывает срез на отдельные значения, отсортированные по имени признака
func (d DataSlice) Samples() []FeatureSample {
	samples := make([]FeatureSample, 0, len(d.Features))
	for name, value := range d.Features {
		samples = append(samples, FeatureSample{
			Name:      name,
			Value:     value,
			Timestamp: d.Timestamp,
			Component: d.Component,
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples
}

// Range замкнутый числовой интервал [Low, High]
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Valid проверяет корректность интервала
func (r Range) Valid() bool {
	if math.IsNaN(r.Low) || math.IsNaN(r.High) {
		return false
	}
	return r.Low <= r.High
}

// Contains проверяет попадание значения в интервал
func (r Range) Contains(v float64) bool {
	return v >= r.Low && v <= r.High
}

// Distance расстояние от значения до интервала (0 внутри)
func (r Range) Distance(v float64) float64 {
	switch {
	case v < r.Low:
		return r.Low - v
	case v > r.High:
		return v - r.High
	default:
		return 0
	}
}

// AdaptiveThreshold пороги normal/warning/danger для пары (режим, признак)
type AdaptiveThreshold struct {
	Normal  Range `json:"normal"`
	Warning Range `json:"warning"`
	Danger  Range `json:"danger"`
}

// Valid проверяет, что все три интервала корректны.
// Непересекаемость интервалов не проверяется.
func (t AdaptiveThreshold) Valid() bool {
	return t.Normal.Valid() && t.Warning.Valid() && t.Danger.Valid()
}

// ConditionBaseline статистический профиль признака в одном режиме работы
type ConditionBaseline struct {
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	P5          float64 `json:"p5"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sample_count,omitempty"`
}

// Consistent проверяет ожидаемое соотношение p5 <= mean <= p95
func (b ConditionBaseline) Consistent() bool {
	return b.P5 <= b.Mean && b.Mean <= b.P95
}

// BaselineSnapshot вложенная карта режим -> признак -> базовая линия
type BaselineSnapshot map[string]map[string]ConditionBaseline

// KeyFeature диапазон ключевого признака, по которому распознается режим
type KeyFeature struct {
	Feature string  `json:"feature" yaml:"feature"`
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
}

// ConditionDefinition описание режима работы оборудования
type ConditionDefinition struct {
	ID                 string       `json:"id" yaml:"id"`
	Description        string       `json:"description" yaml:"description"`
	KeyFeatures        []KeyFeature `json:"key_features" yaml:"key_features"`
	TypicalDurationSec float64      `json:"typical_duration_sec,omitempty" yaml:"typical_duration_sec"`
	ExternalCode       string       `json:"external_code,omitempty" yaml:"external_code"`
}
