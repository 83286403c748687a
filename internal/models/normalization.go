package models

import "time"

// SliceStatus статус обработки одного среза
type SliceStatus string

const (
	SliceOK               SliceStatus = "ok"
	SliceUnknownCondition SliceStatus = "unknown_condition"
	SliceInvalidInput     SliceStatus = "invalid_input"
)

// Источник режима и базовой линии
const (
	ConditionExplicit = "explicit"
	ConditionInferred = "inferred"

	BaselineFromCondition = "condition"
	BaselineFromGlobal    = "global"
	BaselineFromOverride  = "override"
	BaselineNone          = "none"
)

// Флаги признаков
const (
	FlagNoBaseline      = "no_baseline"
	FlagBaselineAnomaly = "baseline_anomaly"
	FlagZeroStd         = "zero_std"
	FlagZeroMean        = "zero_mean"
)

// NormalizationOverrides подмена порогов и базовых линий на один вызов
type NormalizationOverrides struct {
	Thresholds map[string]AdaptiveThreshold `json:"thresholds,omitempty"`
	Baselines  map[string]ConditionBaseline `json:"baselines,omitempty"`
}

// NormalizedFeature результат нормализации одного признака
type NormalizedFeature struct {
	Raw            float64            `json:"raw"`
	Normalized     float64            `json:"normalized"`
	State          FeatureState       `json:"state"`
	BaselineSource string             `json:"baseline_source"`
	Baseline       *ConditionBaseline `json:"baseline,omitempty"`
	Flags          []string           `json:"flags,omitempty"`
}

// NormalizedResult результат нормализации среза
type NormalizedResult struct {
	Status          SliceStatus                  `json:"status"`
	Error           string                       `json:"error,omitempty"`
	ConditionID     string                       `json:"condition_id,omitempty"`
	ConditionSource string                       `json:"condition_source,omitempty"`
	Method          Method                       `json:"method"`
	Component       string                       `json:"component"`
	DeviceCode      string                       `json:"device_code,omitempty"`
	Timestamp       time.Time                    `json:"timestamp"`
	Features        map[string]NormalizedFeature `json:"features,omitempty"`
	OverallState    FeatureState                 `json:"overall_state,omitempty"`
}

// States возвращает карту признак -> состояние
func (r NormalizedResult) States() map[string]FeatureState {
	states := make(map[string]FeatureState, len(r.Features))
	for name, f := range r.Features {
		states[name] = f.State
	}
	return states
}

// LearnedBaseline базовая линия, рассчитанная при обучении
type LearnedBaseline struct {
	ConditionID string            `json:"condition_id"`
	Feature     string            `json:"feature"`
	Baseline    ConditionBaseline `json:"baseline"`
	Anomaly     bool              `json:"anomaly"`
}

// NormalizationRecord запись истории нормализации
type NormalizationRecord struct {
	ID         uint64           `json:"id"`
	RecordedAt time.Time        `json:"recorded_at"`
	Slice      DataSlice        `json:"slice"`
	Result     NormalizedResult `json:"result"`
}

// NormalizerConfig настройки нормализатора
type NormalizerConfig struct {
	DefaultMethod Method  `json:"default_method" yaml:"default_method"`
	Epsilon       float64 `json:"epsilon" yaml:"epsilon"`
	ZScoreCap     float64 `json:"zscore_cap" yaml:"zscore_cap"`
}

// ThresholdEntry пороги, заданные для пары (режим, признак)
type ThresholdEntry struct {
	ConditionID string            `json:"condition_id"`
	Feature     string            `json:"feature"`
	Thresholds  AdaptiveThreshold `json:"thresholds"`
}
