package models

import "time"

// MutationResponse ответ на изменяющую операцию
type MutationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExpertInfo описание зарегистрированного эксперта
type ExpertInfo struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

// ProcessSliceRequest запрос на нормализацию среза
type ProcessSliceRequest struct {
	Slice     DataSlice               `json:"slice"`
	Method    Method                  `json:"method,omitempty"`
	Overrides *NormalizationOverrides `json:"overrides,omitempty"`
}

// ProcessBatchRequest запрос на пакетную нормализацию
type ProcessBatchRequest struct {
	Slices []DataSlice `json:"slices"`
	Method Method      `json:"method,omitempty"`
}

// LearnBaselineRequest запрос на обучение базовых линий
type LearnBaselineRequest struct {
	Samples         []DataSlice `json:"samples"`
	TargetCondition string      `json:"target_condition,omitempty"`
}

// UpdateThresholdRequest запрос на замену порогов
type UpdateThresholdRequest struct {
	ConditionID string            `json:"condition_id"`
	Feature     string            `json:"feature"`
	Thresholds  AdaptiveThreshold `json:"thresholds"`
}

// UpdateWeightRequest запрос на изменение веса эксперта
type UpdateWeightRequest struct {
	Weight *float64 `json:"weight"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
	Uptime    string    `json:"uptime"`
	Experts   int       `json:"experts"`
}
