package condition

import (
	"math"

	"diagnosis-service/internal/models"
)

// DefaultThreshold глобальные пороги метода, если для признака ничего не задано.
// Для zscore пороги применяются к |z|.
func DefaultThreshold(method models.Method) models.AdaptiveThreshold {
	if method == models.MethodZScore {
		return models.AdaptiveThreshold{
			Normal:  models.Range{Low: 0, High: 2},
			Warning: models.Range{Low: 2, High: 3},
			Danger:  models.Range{Low: 3, High: math.MaxFloat64},
		}
	}
	return models.AdaptiveThreshold{
		Normal:  models.Range{Low: 0, High: 1.2},
		Warning: models.Range{Low: 1.2, High: 1.5},
		Danger:  models.Range{Low: 1.5, High: math.MaxFloat64},
	}
}

// DefaultConditions типовые режимы вращающегося агрегата:
// частота вращения в об/мин, загрузка в долях номинала
func DefaultConditions() []models.ConditionDefinition {
	return []models.ConditionDefinition{
		{
			ID:                 "startup",
			Description:        "Пуск и разгон",
			KeyFeatures:        []models.KeyFeature{{Feature: "rotation_speed", Min: 1, Max: 300}},
			TypicalDurationSec: 120,
		},
		{
			ID:          "low_load",
			Description: "Работа на пониженной нагрузке",
			KeyFeatures: []models.KeyFeature{
				{Feature: "rotation_speed", Min: 300, Max: 3600},
				{Feature: "load_ratio", Min: 0, Max: 0.4},
			},
			TypicalDurationSec: 3600,
		},
		{
			ID:          "rated_load",
			Description: "Номинальная нагрузка",
			KeyFeatures: []models.KeyFeature{
				{Feature: "rotation_speed", Min: 300, Max: 3600},
				{Feature: "load_ratio", Min: 0.4, Max: 0.9},
			},
			TypicalDurationSec: 28800,
		},
		{
			ID:          "overload",
			Description: "Перегрузка",
			KeyFeatures: []models.KeyFeature{
				{Feature: "rotation_speed", Min: 300, Max: 3600},
				{Feature: "load_ratio", Min: 0.9, Max: 3},
			},
			TypicalDurationSec: 600,
		},
	}
}
