package expert

import (
	"context"
	"errors"
	"fmt"
	"math"

	"diagnosis-service/internal/models"
)

// ErrMissingFeature во входных данных нет признака, нужного эксперту
var ErrMissingFeature = errors.New("missing feature")

// Zone интервал значений признака с заключением эксперта.
// Зона действует для значений ниже Below; зоны упорядочены по возрастанию.
type Zone struct {
	Below       float64
	Name        string
	FaultType   string
	Confidence  float64
	Description string
}

// RuleExpert эксперт на таблице зон одного признака
type RuleExpert struct {
	name        string
	description string
	feature     string
	unit        string
	zones       []Zone
	refine      func(data map[string]float64, z Zone) Zone
}

// Description описание эксперта
func (e *RuleExpert) Description() string {
	return e.description
}

// Feature признак, по которому работает эксперт
func (e *RuleExpert) Feature() string {
	return e.feature
}

func (e *RuleExpert) zone(ctx context.Context, data map[string]float64) (Zone, float64, error) {
	if err := ctx.Err(); err != nil {
		return Zone{}, 0, err
	}
	v, ok := data[e.feature]
	if !ok {
		return Zone{}, 0, fmt.Errorf("%s: %w: %s", e.name, ErrMissingFeature, e.feature)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Zone{}, 0, fmt.Errorf("%s: feature %s is not finite", e.name, e.feature)
	}

	z := e.zones[len(e.zones)-1]
	for _, candidate := range e.zones {
		if v < candidate.Below {
			z = candidate
			break
		}
	}
	if e.refine != nil {
		z = e.refine(data, z)
	}
	return z, v, nil
}

// Diagnose возвращает заключение по зоне, в которую попал признак
func (e *RuleExpert) Diagnose(ctx context.Context, data map[string]float64) (models.Opinion, error) {
	z, v, err := e.zone(ctx, data)
	if err != nil {
		return models.Opinion{}, err
	}
	return models.Opinion{
		FaultType:   z.FaultType,
		Description: fmt.Sprintf(z.Description, v, e.unit),
		Confidence:  z.Confidence,
		Evidence: models.Evidence{
			e.feature: models.Number(v),
			"zone":    models.Text(z.Name),
			"unit":    models.Text(e.unit),
		},
	}, nil
}

// BeliefMass масса на диагноз зоны, остаток на theta
func (e *RuleExpert) BeliefMass(ctx context.Context, data map[string]float64) (models.BeliefMass, error) {
	z, _, err := e.zone(ctx, data)
	if err != nil {
		return nil, err
	}
	return models.BeliefMass{
		z.FaultType:     z.Confidence,
		models.ThetaKey: 1 - z.Confidence,
	}, nil
}

// NewVibrationExpert оценивает СКЗ виброскорости (мм/с) по зонам ISO 10816.
// При заметной осевой составляющей дисбаланс уточняется до расцентровки.
func NewVibrationExpert() *RuleExpert {
	return &RuleExpert{
		name:        "vibration",
		description: "Vibration severity zones (ISO 10816), vibration_rms in mm/s",
		feature:     "vibration_rms",
		unit:        "mm/s",
		zones: []Zone{
			{Below: 2.8, Name: "A", FaultType: models.FaultNormal, Confidence: 0.95, Description: "vibration %.2f %s within zone A"},
			{Below: 4.5, Name: "B", FaultType: models.FaultNormal, Confidence: 0.9, Description: "vibration %.2f %s within zone B, acceptable for long-term operation"},
			{Below: 7.1, Name: "C", FaultType: models.FaultImbalance, Confidence: 0.7, Description: "vibration %.2f %s in zone C, imbalance suspected"},
			{Below: math.Inf(1), Name: "D", FaultType: models.FaultBearingDamage, Confidence: 0.85, Description: "vibration %.2f %s in zone D, bearing damage likely"},
		},
		refine: func(data map[string]float64, z Zone) Zone {
			if z.FaultType != models.FaultImbalance {
				return z
			}
			axial, ok := data["axial_vibration"]
			if !ok || data["vibration_rms"] == 0 || axial/data["vibration_rms"] < 0.5 {
				return z
			}
			z.FaultType = models.FaultMisalignment
			z.Description = "vibration %.2f %s in zone C with high axial component, misalignment suspected"
			return z
		},
	}
}

// NewTemperatureExpert оценивает температуру подшипникового узла (°C)
func NewTemperatureExpert() *RuleExpert {
	return &RuleExpert{
		name:        "temperature",
		description: "Bearing housing temperature limits, temperature in °C",
		feature:     "temperature",
		unit:        "°C",
		zones: []Zone{
			{Below: 60, Name: "normal", FaultType: models.FaultNormal, Confidence: 0.9, Description: "temperature %.1f %s is normal"},
			{Below: 80, Name: "elevated", FaultType: models.FaultLubricationFailure, Confidence: 0.65, Description: "temperature %.1f %s elevated, lubrication degradation suspected"},
			{Below: math.Inf(1), Name: "critical", FaultType: models.FaultOverheating, Confidence: 0.85, Description: "temperature %.1f %s critical, overheating"},
		},
	}
}

// NewCurrentExpert оценивает небаланс фазных токов (%)
func NewCurrentExpert() *RuleExpert {
	return &RuleExpert{
		name:        "current",
		description: "Phase current imbalance, current_imbalance in %",
		feature:     "current_imbalance",
		unit:        "%",
		zones: []Zone{
			{Below: 2, Name: "normal", FaultType: models.FaultNormal, Confidence: 0.9, Description: "current imbalance %.1f %s is normal"},
			{Below: 5, Name: "elevated", FaultType: models.FaultElectrical, Confidence: 0.6, Description: "current imbalance %.1f %s elevated"},
			{Below: math.Inf(1), Name: "critical", FaultType: models.FaultElectrical, Confidence: 0.85, Description: "current imbalance %.1f %s critical, electrical fault likely"},
		},
	}
}

// RegisterDefaults регистрирует встроенных экспертов с весом по умолчанию
func RegisterDefaults(r *Registry) error {
	for _, e := range []*RuleExpert{NewVibrationExpert(), NewTemperatureExpert(), NewCurrentExpert()} {
		if err := r.Register(e.name, DefaultWeight, e); err != nil {
			return err
		}
	}
	return nil
}
