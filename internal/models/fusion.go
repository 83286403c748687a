package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ThetaKey зарезервированный ключ массы "неизвестно / полное множество"
const ThetaKey = "theta"

// FaultUnknown сообщается, когда ни один эксперт не внес значимых свидетельств
const FaultUnknown = "unknown"

// MassTolerance допуск на сумму масс
const MassTolerance = 1e-6

// Типы неисправностей фрейма различения по умолчанию
const (
	FaultNormal             = "normal"
	FaultBearingDamage      = "bearing_damage"
	FaultMisalignment       = "misalignment"
	FaultImbalance          = "imbalance"
	FaultElectrical         = "electrical_fault"
	FaultOverheating        = "overheating"
	FaultLubricationFailure = "lubrication_failure"
)

// DefaultFaultTypes фрейм различения по умолчанию. Порядок определяет разрешение
// равенств масс и голосов.
func DefaultFaultTypes() []string {
	return []string{
		FaultNormal,
		FaultBearingDamage,
		FaultMisalignment,
		FaultImbalance,
		FaultElectrical,
		FaultOverheating,
		FaultLubricationFailure,
	}
}

// BeliefMass функция базовой вероятности (масса доверия) по синглтонам
// фрейма различения плюс theta
type BeliefMass map[string]float64

// Sum сумма всех масс, включая theta
func (m BeliefMass) Sum() float64 {
	var sum float64
	for _, v := range m {
		sum += v
	}
	return sum
}

// Theta масса неопределенности
func (m BeliefMass) Theta() float64 {
	return m[ThetaKey]
}

// Valid проверяет, что массы неотрицательны и в сумме дают 1
func (m BeliefMass) Valid() bool {
	for _, v := range m {
		if v < -MassTolerance || math.IsNaN(v) {
			return false
		}
	}
	return math.Abs(m.Sum()-1) <= MassTolerance
}

// Top возвращает гипотезу-синглтон с наибольшей массой.
// При равенстве выбирается гипотеза, идущая раньше во фрейме.
func (m BeliefMass) Top(frame []string) (string, float64) {
	best, bestMass := "", 0.0
	for _, h := range frame {
		if v := m[h]; v > bestMass+MassTolerance {
			best, bestMass = h, v
		}
	}
	return best, bestMass
}

// Clone возвращает копию
func (m BeliefMass) Clone() BeliefMass {
	out := make(BeliefMass, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EvidenceValue значение в открытой карте свидетельств: число или строка
type EvidenceValue struct {
	num    float64
	text   string
	isText bool
}

// Number создает числовое значение
func Number(v float64) EvidenceValue { return EvidenceValue{num: v} }

// Text создает строковое значение
func Text(s string) EvidenceValue { return EvidenceValue{text: s, isText: true} }

// IsText true для строковых значений
func (v EvidenceValue) IsText() bool { return v.isText }

// Float числовое значение (0 для строк)
func (v EvidenceValue) Float() float64 { return v.num }

// String строковое представление
func (v EvidenceValue) String() string {
	if v.isText {
		return v.text
	}
	return fmt.Sprintf("%g", v.num)
}

// MarshalJSON кодирует значение как число или строку JSON
func (v EvidenceValue) MarshalJSON() ([]byte, error) {
	if v.isText {
		return json.Marshal(v.text)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON принимает число или строку
func (v *EvidenceValue) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*v = Number(num)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("evidence value must be a number or a string: %w", err)
	}
	*v = Text(text)
	return nil
}

// Evidence сырые свидетельства эксперта
type Evidence map[string]EvidenceValue

// Opinion заключение эксперта
type Opinion struct {
	FaultType   string   `json:"fault_type"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Evidence    Evidence `json:"evidence,omitempty"`
}

// ExpertEvidence вклад одного эксперта в итоговую диагностику
type ExpertEvidence struct {
	Expert           string     `json:"expert"`
	Weight           float64    `json:"weight"`
	NormalizedWeight float64    `json:"normalized_weight"`
	Participated     bool       `json:"participated"`
	FaultType        string     `json:"fault_type,omitempty"`
	Opinion          string     `json:"opinion,omitempty"`
	Confidence       float64    `json:"confidence"`
	Evidence         Evidence   `json:"evidence,omitempty"`
	BeliefMass       BeliefMass `json:"belief_mass,omitempty"`
	Error            string     `json:"error,omitempty"`
	DurationMs       float64    `json:"duration_ms"`
}

// ExpertConflict расхождение top-1 диагнозов двух экспертов
type ExpertConflict struct {
	ExpertA    string `json:"expert_a"`
	DiagnosisA string `json:"diagnosis_a"`
	ExpertB    string `json:"expert_b"`
	DiagnosisB string `json:"diagnosis_b"`
}

// ConflictInfo сведения о конфликте свидетельств
type ConflictInfo struct {
	HasConflict    bool             `json:"has_conflict"`
	ConflictDegree float64          `json:"conflict_degree"`
	Conflicts      []ExpertConflict `json:"conflicts"`
}

// Способы разрешения
const (
	ResolutionDempster     = "dempster"
	ResolutionDempsterKept = "dempster_over_vote"
	ResolutionWeightedVote = "weighted_vote"
	ResolutionNoEvidence   = "no_evidence"
)

// VoteResult результат взвешенного голосования
type VoteResult struct {
	Winner string             `json:"winner"`
	Share  float64            `json:"share"`
	Tally  map[string]float64 `json:"tally"`
}

// FusionDetails детали комбинирования
type FusionDetails struct {
	BeliefMass        BeliefMass  `json:"belief_mass"`
	Conflict          float64     `json:"conflict"`
	PairwiseConflicts []float64   `json:"pairwise_conflicts"`
	DegeneratePairs   int         `json:"degenerate_pairs,omitempty"`
	Resolution        string      `json:"resolution"`
	Vote              *VoteResult `json:"vote,omitempty"`
}

// Severity уровень серьезности диагноза
type Severity string

const (
	SeverityNormal    Severity = "normal"
	SeverityAttention Severity = "attention"
	SeverityWarning   Severity = "warning"
	SeverityDanger    Severity = "danger"
)

// Rank порядок серьезности
func (s Severity) Rank() int {
	switch s {
	case SeverityAttention:
		return 1
	case SeverityWarning:
		return 2
	case SeverityDanger:
		return 3
	default:
		return 0
	}
}

// FusionResult итог слияния свидетельств. Не изменяется после создания.
type FusionResult struct {
	DiagnosisID     uint64           `json:"diagnosis_id"`
	FaultType       string           `json:"fault_type"`
	Confidence      float64          `json:"confidence"`
	Severity        Severity         `json:"severity"`
	Recommendations []string         `json:"recommendations"`
	EvidenceSummary []ExpertEvidence `json:"evidence_summary"`
	ConflictInfo    ConflictInfo     `json:"conflict_info"`
	FusionDetails   FusionDetails    `json:"fusion_details"`
	Component       string           `json:"component"`
	DeviceCode      string           `json:"device_code"`
	ConditionID     string           `json:"condition_id,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	DurationMs      float64          `json:"duration_ms"`
}

// DiagnoseRequest запрос на диагностику
type DiagnoseRequest struct {
	SensorData    map[string]float64      `json:"sensor_data"`
	Component     string                  `json:"component"`
	DeviceCode    string                  `json:"device_code"`
	ConditionID   string                  `json:"condition_id,omitempty"`
	Normalize     bool                    `json:"normalize,omitempty"`
	Method        Method                  `json:"method,omitempty"`
	FeatureStates map[string]FeatureState `json:"feature_states,omitempty"`
}

// HistoryRecord запись истории диагностики
type HistoryRecord struct {
	ID        uint64          `json:"id"`
	RequestID string          `json:"request_id"`
	Request   DiagnoseRequest `json:"request"`
	Result    FusionResult    `json:"result"`
}

// FusionConfig настройки движка слияния
type FusionConfig struct {
	ConflictThreshold float64       `json:"conflict_threshold" yaml:"conflict_threshold"`
	MinConfidence     float64       `json:"min_confidence" yaml:"min_confidence"`
	FallbackPenalty   float64       `json:"fallback_penalty" yaml:"fallback_penalty"`
	ExpertTimeout     time.Duration `json:"expert_timeout" yaml:"expert_timeout"`
	FaultTypes        []string      `json:"fault_types" yaml:"fault_types"`
}
