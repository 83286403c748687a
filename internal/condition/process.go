package condition

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"diagnosis-service/internal/baseline"
	"diagnosis-service/internal/models"
)

// ProcessSlice нормализует срез данных. Ошибка ErrUnknownCondition сопровождается
// результатом со статусом unknown_condition.
func (n *Normalizer) ProcessSlice(slice models.DataSlice, method models.Method, overrides *models.NormalizationOverrides) (models.NormalizedResult, error) {
	result, err := n.process(slice, method, overrides)
	if err != nil {
		return result, err
	}

	n.history.Append(func(id uint64) models.NormalizationRecord {
		return models.NormalizationRecord{ID: id, RecordedAt: n.now(), Slice: slice, Result: result}
	})
	return result, nil
}

// ProcessBatch последовательно нормализует срезы. Ошибка одного среза не прерывает
// пакет: она отражается в статусе его результата.
func (n *Normalizer) ProcessBatch(slices []models.DataSlice, method models.Method) []models.NormalizedResult {
	results := make([]models.NormalizedResult, 0, len(slices))
	for _, slice := range slices {
		result, err := n.ProcessSlice(slice, method, nil)
		if err != nil && result.Status == "" {
			result.Status = models.SliceInvalidInput
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func (n *Normalizer) process(slice models.DataSlice, method models.Method, overrides *models.NormalizationOverrides) (models.NormalizedResult, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if method == "" {
		method = n.config.DefaultMethod
	}

	result := models.NormalizedResult{
		Method:     method,
		Component:  slice.Component,
		DeviceCode: slice.DeviceCode,
		Timestamp:  slice.Timestamp,
	}

	if err := validateSlice(slice, method); err != nil {
		result.Status = models.SliceInvalidInput
		result.Error = err.Error()
		return result, err
	}
	if err := validateOverrides(overrides); err != nil {
		result.Status = models.SliceInvalidInput
		result.Error = err.Error()
		return result, err
	}

	conditionID, source, err := n.resolveConditionLocked(slice)
	if err != nil {
		result.Status = models.SliceUnknownCondition
		result.Error = err.Error()
		n.logger.Debug("condition not resolved",
			zap.String("component", slice.Component),
			zap.String("condition", slice.ConditionID),
		)
		return result, err
	}
	result.ConditionID = conditionID
	result.ConditionSource = source

	features := make(map[string]models.NormalizedFeature, len(slice.Features))
	overall := models.StateUnknown

	n.baselines.Read(func(r baseline.Reader) {
		for _, sample := range slice.Samples() {
			nf := n.normalizeFeature(r, conditionID, sample, method, overrides)
			if nf.State.Rank() > overall.Rank() {
				overall = nf.State
			}
			features[sample.Name] = nf
		}
	})

	result.Status = models.SliceOK
	result.Features = features
	result.OverallState = overall
	return result, nil
}

func validateSlice(slice models.DataSlice, method models.Method) error {
	if !method.Valid() {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidInput, method)
	}
	if slice.Component == "" {
		return fmt.Errorf("%w: component is required", ErrInvalidInput)
	}
	if len(slice.Features) == 0 {
		return fmt.Errorf("%w: features are required", ErrInvalidInput)
	}
	for name, v := range slice.Features {
		if name == "" {
			return fmt.Errorf("%w: empty feature name", ErrInvalidInput)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %q is not finite", ErrInvalidInput, name)
		}
	}
	return nil
}

// validateOverrides проверяет подмены до обработки: некорректные пороги или
// базовые линии делают вызов недействительным
func validateOverrides(overrides *models.NormalizationOverrides) error {
	if overrides == nil {
		return nil
	}
	for name, t := range overrides.Thresholds {
		if !t.Valid() {
			return fmt.Errorf("%w: override for %q must satisfy low <= high", ErrInvalidThreshold, name)
		}
	}
	for name, b := range overrides.Baselines {
		if err := baseline.Validate(b); err != nil {
			return fmt.Errorf("%w: override baseline for %q: %v", ErrInvalidInput, name, err)
		}
	}
	return nil
}

func (n *Normalizer) normalizeFeature(
	r baseline.Reader,
	conditionID string,
	sample models.FeatureSample,
	method models.Method,
	overrides *models.NormalizationOverrides,
) models.NormalizedFeature {
	nf := models.NormalizedFeature{Raw: sample.Value}

	b, source, ok := models.ConditionBaseline{}, models.BaselineNone, false
	if overrides != nil {
		if ob, found := overrides.Baselines[sample.Name]; found {
			b, source, ok = ob, models.BaselineFromOverride, true
		}
	}
	if !ok {
		b, source, ok = r.Lookup(conditionID, sample.Name)
	}
	nf.BaselineSource = source

	if !ok {
		// Без базовой линии значение передается как есть
		nf.Normalized = sample.Value
		nf.State = models.StateUnknown
		nf.Flags = append(nf.Flags, models.FlagNoBaseline)
		return nf
	}

	bc := b
	nf.Baseline = &bc
	if !b.Consistent() {
		nf.Flags = append(nf.Flags, models.FlagBaselineAnomaly)
	}

	value, flag := n.normalizeValue(sample.Value, b, method)
	if flag != "" {
		nf.Flags = append(nf.Flags, flag)
	}
	nf.Normalized = value

	t := n.thresholdLocked(conditionID, sample.Name, method, overrides)
	score := value
	if method == models.MethodZScore {
		score = math.Abs(value)
	}
	nf.State = Classify(score, t)
	return nf
}

// normalizeValue возвращает нормализованное значение и флаг вырожденной базовой линии
func (n *Normalizer) normalizeValue(value float64, b models.ConditionBaseline, method models.Method) (float64, string) {
	eps := n.config.Epsilon

	switch method {
	case models.MethodZScore:
		if b.Std < eps {
			diff := value - b.Mean
			if math.Abs(diff) < eps {
				return 0, models.FlagZeroStd
			}
			return math.Copysign(n.config.ZScoreCap, diff), models.FlagZeroStd
		}
		return (value - b.Mean) / b.Std, ""
	default:
		if math.Abs(b.Mean) < eps {
			if math.Abs(value) < eps {
				return 1, models.FlagZeroMean
			}
			return value / eps, models.FlagZeroMean
		}
		return value / b.Mean, ""
	}
}

func (n *Normalizer) thresholdLocked(conditionID, feature string, method models.Method, overrides *models.NormalizationOverrides) models.AdaptiveThreshold {
	if overrides != nil {
		if t, ok := overrides.Thresholds[feature]; ok {
			return t
		}
	}
	if t, ok := n.thresholds[thresholdKey{condition: conditionID, feature: feature}]; ok {
		return t
	}
	if t, ok := n.thresholds[thresholdKey{condition: baseline.GlobalConditionID, feature: feature}]; ok {
		return t
	}
	return DefaultThreshold(method)
}

// Classify относит значение к интервалу normal/warning/danger.
// На границах интервалов выбирается более тяжелое состояние; значение вне всех
// интервалов относится к ближайшему.
func Classify(value float64, t models.AdaptiveThreshold) models.FeatureState {
	buckets := []struct {
		state models.FeatureState
		r     models.Range
	}{
		{models.StateDanger, t.Danger},
		{models.StateWarning, t.Warning},
		{models.StateNormal, t.Normal},
	}

	for _, b := range buckets {
		if b.r.Contains(value) {
			return b.state
		}
	}

	best, bestDist := models.StateDanger, math.Inf(1)
	for _, b := range buckets {
		if d := b.r.Distance(value); d < bestDist {
			best, bestDist = b.state, d
		}
	}
	return best
}

func (n *Normalizer) resolveConditionLocked(slice models.DataSlice) (string, string, error) {
	if slice.ConditionID != "" {
		if _, ok := n.conditions[slice.ConditionID]; ok || slice.ConditionID == baseline.GlobalConditionID {
			return slice.ConditionID, models.ConditionExplicit, nil
		}
		return "", "", fmt.Errorf("%w: %s", ErrUnknownCondition, slice.ConditionID)
	}

	if id, ok := n.inferLocked(slice.Component, slice.Features); ok {
		return id, models.ConditionInferred, nil
	}
	return "", "", fmt.Errorf("%w: no condition matches component %q", ErrUnknownCondition, slice.Component)
}

// inferLocked выбирает режим, все ключевые признаки которого присутствуют
// и лежат в заданных диапазонах. Побеждает режим с наибольшим числом ключевых
// признаков, при равенстве меньший id.
func (n *Normalizer) inferLocked(component string, features map[string]float64) (string, bool) {
	var candidates []string
	if n.signatures != nil {
		candidates = append(candidates, n.signatures.ConditionsFor(component)...)
	}
	if len(candidates) == 0 {
		for id := range n.conditions {
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)

	best, bestScore := "", 0
	for _, id := range candidates {
		def, ok := n.conditions[id]
		if !ok || len(def.KeyFeatures) == 0 {
			continue
		}
		if !matches(def, features) {
			continue
		}
		if len(def.KeyFeatures) > bestScore {
			best, bestScore = id, len(def.KeyFeatures)
		}
	}
	return best, best != ""
}

func matches(def models.ConditionDefinition, features map[string]float64) bool {
	for _, kf := range def.KeyFeatures {
		v, ok := features[kf.Feature]
		if !ok || v < kf.Min || v > kf.Max {
			return false
		}
	}
	return true
}

// IsDomainError true для ошибок, которые в пакетном режиме становятся статусом.
// ErrNoBaseline нормализатор не возвращает: отсутствие базовой линии отражается
// флагом FlagNoBaseline у признака. Сентинел распознается для внешних реализаций
// StateSource, оборачивающих его в ошибку.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrUnknownCondition) || errors.Is(err, ErrNoBaseline)
}
