package condition

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"diagnosis-service/internal/analytics"
	"diagnosis-service/internal/baseline"
	"diagnosis-service/internal/models"
)

// LearnBaseline рассчитывает базовые линии по историческим образцам и перезаписывает
// соответствующие записи хранилища целиком.
//
// Если targetCondition задан, все образцы относятся к нему. Иначе режим берется из
// образца или распознается по ключевым признакам; нераспознанные образцы пропускаются,
// а глобальная базовая линия пересчитывается по всем образцам.
func (n *Normalizer) LearnBaseline(ctx context.Context, samples []models.DataSlice, targetCondition string) ([]models.LearnedBaseline, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidInput)
	}

	groups, skipped, err := n.groupSamples(samples, targetCondition)
	if err != nil {
		return nil, err
	}

	learned := summarizeGroups(groups)
	if len(learned) == 0 {
		return nil, fmt.Errorf("%w: no usable samples (%d skipped)", ErrInvalidInput, skipped)
	}

	n.baselines.Replace(learned)

	anomalies := 0
	for _, l := range learned {
		if l.Anomaly {
			anomalies++
		}
	}
	n.logger.Info("baselines learned",
		zap.Int("samples", len(samples)),
		zap.Int("skipped", skipped),
		zap.Int("baselines", len(learned)),
		zap.Int("anomalies", anomalies),
		zap.String("target_condition", targetCondition),
	)

	if n.snapshotter != nil {
		if err := n.snapshotter.SaveBaselines(ctx, n.baselines.Snapshot()); err != nil {
			n.logger.Warn("failed to persist baselines", zap.Error(err))
		}
	}
	return learned, nil
}

func (n *Normalizer) groupSamples(samples []models.DataSlice, targetCondition string) (map[string]map[string][]float64, int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if targetCondition != "" {
		if _, ok := n.conditions[targetCondition]; !ok && targetCondition != baseline.GlobalConditionID {
			return nil, 0, fmt.Errorf("%w: %s", ErrUnknownCondition, targetCondition)
		}
	}

	groups := make(map[string]map[string][]float64)
	add := func(condition, feature string, v float64) {
		features, ok := groups[condition]
		if !ok {
			features = make(map[string][]float64)
			groups[condition] = features
		}
		features[feature] = append(features[feature], v)
	}

	skipped := 0
	for _, sample := range samples {
		condition := targetCondition
		if condition == "" {
			id, _, err := n.resolveConditionLocked(sample)
			if err != nil {
				skipped++
				continue
			}
			condition = id
		}

		for name, v := range sample.Features {
			if name == "" || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			add(condition, name, v)
			if targetCondition == "" && condition != baseline.GlobalConditionID {
				add(baseline.GlobalConditionID, name, v)
			}
		}
	}
	return groups, skipped, nil
}

func summarizeGroups(groups map[string]map[string][]float64) []models.LearnedBaseline {
	learned := make([]models.LearnedBaseline, 0)
	for condition, features := range groups {
		for name, values := range features {
			b, ok := analytics.Summarize(values)
			if !ok {
				continue
			}
			learned = append(learned, models.LearnedBaseline{
				ConditionID: condition,
				Feature:     name,
				Baseline:    b,
				Anomaly:     !b.Consistent(),
			})
		}
	}
	sort.Slice(learned, func(i, j int) bool {
		if learned[i].ConditionID != learned[j].ConditionID {
			return learned[i].ConditionID < learned[j].ConditionID
		}
		return learned[i].Feature < learned[j].Feature
	})
	return learned
}
