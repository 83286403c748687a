package fusion

import (
	"diagnosis-service/internal/models"
)

// Пороги уверенности для шкалы серьезности
const (
	DangerConfidence  = 0.8
	WarningConfidence = 0.6
)

type vote struct {
	expert string
	fault  string
	weight float64
}

// weightedVote подсчитывает голоса top-1 диагнозов экспертов с их весами.
// Равенство голосов разрешается порядком фрейма, диагнозы вне фрейма идут после него
// по алфавиту. Голоса "unknown" не учитываются. Возвращает nil, если суммарный вес нулевой.
func weightedVote(votes []vote, frame []string) *models.VoteResult {
	tally := make(map[string]float64)
	var total float64
	for _, v := range votes {
		if v.fault == "" || v.fault == models.FaultUnknown || v.weight <= 0 {
			continue
		}
		tally[v.fault] += v.weight
		total += v.weight
	}
	if total <= 0 {
		return nil
	}

	winner, best := "", 0.0
	for _, h := range extendFrame(frame, models.BeliefMass(tally)) {
		if w, ok := tally[h]; ok && w > best {
			winner, best = h, w
		}
	}
	return &models.VoteResult{
		Winner: winner,
		Share:  best / total,
		Tally:  tally,
	}
}

// pairwiseConflicts перечисляет все пары экспертов с разными top-1 диагнозами
func pairwiseConflicts(votes []vote) []models.ExpertConflict {
	conflicts := make([]models.ExpertConflict, 0)
	for i := 0; i < len(votes); i++ {
		for j := i + 1; j < len(votes); j++ {
			a, b := votes[i], votes[j]
			if a.fault == b.fault {
				continue
			}
			conflicts = append(conflicts, models.ExpertConflict{
				ExpertA:    a.expert,
				DiagnosisA: a.fault,
				ExpertB:    b.expert,
				DiagnosisB: b.fault,
			})
		}
	}
	return conflicts
}

// Severity определяет серьезность по диагнозу, уверенности и состояниям признаков.
// Признак в danger поднимает серьезность до danger, признак в warning до attention.
func Severity(faultType string, confidence float64, states map[string]models.FeatureState) models.Severity {
	severity := models.SeverityNormal
	switch {
	case faultType == models.FaultNormal || faultType == models.FaultUnknown:
	case confidence >= DangerConfidence:
		severity = models.SeverityDanger
	case confidence >= WarningConfidence:
		severity = models.SeverityWarning
	default:
		severity = models.SeverityAttention
	}

	worst := models.StateUnknown
	for _, s := range states {
		if s.Rank() > worst.Rank() {
			worst = s
		}
	}
	switch {
	case worst == models.StateDanger:
		severity = models.SeverityDanger
	case worst == models.StateWarning && severity.Rank() < models.SeverityAttention.Rank():
		severity = models.SeverityAttention
	}
	return severity
}

var faultActions = map[string][]string{
	models.FaultNormal: {
		"Continue routine monitoring",
	},
	models.FaultBearingDamage: {
		"Inspect bearings and run envelope spectrum analysis",
		"Check lubricant condition for metal particles",
	},
	models.FaultMisalignment: {
		"Check shaft alignment with a laser alignment tool",
		"Inspect coupling and foundation bolts",
	},
	models.FaultImbalance: {
		"Check rotor for deposits or missing balance weights",
		"Perform field balancing",
	},
	models.FaultElectrical: {
		"Measure phase voltages and currents",
		"Inspect stator winding insulation and terminal connections",
	},
	models.FaultOverheating: {
		"Check cooling system and ambient temperature",
		"Reduce load until temperature returns to normal",
	},
	models.FaultLubricationFailure: {
		"Check lubricant level and quality",
		"Relubricate according to the maintenance schedule",
	},
	models.FaultUnknown: {
		"Insufficient evidence: verify sensor connectivity and expert configuration",
	},
}

var severityActions = map[models.Severity]string{
	models.SeverityDanger:    "Stop the unit and inspect immediately",
	models.SeverityWarning:   "Schedule maintenance within 24 hours",
	models.SeverityAttention: "Increase monitoring frequency",
}

// Recommendations возвращает рекомендации по диагнозу и серьезности
func Recommendations(faultType string, severity models.Severity) []string {
	recs := make([]string, 0, 4)
	if action, ok := severityActions[severity]; ok {
		recs = append(recs, action)
	}
	actions, ok := faultActions[faultType]
	if !ok {
		actions = faultActions[models.FaultUnknown]
	}
	return append(recs, actions...)
}
