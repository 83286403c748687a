package fusion

import (
	"math"

	"diagnosis-service/internal/models"
)

// degenerateEpsilon ниже этого значения 1-K нормировка Демпстера не выполняется
const degenerateEpsilon = 1e-12

// Discount ослабляет функцию масс с коэффициентом w в [0, 1]:
// m'(A) = w*m(A), m'(theta) = w*m(theta) + 1 - w.
// При w = 0 вся масса уходит в theta.
func Discount(m models.BeliefMass, w float64) models.BeliefMass {
	w = math.Max(0, math.Min(1, w))

	out := make(models.BeliefMass, len(m)+1)
	for h, v := range m {
		if h == models.ThetaKey {
			continue
		}
		out[h] = w * v
	}
	out[models.ThetaKey] = w*m.Theta() + 1 - w
	return out
}

// Combine объединяет две функции масс по правилу Демпстера.
// Возвращает результат, коэффициент конфликта K и признак вырожденной пары:
// при K = 1 нормировка невозможна, и пара усредняется.
func Combine(m1, m2 models.BeliefMass) (models.BeliefMass, float64, bool) {
	hypotheses := make(map[string]struct{}, len(m1)+len(m2))
	for h := range m1 {
		if h != models.ThetaKey {
			hypotheses[h] = struct{}{}
		}
	}
	for h := range m2 {
		if h != models.ThetaKey {
			hypotheses[h] = struct{}{}
		}
	}

	t1, t2 := m1.Theta(), m2.Theta()
	var sum1, sum2, agree float64
	for h := range hypotheses {
		sum1 += m1[h]
		sum2 += m2[h]
		agree += m1[h] * m2[h]
	}
	// Масса на парах несовместных синглтонов
	k := sum1*sum2 - agree
	if k < 0 {
		k = 0
	}

	if 1-k < degenerateEpsilon {
		out := make(models.BeliefMass, len(hypotheses)+1)
		for h := range hypotheses {
			out[h] = (m1[h] + m2[h]) / 2
		}
		out[models.ThetaKey] = (t1 + t2) / 2
		return out, 1, true
	}

	norm := 1 - k
	out := make(models.BeliefMass, len(hypotheses)+1)
	for h := range hypotheses {
		a, b := m1[h], m2[h]
		out[h] = (a*b + a*t2 + t1*b) / norm
	}
	out[models.ThetaKey] = t1 * t2 / norm
	return out, k, false
}

// CombineAll последовательно объединяет функции масс слева направо.
// Итоговый конфликт 1 - П(1 - K_i) равен доле массы, потерянной на всех шагах.
func CombineAll(masses []models.BeliefMass) (combined models.BeliefMass, conflict float64, pairwise []float64, degenerate int) {
	pairwise = make([]float64, 0)
	if len(masses) == 0 {
		return models.BeliefMass{models.ThetaKey: 1}, 0, pairwise, 0
	}

	combined = masses[0].Clone()
	retained := 1.0
	for _, m := range masses[1:] {
		next, k, flat := Combine(combined, m)
		if flat {
			degenerate++
		}
		pairwise = append(pairwise, k)
		retained *= 1 - k
		combined = next
	}
	return combined, 1 - retained, pairwise, degenerate
}
