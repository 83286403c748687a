package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosis-service/internal/models"
)

func TestDiscount_PreservesMass(t *testing.T) {
	m := models.BeliefMass{models.FaultBearingDamage: 0.6, models.FaultImbalance: 0.25, models.ThetaKey: 0.15}

	for _, w := range []float64{0, 0.1, 0.5, 0.77, 1} {
		d := Discount(m, w)
		assert.InDelta(t, 1.0, d.Sum(), models.MassTolerance, "w=%v", w)
		assert.InDelta(t, w*0.6, d[models.FaultBearingDamage], 1e-12)
	}

	full := Discount(m, 0)
	assert.Equal(t, 1.0, full.Theta())
	assert.Equal(t, 0.0, full[models.FaultBearingDamage])
}

func TestCombine_FullAgreement(t *testing.T) {
	m1 := models.BeliefMass{models.FaultNormal: 1}
	m2 := models.BeliefMass{models.FaultNormal: 1}

	out, k, degenerate := Combine(m1, m2)
	assert.False(t, degenerate)
	assert.Equal(t, 0.0, k)
	assert.InDelta(t, 1.0, out[models.FaultNormal], 1e-12)
	assert.InDelta(t, 0.0, out.Theta(), 1e-12)
}

func TestCombine_DisjointCertainBeliefs(t *testing.T) {
	m1 := models.BeliefMass{models.FaultBearingDamage: 1}
	m2 := models.BeliefMass{models.FaultElectrical: 1}

	out, k, degenerate := Combine(m1, m2)
	assert.True(t, degenerate)
	assert.Equal(t, 1.0, k)
	assert.True(t, out.Valid())
	assert.Equal(t, 0.5, out[models.FaultBearingDamage])
	assert.Equal(t, 0.5, out[models.FaultElectrical])
}

func TestCombine_HighConfidenceDisagreement(t *testing.T) {
	m1 := models.BeliefMass{models.FaultBearingDamage: 0.85, models.ThetaKey: 0.15}
	m2 := models.BeliefMass{models.FaultElectrical: 0.80, models.ThetaKey: 0.20}

	out, k, _ := Combine(m1, m2)
	assert.InDelta(t, 0.68, k, 1e-12)
	assert.InDelta(t, 0.17/0.32, out[models.FaultBearingDamage], 1e-9)
	assert.InDelta(t, 0.12/0.32, out[models.FaultElectrical], 1e-9)
	assert.InDelta(t, 0.03/0.32, out.Theta(), 1e-9)
}

func TestCombine_ZeroWeightDoesNotAffectOthers(t *testing.T) {
	silenced := Discount(models.BeliefMass{models.FaultOverheating: 0.9, models.ThetaKey: 0.1}, 0)
	other := models.BeliefMass{models.FaultImbalance: 0.7, models.FaultMisalignment: 0.1, models.ThetaKey: 0.2}

	out, k, _ := Combine(silenced, other)
	assert.Equal(t, 0.0, k)
	for h, v := range other {
		assert.InDelta(t, v, out[h], 1e-12, h)
	}
	assert.Equal(t, 0.0, out[models.FaultOverheating])
}

func TestCombineAll_MassConservation(t *testing.T) {
	masses := []models.BeliefMass{
		{models.FaultBearingDamage: 0.5, models.FaultImbalance: 0.2, models.ThetaKey: 0.3},
		{models.FaultBearingDamage: 0.3, models.FaultElectrical: 0.4, models.ThetaKey: 0.3},
		{models.FaultNormal: 0.6, models.ThetaKey: 0.4},
		Discount(models.BeliefMass{models.FaultOverheating: 0.9, models.ThetaKey: 0.1}, 0.4),
	}

	combined, conflict, pairwise, degenerate := CombineAll(masses)
	require.Len(t, pairwise, 3)
	assert.Zero(t, degenerate)
	assert.InDelta(t, 1.0, combined.Sum(), models.MassTolerance)
	assert.True(t, combined.Valid())

	retained := 1.0
	for _, k := range pairwise {
		assert.GreaterOrEqual(t, k, 0.0)
		assert.LessOrEqual(t, k, 1.0)
		retained *= 1 - k
	}
	assert.InDelta(t, 1-retained, conflict, 1e-12)
}

func TestCombineAll_SingleAndEmpty(t *testing.T) {
	m := models.BeliefMass{models.FaultNormal: 0.9, models.ThetaKey: 0.1}
	combined, conflict, pairwise, _ := CombineAll([]models.BeliefMass{m})
	assert.Equal(t, m, combined)
	assert.Zero(t, conflict)
	assert.Empty(t, pairwise)

	combined, _, _, _ = CombineAll(nil)
	assert.Equal(t, 1.0, combined.Theta())
}

func TestCombineAll_TotalConflictForTwoEqualsK(t *testing.T) {
	m1 := models.BeliefMass{models.FaultImbalance: 0.6, models.ThetaKey: 0.4}
	m2 := models.BeliefMass{models.FaultMisalignment: 0.5, models.ThetaKey: 0.5}

	_, conflict, pairwise, _ := CombineAll([]models.BeliefMass{m1, m2})
	require.Len(t, pairwise, 1)
	assert.InDelta(t, pairwise[0], conflict, 1e-12)
	assert.False(t, math.IsNaN(conflict))
}

func BenchmarkCombineAll(b *testing.B) {
	masses := []models.BeliefMass{
		{models.FaultBearingDamage: 0.5, models.FaultImbalance: 0.2, models.ThetaKey: 0.3},
		{models.FaultBearingDamage: 0.3, models.FaultElectrical: 0.4, models.ThetaKey: 0.3},
		{models.FaultNormal: 0.6, models.ThetaKey: 0.4},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CombineAll(masses)
	}
}
