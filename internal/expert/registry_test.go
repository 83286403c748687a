package expert

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosis-service/internal/models"
)

func TestRegistry_RegisterAndList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("vibration", 1.0, NewVibrationExpert()))
	require.NoError(t, r.Register("temperature", 0.5, NewTemperatureExpert()))
	require.NoError(t, r.Register("current", 2.0, NewCurrentExpert()))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "vibration", list[0].Name)
	assert.Equal(t, "temperature", list[1].Name)
	assert.Equal(t, "current", list[2].Name)
	assert.Equal(t, 0.5, list[1].Weight)
	assert.NotEmpty(t, list[0].Info().Description)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("vibration", 1.0, NewVibrationExpert()))

	assert.ErrorIs(t, r.Register("vibration", 1.0, NewVibrationExpert()), ErrExpertExists)
	assert.ErrorIs(t, r.Register("", 1.0, NewVibrationExpert()), ErrInvalidExpert)
	assert.ErrorIs(t, r.Register("nil", 1.0, nil), ErrInvalidExpert)
	assert.ErrorIs(t, r.Register("neg", -1, NewVibrationExpert()), ErrInvalidWeight)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UpdateWeight(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("vibration", 1.0, NewVibrationExpert()))

	require.NoError(t, r.UpdateWeight("vibration", 0))
	e, ok := r.Get("vibration")
	require.True(t, ok)
	assert.Equal(t, 0.0, e.Weight)

	assert.ErrorIs(t, r.UpdateWeight("vibration", -0.1), ErrInvalidWeight)
	assert.ErrorIs(t, r.UpdateWeight("vibration", math.NaN()), ErrInvalidWeight)
	assert.ErrorIs(t, r.UpdateWeight("missing", 1), ErrExpertNotFound)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))

	require.NoError(t, r.Unregister("temperature"))
	assert.ErrorIs(t, r.Unregister("temperature"), ErrExpertNotFound)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "vibration", list[0].Name)
	assert.Equal(t, "current", list[1].Name)
}

func TestRegistry_ListIsCopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))

	list := r.List()
	list[0].Weight = 42

	e, _ := r.Get(list[0].Name)
	assert.Equal(t, DefaultWeight, e.Weight)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.UpdateWeight("vibration", float64(i%3))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, r.Len())
}

func TestRuleExperts(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		expert     *RuleExpert
		data       map[string]float64
		wantFault  string
		wantConfid float64
	}{
		{"vibration zone B", NewVibrationExpert(), map[string]float64{"vibration_rms": 3.2}, models.FaultNormal, 0.9},
		{"vibration zone C", NewVibrationExpert(), map[string]float64{"vibration_rms": 5.0}, models.FaultImbalance, 0.7},
		{"vibration zone C axial", NewVibrationExpert(), map[string]float64{"vibration_rms": 5.0, "axial_vibration": 3.0}, models.FaultMisalignment, 0.7},
		{"vibration zone D", NewVibrationExpert(), map[string]float64{"vibration_rms": 9.3}, models.FaultBearingDamage, 0.85},
		{"temperature normal", NewTemperatureExpert(), map[string]float64{"temperature": 45}, models.FaultNormal, 0.9},
		{"temperature elevated", NewTemperatureExpert(), map[string]float64{"temperature": 70}, models.FaultLubricationFailure, 0.65},
		{"temperature critical", NewTemperatureExpert(), map[string]float64{"temperature": 95}, models.FaultOverheating, 0.85},
		{"current normal", NewCurrentExpert(), map[string]float64{"current_imbalance": 1.5}, models.FaultNormal, 0.9},
		{"current critical", NewCurrentExpert(), map[string]float64{"current_imbalance": 7}, models.FaultElectrical, 0.85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := tt.expert.Diagnose(ctx, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFault, op.FaultType)
			assert.Equal(t, tt.wantConfid, op.Confidence)
			assert.NotEmpty(t, op.Description)
			assert.Equal(t, tt.data[tt.expert.Feature()], op.Evidence[tt.expert.Feature()].Float())

			mass, err := tt.expert.BeliefMass(ctx, tt.data)
			require.NoError(t, err)
			assert.True(t, mass.Valid())
			assert.Equal(t, tt.wantConfid, mass[tt.wantFault])
		})
	}
}

func TestRuleExpert_Errors(t *testing.T) {
	e := NewTemperatureExpert()

	_, err := e.Diagnose(context.Background(), map[string]float64{"vibration_rms": 1})
	assert.ErrorIs(t, err, ErrMissingFeature)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.BeliefMass(ctx, map[string]float64{"temperature": 40})
	assert.ErrorIs(t, err, context.Canceled)
}
