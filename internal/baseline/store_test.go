package baseline

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosis-service/internal/models"
)

func learned(condition, feature string, mean, std float64) models.LearnedBaseline {
	return models.LearnedBaseline{
		ConditionID: condition,
		Feature:     feature,
		Baseline:    models.ConditionBaseline{Mean: mean, Std: std, P5: mean - std, P95: mean + std},
	}
}

func TestStore_ReplaceAndGet(t *testing.T) {
	s := NewStore()
	s.Replace([]models.LearnedBaseline{
		learned("rated_load", "temperature", 50, 2),
		learned("rated_load", "vibration_rms", 2.5, 0.3),
	})

	b, ok := s.Get("rated_load", "temperature")
	require.True(t, ok)
	assert.Equal(t, 50.0, b.Mean)
	assert.Equal(t, 2, s.Len())

	// Overwrite replaces the entry wholesale
	s.Replace([]models.LearnedBaseline{learned("rated_load", "temperature", 60, 1)})
	b, _ = s.Get("rated_load", "temperature")
	assert.Equal(t, 60.0, b.Mean)
	assert.Equal(t, 1.0, b.Std)
	assert.Equal(t, 2, s.Len())
}

func TestStore_LookupFallsBackToGlobal(t *testing.T) {
	s := NewStore()
	s.Replace([]models.LearnedBaseline{
		learned("idle", "temperature", 30, 1),
		learned(GlobalConditionID, "temperature", 45, 5),
		learned(GlobalConditionID, "current_imbalance", 1, 0.2),
	})

	s.Read(func(r Reader) {
		b, source, ok := r.Lookup("idle", "temperature")
		require.True(t, ok)
		assert.Equal(t, models.BaselineFromCondition, source)
		assert.Equal(t, 30.0, b.Mean)

		b, source, ok = r.Lookup("idle", "current_imbalance")
		require.True(t, ok)
		assert.Equal(t, models.BaselineFromGlobal, source)
		assert.Equal(t, 1.0, b.Mean)

		_, source, ok = r.Lookup("idle", "speed")
		assert.False(t, ok)
		assert.Equal(t, models.BaselineNone, source)
	})
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	s.Replace([]models.LearnedBaseline{learned("idle", "temperature", 30, 1)})

	snap := s.Snapshot()
	snap["idle"]["temperature"] = models.ConditionBaseline{Mean: 999}

	b, _ := s.Get("idle", "temperature")
	assert.Equal(t, 30.0, b.Mean)
}

func TestStore_LoadRoundTripAndValidation(t *testing.T) {
	s := NewStore()
	s.Replace([]models.LearnedBaseline{learned("idle", "temperature", 30, 1)})

	other := NewStore()
	require.NoError(t, other.Load(s.Snapshot()))
	assert.Equal(t, s.Snapshot(), other.Snapshot())

	err := other.Load(models.BaselineSnapshot{
		"idle": {"temperature": {Mean: 1, Std: -1}},
	})
	assert.ErrorIs(t, err, ErrInvalidBaseline)

	err = other.Load(models.BaselineSnapshot{
		"idle": {"temperature": {Mean: math.NaN()}},
	})
	assert.ErrorIs(t, err, ErrInvalidBaseline)

	// Failed load leaves state untouched
	b, ok := other.Get("idle", "temperature")
	require.True(t, ok)
	assert.Equal(t, 30.0, b.Mean)
}

func TestStore_Conditions(t *testing.T) {
	s := NewStore()
	s.Replace([]models.LearnedBaseline{
		learned("startup", "speed", 100, 10),
		learned("idle", "speed", 0, 0),
	})
	assert.Equal(t, []string{"idle", "startup"}, s.Conditions())
}

func TestStore_ConcurrentReadWrite(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			// Mean and P95 always move together
			m := float64(i)
			s.Replace([]models.LearnedBaseline{
				{ConditionID: "idle", Feature: "temperature", Baseline: models.ConditionBaseline{Mean: m, P5: m, P95: m}},
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Read(func(r Reader) {
				if b, _, ok := r.Lookup("idle", "temperature"); ok {
					assert.Equal(t, b.Mean, b.P95)
				}
			})
		}
	}()
	wg.Wait()
}
