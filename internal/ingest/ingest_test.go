package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosis-service/internal/models"
)

type recordingProcessor struct {
	mu     sync.Mutex
	slices []models.DataSlice
	done   chan struct{}
}

func (r *recordingProcessor) Process(_ context.Context, slice models.DataSlice) error {
	r.mu.Lock()
	r.slices = append(r.slices, slice)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestPool_ProcessesSubmittedSlices(t *testing.T) {
	proc := &recordingProcessor{done: make(chan struct{}, 10)}
	pool := NewPool(proc, 10, time.Second, nil)
	pool.Start(2)
	defer pool.Stop()

	for i := 0; i < 3; i++ {
		require.True(t, pool.Submit(models.DataSlice{Component: "pump-1", Features: map[string]float64{"t": float64(i)}}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-proc.done:
		case <-time.After(time.Second):
			t.Fatal("slice not processed")
		}
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Len(t, proc.slices, 3)
}

func TestPool_SubmitWhenFull(t *testing.T) {
	pool := NewPool(&recordingProcessor{done: make(chan struct{}, 1)}, 1, time.Second, nil)

	assert.True(t, pool.Submit(models.DataSlice{}))
	assert.False(t, pool.Submit(models.DataSlice{}))
	assert.Equal(t, 1, pool.Pending())
}

type stubNormalizer struct {
	result models.NormalizedResult
	err    error
}

func (s stubNormalizer) ProcessSlice(models.DataSlice, models.Method, *models.NormalizationOverrides) (models.NormalizedResult, error) {
	return s.result, s.err
}

type stubDiagnoser struct {
	req models.DiagnoseRequest
	err error
}

func (s *stubDiagnoser) Diagnose(_ context.Context, req models.DiagnoseRequest) (models.FusionResult, error) {
	s.req = req
	return models.FusionResult{}, s.err
}

type stubPublisher struct {
	types []string
}

func (s *stubPublisher) Publish(msgType string, _ interface{}) {
	s.types = append(s.types, msgType)
}

func TestPipeline_PassesFeatureStates(t *testing.T) {
	norm := stubNormalizer{result: models.NormalizedResult{
		Status:      models.SliceOK,
		ConditionID: "rated_load",
		Features: map[string]models.NormalizedFeature{
			"temperature": {State: models.StateWarning},
		},
	}}
	diag := &stubDiagnoser{}
	pub := &stubPublisher{}

	slice := models.DataSlice{Component: "pump-1", DeviceCode: "P-01", Features: map[string]float64{"temperature": 71}}
	require.NoError(t, NewPipeline(norm, diag, pub).Process(context.Background(), slice))

	assert.Equal(t, "rated_load", diag.req.ConditionID)
	assert.Equal(t, "P-01", diag.req.DeviceCode)
	assert.Equal(t, models.StateWarning, diag.req.FeatureStates["temperature"])
	assert.Equal(t, slice.Features, diag.req.SensorData)
	assert.Equal(t, []string{"normalization"}, pub.types)
}

func TestPipeline_DiagnosesWithoutCondition(t *testing.T) {
	norm := stubNormalizer{
		result: models.NormalizedResult{Status: models.SliceUnknownCondition},
		err:    errors.New("unknown condition"),
	}
	diag := &stubDiagnoser{err: errors.New("no experts registered")}

	err := NewPipeline(norm, diag, nil).Process(context.Background(), models.DataSlice{
		Component: "pump-1",
		Features:  map[string]float64{"temperature": 40},
	})
	assert.EqualError(t, err, "no experts registered")
	assert.Nil(t, diag.req.FeatureStates)
	assert.Equal(t, "pump-1", diag.req.Component)
}

func TestDecodeSlice(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }

	slice, err := decodeSlice("sensors/pump-7/slice", []byte(`{"features":{"temperature":41.5}}`), now)
	require.NoError(t, err)
	assert.Equal(t, "pump-7", slice.Component)
	assert.Equal(t, fixed, slice.Timestamp)
	assert.Equal(t, 41.5, slice.Features["temperature"])

	slice, err = decodeSlice("sensors/pump-7/slice", []byte(`{"component":"fan-2","features":{"t":1}}`), now)
	require.NoError(t, err)
	assert.Equal(t, "fan-2", slice.Component)

	_, err = decodeSlice("sensors/pump-7/slice", []byte(`{"features":{}}`), now)
	assert.Error(t, err)
	_, err = decodeSlice("slices", []byte(`{"features":{"t":1}}`), now)
	assert.Error(t, err)
	_, err = decodeSlice("sensors/pump-7/slice", []byte(`not json`), now)
	assert.Error(t, err)
}
