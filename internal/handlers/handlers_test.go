package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"diagnosis-service/internal/baseline"
	"diagnosis-service/internal/condition"
	"diagnosis-service/internal/expert"
	"diagnosis-service/internal/fusion"
	"diagnosis-service/internal/models"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	store := baseline.NewStore()
	normalizer, err := condition.New(store, condition.DefaultConfig(), zap.NewNop(),
		condition.WithConditions(condition.DefaultConditions()))
	require.NoError(t, err)

	registry := expert.NewRegistry()
	require.NoError(t, expert.RegisterDefaults(registry))

	engine, err := fusion.NewEngine(registry, fusion.DefaultConfig(), zap.NewNop(),
		fusion.WithStateSource(normalizer))
	require.NoError(t, err)

	router := mux.NewRouter()
	NewHandler(normalizer, engine, registry, store, nil, zap.NewNop()).Register(router)
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func TestHealthHandler(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.HealthStatus
	decodeBody(t, rec, &status)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "disabled", status.Redis)
	assert.Equal(t, 3, status.Experts)
}

func TestDiagnoseHandler_Normal(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/fusion/diagnose", models.DiagnoseRequest{
		SensorData: map[string]float64{"vibration_rms": 1.5, "temperature": 45, "current_imbalance": 1},
		Component:  "pump-1",
		DeviceCode: "P-001",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.FusionResult
	decodeBody(t, rec, &result)
	assert.Equal(t, models.FaultNormal, result.FaultType)
	assert.Equal(t, models.SeverityNormal, result.Severity)
	assert.Equal(t, "pump-1", result.Component)
	assert.Len(t, result.EvidenceSummary, 3)

	rec = do(t, router, http.MethodGet, "/api/fusion/history?component=pump-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []models.HistoryRecord
	decodeBody(t, rec, &records)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].RequestID)
}

func TestDiagnoseHandler_BadRequests(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/fusion/diagnose", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/fusion/diagnose", models.DiagnoseRequest{Component: "pump-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiagnoseHandler_NoExperts(t *testing.T) {
	router := newTestRouter(t)

	for _, name := range []string{"vibration", "temperature", "current"} {
		rec := do(t, router, http.MethodDelete, "/api/fusion/experts/"+name, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, router, http.MethodPost, "/api/fusion/diagnose", models.DiagnoseRequest{
		SensorData: map[string]float64{"vibration_rms": 1.5},
		Component:  "pump-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateWeightHandler(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"ok", "/api/fusion/experts/vibration/weight", map[string]float64{"weight": 2.5}, http.StatusOK},
		{"unknown expert", "/api/fusion/experts/acoustic/weight", map[string]float64{"weight": 1}, http.StatusNotFound},
		{"negative", "/api/fusion/experts/vibration/weight", map[string]float64{"weight": -1}, http.StatusBadRequest},
		{"missing weight", "/api/fusion/experts/vibration/weight", map[string]string{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp models.MutationResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, tt.status == http.StatusOK, resp.Success)
		})
	}

	rec := do(t, router, http.MethodGet, "/api/fusion/experts", nil)
	var experts []models.ExpertInfo
	decodeBody(t, rec, &experts)
	require.Len(t, experts, 3)
	assert.Equal(t, "vibration", experts[0].Name)
	assert.Equal(t, 2.5, experts[0].Weight)
}

func TestProcessSliceHandler(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/condition/process", models.ProcessSliceRequest{
		Slice: models.DataSlice{
			Component: "pump-1",
			Features:  map[string]float64{"rotation_speed": 1480, "load_ratio": 0.7, "temperature": 50},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.NormalizedResult
	decodeBody(t, rec, &result)
	assert.Equal(t, "rated_load", result.ConditionID)
	assert.Equal(t, models.ConditionInferred, result.ConditionSource)

	rec = do(t, router, http.MethodPost, "/api/condition/process", models.ProcessSliceRequest{
		Slice: models.DataSlice{Component: "pump-1", Features: map[string]float64{"temperature": 50}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLearnBaselineHandler(t *testing.T) {
	router := newTestRouter(t)

	samples := make([]models.DataSlice, 10)
	for i := range samples {
		samples[i] = models.DataSlice{
			Component: "pump-1",
			Features:  map[string]float64{"temperature": 40 + float64(i%3)},
		}
	}

	rec := do(t, router, http.MethodPost, "/api/condition/baselines/learn", models.LearnBaselineRequest{
		Samples:         samples,
		TargetCondition: "rated_load",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp learnResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	require.Len(t, resp.Baselines, 1)
	assert.Equal(t, 10, resp.Baselines[0].Baseline.SampleCount)

	rec = do(t, router, http.MethodGet, "/api/condition/baselines", nil)
	var snapshot models.BaselineSnapshot
	decodeBody(t, rec, &snapshot)
	assert.Contains(t, snapshot["rated_load"], "temperature")

	rec = do(t, router, http.MethodPost, "/api/condition/baselines/learn", models.LearnBaselineRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConditionHandlers(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodDelete, "/api/condition/conditions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/condition/conditions", models.ConditionDefinition{
		ID:          "idle",
		KeyFeatures: []models.KeyFeature{{Feature: "rotation_speed", Min: 0, Max: 1}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/condition/conditions", models.ConditionDefinition{ID: "idle"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/condition/thresholds", models.UpdateThresholdRequest{
		ConditionID: "idle",
		Feature:     "temperature",
		Thresholds: models.AdaptiveThreshold{
			Normal:  models.Range{Low: 1, High: 0},
			Warning: models.Range{Low: 1, High: 2},
			Danger:  models.Range{Low: 2, High: 3},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestDiagnosesHandler_NoCache(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/fusion/history/latest", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
