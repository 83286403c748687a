package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"diagnosis-service/internal/metrics"
	"diagnosis-service/internal/models"
)

// historyLimit максимальный размер выдачи истории
const historyLimit = 500

// ProcessSliceHandler обрабатывает POST /api/condition/process - нормализация среза
func (h *Handler) ProcessSliceHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/condition/process"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	var req models.ProcessSliceRequest
	if err := decode(r, w, &req); err != nil {
		h.badRequest(w, r, route, err)
		return
	}

	result, err := h.normalizer.ProcessSlice(req.Slice, req.Method, req.Overrides)
	metrics.RecordNormalization(result)
	if err != nil {
		h.fail(w, r, route, err)
		return
	}

	h.respond(w, r, route, result, http.StatusOK)
}

// ProcessBatchHandler обрабатывает POST /api/condition/batch - пакетная нормализация
func (h *Handler) ProcessBatchHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/condition/batch"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	var req models.ProcessBatchRequest
	if err := decode(r, w, &req); err != nil {
		h.badRequest(w, r, route, err)
		return
	}

	results := h.normalizer.ProcessBatch(req.Slices, req.Method)
	failed := 0
	for _, result := range results {
		metrics.RecordNormalization(result)
		if result.Status != models.SliceOK {
			failed++
		}
	}

	h.respond(w, r, route, map[string]interface{}{
		"processed": len(results) - failed,
		"failed":    failed,
		"results":   results,
	}, http.StatusOK)
}

// learnResponse ответ на обучение базовых линий
type learnResponse struct {
	models.MutationResponse
	Baselines []models.LearnedBaseline `json:"baselines,omitempty"`
}

// LearnBaselineHandler обрабатывает POST /api/condition/baselines/learn - обучение базовых линий
func (h *Handler) LearnBaselineHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/condition/baselines/learn"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	var req models.LearnBaselineRequest
	if err := decode(r, w, &req); err != nil {
		h.badRequest(w, r, route, err)
		return
	}

	learned, err := h.normalizer.LearnBaseline(r.Context(), req.Samples, req.TargetCondition)
	if err != nil {
		h.mutation(w, r, route, "", err)
		return
	}
	metrics.BaselinesStored.Set(float64(h.baselines.Len()))

	h.respond(w, r, route, learnResponse{
		MutationResponse: models.MutationResponse{Success: true, Message: "baselines learned"},
		Baselines:        learned,
	}, http.StatusOK)
}

// BaselinesHandler обрабатывает GET /api/condition/baselines
func (h *Handler) BaselinesHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "/api/condition/baselines", h.normalizer.Baselines(), http.StatusOK)
}

// ExportBaselinesHandler обрабатывает GET /api/condition/baselines/export - выгрузка снимка файлом
func (h *Handler) ExportBaselinesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", `attachment; filename="baselines.json"`)
	h.respond(w, r, "/api/condition/baselines/export", h.normalizer.ExportBaselines(), http.StatusOK)
}

// LoadBaselinesHandler обрабатывает POST /api/condition/baselines/load - замена всех базовых линий
func (h *Handler) LoadBaselinesHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/condition/baselines/load"

	var snapshot models.BaselineSnapshot
	if err := decode(r, w, &snapshot); err != nil {
		h.badRequest(w, r, route, err)
		return
	}

	err := h.normalizer.LoadBaselines(snapshot)
	if err == nil {
		metrics.BaselinesStored.Set(float64(h.baselines.Len()))
	}
	h.mutation(w, r, route, "baselines loaded", err)
}

// NormalizerConfigHandler обрабатывает GET /api/condition/config
func (h *Handler) NormalizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "/api/condition/config", h.normalizer.Config(), http.StatusOK)
}

// UpdateNormalizerConfigHandler обрабатывает PUT /api/condition/config
func (h *Handler) UpdateNormalizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/condition/config"

	var cfg models.NormalizerConfig
	if err := decode(r, w, &cfg); err != nil {
		h.badRequest(w, r, route, err)
		return
	}
	h.mutation(w, r, route, "config updated", h.normalizer.UpdateConfig(cfg))
}

// ThresholdsHandler обрабатывает GET /api/condition/thresholds
func (h *Handler) ThresholdsHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "/api/condition/thresholds", h.normalizer.Thresholds(), http.StatusOK)
}

// UpdateThresholdHandler обрабатывает PUT /api/condition/thresholds
func (h *Handler) UpdateThresholdHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/condition/thresholds"

	var req models.UpdateThresholdRequest
	if err := decode(r, w, &req); err != nil {
		h.badRequest(w, r, route, err)
		return
	}
	err := h.normalizer.UpdateThreshold(req.ConditionID, req.Feature, req.Thresholds)
	h.mutation(w, r, route, "thresholds updated", err)
}

// ConditionsHandler обрабатывает GET /api/condition/conditions
func (h *Handler) ConditionsHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "/api/condition/conditions", h.normalizer.Conditions(), http.StatusOK)
}

// AddConditionHandler обрабатывает POST /api/condition/conditions
func (h *Handler) AddConditionHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/condition/conditions"

	var def models.ConditionDefinition
	if err := decode(r, w, &def); err != nil {
		h.badRequest(w, r, route, err)
		return
	}
	h.mutation(w, r, route, "condition added", h.normalizer.AddCondition(def))
}

// RemoveConditionHandler обрабатывает DELETE /api/condition/conditions/{id}
func (h *Handler) RemoveConditionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.mutation(w, r, "/api/condition/conditions/{id}", "condition removed", h.normalizer.RemoveCondition(id))
}

// NormalizationHistoryHandler обрабатывает GET /api/condition/history?limit=&condition=
func (h *Handler) NormalizationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, historyLimit)
	records := h.normalizer.History(limit, r.URL.Query().Get("condition"))
	h.respond(w, r, "/api/condition/history", records, http.StatusOK)
}

// ClearNormalizationHistoryHandler обрабатывает DELETE /api/condition/history
func (h *Handler) ClearNormalizationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	h.normalizer.ClearHistory()
	h.mutation(w, r, "/api/condition/history", "history cleared", nil)
}
