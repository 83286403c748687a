package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"diagnosis-service/internal/expert"
	"diagnosis-service/internal/fusion"
	"diagnosis-service/internal/metrics"
	"diagnosis-service/internal/models"
)

// DiagnoseHandler обрабатывает POST /api/fusion/diagnose - слияние мнений экспертов
func (h *Handler) DiagnoseHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/fusion/diagnose"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	var req models.DiagnoseRequest
	if err := decode(r, w, &req); err != nil {
		h.badRequest(w, r, route, err)
		return
	}

	result, err := h.engine.Diagnose(r.Context(), req)
	if err != nil {
		h.fail(w, r, route, err)
		return
	}

	h.respond(w, r, route, result, http.StatusOK)
}

// ExpertsHandler обрабатывает GET /api/fusion/experts
func (h *Handler) ExpertsHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "/api/fusion/experts", h.engine.Experts(), http.StatusOK)
}

// UpdateWeightHandler обрабатывает PUT /api/fusion/experts/{name}/weight
func (h *Handler) UpdateWeightHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/fusion/experts/{name}/weight"

	var req models.UpdateWeightRequest
	if err := decode(r, w, &req); err != nil {
		h.badRequest(w, r, route, err)
		return
	}
	if req.Weight == nil {
		h.mutation(w, r, route, "", fmt.Errorf("%w: weight is required", expert.ErrInvalidWeight))
		return
	}

	err := h.registry.UpdateWeight(mux.Vars(r)["name"], *req.Weight)
	h.mutation(w, r, route, "weight updated", err)
}

// UnregisterExpertHandler обрабатывает DELETE /api/fusion/experts/{name}
func (h *Handler) UnregisterExpertHandler(w http.ResponseWriter, r *http.Request) {
	err := h.registry.Unregister(mux.Vars(r)["name"])
	h.mutation(w, r, "/api/fusion/experts/{name}", "expert unregistered", err)
}

// DiagnosisHistoryHandler обрабатывает GET /api/fusion/history?limit=&component=&device=&fault=
func (h *Handler) DiagnosisHistoryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := fusion.HistoryFilter{
		Component:  q.Get("component"),
		DeviceCode: q.Get("device"),
		FaultType:  q.Get("fault"),
	}
	records := h.engine.History(queryInt(r, "limit", 100, historyLimit), filter)
	h.respond(w, r, "/api/fusion/history", records, http.StatusOK)
}

// ClearDiagnosisHistoryHandler обрабатывает DELETE /api/fusion/history
func (h *Handler) ClearDiagnosisHistoryHandler(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearHistory()
	h.mutation(w, r, "/api/fusion/history", "history cleared", nil)
}

// LatestDiagnosesHandler обрабатывает GET /api/fusion/history/latest - последние диагнозы из Redis
func (h *Handler) LatestDiagnosesHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/fusion/history/latest"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	if h.cache == nil {
		metrics.RequestsTotal.WithLabelValues(route, r.Method, "503").Inc()
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}

	count := queryInt(r, "count", 10, historyLimit)
	records, err := h.cache.LatestDiagnoses(r.Context(), int64(count))
	if err != nil {
		h.fail(w, r, route, err)
		return
	}

	h.respond(w, r, route, map[string]interface{}{
		"count":     len(records),
		"diagnoses": records,
	}, http.StatusOK)
}

// FaultTypesHandler обрабатывает GET /api/fusion/fault-types
func (h *Handler) FaultTypesHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "/api/fusion/fault-types", h.engine.FaultTypes(), http.StatusOK)
}

// FusionConfigHandler обрабатывает GET /api/fusion/config
func (h *Handler) FusionConfigHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "/api/fusion/config", h.engine.Config(), http.StatusOK)
}

// UpdateFusionConfigHandler обрабатывает PUT /api/fusion/config
func (h *Handler) UpdateFusionConfigHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/fusion/config"

	var cfg models.FusionConfig
	if err := decode(r, w, &cfg); err != nil {
		h.badRequest(w, r, route, err)
		return
	}
	h.mutation(w, r, route, "config updated", h.engine.UpdateConfig(cfg))
}
