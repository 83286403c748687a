// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"diagnosis-service/internal/baseline"
	"diagnosis-service/internal/cache"
	"diagnosis-service/internal/condition"
	"diagnosis-service/internal/expert"
	"diagnosis-service/internal/fusion"
	"diagnosis-service/internal/metrics"
	"diagnosis-service/internal/models"
)

// maxBodySize ограничение размера тела запроса
const maxBodySize = 8 << 20

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	normalizer *condition.Normalizer
	engine     *fusion.Engine
	registry   *expert.Registry
	baselines  *baseline.Store
	cache      *cache.RedisCache
	logger     *zap.Logger
	startTime  time.Time
}

// NewHandler создает новый обработчик. cache может быть nil.
func NewHandler(
	normalizer *condition.Normalizer,
	engine *fusion.Engine,
	registry *expert.Registry,
	baselines *baseline.Store,
	cache *cache.RedisCache,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		normalizer: normalizer,
		engine:     engine,
		registry:   registry,
		baselines:  baselines,
		cache:      cache,
		logger:     logger.Named("http"),
		startTime:  time.Now(),
	}
}

// Register регистрирует маршруты API
func (h *Handler) Register(router *mux.Router) {
	c := router.PathPrefix("/api/condition").Subrouter()
	c.HandleFunc("/process", h.ProcessSliceHandler).Methods(http.MethodPost)
	c.HandleFunc("/batch", h.ProcessBatchHandler).Methods(http.MethodPost)
	c.HandleFunc("/baselines", h.BaselinesHandler).Methods(http.MethodGet)
	c.HandleFunc("/baselines/learn", h.LearnBaselineHandler).Methods(http.MethodPost)
	c.HandleFunc("/baselines/export", h.ExportBaselinesHandler).Methods(http.MethodGet)
	c.HandleFunc("/baselines/load", h.LoadBaselinesHandler).Methods(http.MethodPost)
	c.HandleFunc("/config", h.NormalizerConfigHandler).Methods(http.MethodGet)
	c.HandleFunc("/config", h.UpdateNormalizerConfigHandler).Methods(http.MethodPut)
	c.HandleFunc("/thresholds", h.ThresholdsHandler).Methods(http.MethodGet)
	c.HandleFunc("/thresholds", h.UpdateThresholdHandler).Methods(http.MethodPut)
	c.HandleFunc("/conditions", h.ConditionsHandler).Methods(http.MethodGet)
	c.HandleFunc("/conditions", h.AddConditionHandler).Methods(http.MethodPost)
	c.HandleFunc("/conditions/{id}", h.RemoveConditionHandler).Methods(http.MethodDelete)
	c.HandleFunc("/history", h.NormalizationHistoryHandler).Methods(http.MethodGet)
	c.HandleFunc("/history", h.ClearNormalizationHistoryHandler).Methods(http.MethodDelete)

	f := router.PathPrefix("/api/fusion").Subrouter()
	f.HandleFunc("/diagnose", h.DiagnoseHandler).Methods(http.MethodPost)
	f.HandleFunc("/experts", h.ExpertsHandler).Methods(http.MethodGet)
	f.HandleFunc("/experts/{name}/weight", h.UpdateWeightHandler).Methods(http.MethodPut)
	f.HandleFunc("/experts/{name}", h.UnregisterExpertHandler).Methods(http.MethodDelete)
	f.HandleFunc("/history", h.DiagnosisHistoryHandler).Methods(http.MethodGet)
	f.HandleFunc("/history", h.ClearDiagnosisHistoryHandler).Methods(http.MethodDelete)
	f.HandleFunc("/history/latest", h.LatestDiagnosesHandler).Methods(http.MethodGet)
	f.HandleFunc("/fault-types", h.FaultTypesHandler).Methods(http.MethodGet)
	f.HandleFunc("/config", h.FusionConfigHandler).Methods(http.MethodGet)
	f.HandleFunc("/config", h.UpdateFusionConfigHandler).Methods(http.MethodPut)
	f.HandleFunc("/stats", h.StatsHandler).Methods(http.MethodGet)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disabled"
	if h.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		redisStatus = "connected"
		if err := h.cache.Ping(ctx); err != nil {
			redisStatus = "disconnected"
		}
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Redis:     redisStatus,
		Uptime:    time.Since(h.startTime).String(),
		Experts:   h.registry.Len(),
	}
	if status.Experts == 0 {
		status.Status = "degraded"
	}

	h.respondJSON(w, status, http.StatusOK)
}

// StatsHandler обрабатывает GET /api/fusion/stats - статистика сервиса
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/api/fusion/stats"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	// Обновляем метрику горутин
	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	response := map[string]interface{}{
		"experts":   h.registry.Len(),
		"baselines": h.baselines.Len(),
		"history":   h.engine.HistoryLen(),
	}

	if h.cache != nil {
		total, err := h.cache.GetCounter(r.Context(), cache.DiagnosesTotalKey)
		if err == nil {
			response["diagnoses_total"] = total
		}
		if byFault, err := h.cache.FaultCounters(r.Context(), append(h.engine.FaultTypes(), models.FaultUnknown)); err == nil {
			response["diagnoses_by_fault"] = byFault
		}
	}

	h.respond(w, r, route, response, http.StatusOK)
}

// statusFor сопоставляет ошибку предметной области с HTTP-кодом
func statusFor(err error) int {
	switch {
	case errors.Is(err, condition.ErrInvalidInput),
		errors.Is(err, condition.ErrInvalidThreshold),
		errors.Is(err, fusion.ErrInvalidInput),
		errors.Is(err, fusion.ErrInvalidConfig),
		errors.Is(err, expert.ErrInvalidWeight),
		errors.Is(err, expert.ErrInvalidExpert),
		errors.Is(err, baseline.ErrInvalidBaseline):
		return http.StatusBadRequest
	case errors.Is(err, condition.ErrConditionNotFound),
		errors.Is(err, expert.ErrExpertNotFound):
		return http.StatusNotFound
	case errors.Is(err, condition.ErrConditionExists),
		errors.Is(err, expert.ErrExpertExists):
		return http.StatusConflict
	case condition.IsDomainError(err),
		errors.Is(err, fusion.ErrNoExpertsRegistered):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fusion.ErrAllExpertsFailed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode разбирает JSON тело запроса
func decode(r *http.Request, w http.ResponseWriter, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(dest)
}

// queryInt читает целочисленный параметр запроса в пределах [1, max]
func queryInt(r *http.Request, key string, def, max int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= max {
			return v
		}
	}
	return def
}

// respond отправляет JSON ответ и учитывает запрос в метриках
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, route string, data interface{}, status int) {
	metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	h.respondJSON(w, data, status)
}

// fail отправляет ошибку, код определяется по ее виду
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, route string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("route", route), zap.Error(err))
	}
	metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	h.respondError(w, err.Error(), status)
}

// badRequest отвечает 400 на некорректный JSON
func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, route string, err error) {
	metrics.RequestsTotal.WithLabelValues(route, r.Method, "400").Inc()
	h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
}

// mutation отвечает на изменяющую операцию в формате {success, message|error}
func (h *Handler) mutation(w http.ResponseWriter, r *http.Request, route, message string, err error) {
	if err != nil {
		status := statusFor(err)
		metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		h.respondJSON(w, models.MutationResponse{Success: false, Error: err.Error()}, status)
		return
	}
	h.respond(w, r, route, models.MutationResponse{Success: true, Message: message}, http.StatusOK)
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
