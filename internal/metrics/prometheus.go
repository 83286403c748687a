// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"diagnosis-service/internal/models"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diagnosis_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// DiagnosesTotal количество диагностик по типу неисправности и серьезности
	DiagnosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_results_total",
			Help: "Total number of fused diagnoses",
		},
		[]string{"fault_type", "severity"},
	)

	// ResolutionsTotal способы разрешения конфликта
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_resolutions_total",
			Help: "Fusion resolutions by kind",
		},
		[]string{"resolution"},
	)

	// ConflictDegree распределение степени конфликта
	ConflictDegree = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diagnosis_conflict_degree",
			Help:    "Dempster-Shafer conflict degree of fused diagnoses",
			Buckets: []float64{.05, .1, .2, .3, .4, .5, .7, .9, 1},
		},
	)

	// DiagnosisLatency время выполнения диагностики
	DiagnosisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diagnosis_latency_seconds",
			Help:    "Diagnosis latency in seconds including expert calls",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5, 1, 5},
		},
	)

	// ExpertLatency время ответа экспертов
	ExpertLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diagnosis_expert_latency_seconds",
			Help:    "Expert call latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"expert"},
	)

	// ExpertFailures отказы и таймауты экспертов
	ExpertFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_expert_failures_total",
			Help: "Expert calls excluded from fusion",
		},
		[]string{"expert"},
	)

	// SlicesProcessed срезы, обработанные нормализатором
	SlicesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_slices_processed_total",
			Help: "Normalized slices by status",
		},
		[]string{"status"},
	)

	// FeatureStates состояния нормализованных признаков
	FeatureStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_feature_states_total",
			Help: "Normalized feature states",
		},
		[]string{"state"},
	)

	// BaselinesStored количество базовых линий в хранилище
	BaselinesStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagnosis_baselines_stored",
			Help: "Number of (condition, feature) baselines in the store",
		},
	)

	// CacheWrites успешные записи в Redis
	CacheWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagnosis_cache_writes_total",
			Help: "Total number of successful Redis writes",
		},
	)

	// CacheErrors ошибки записи в Redis
	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagnosis_cache_errors_total",
			Help: "Total number of failed Redis writes",
		},
	)

	// IngestMessages сообщения MQTT
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_ingest_messages_total",
			Help: "MQTT messages by outcome",
		},
		[]string{"outcome"},
	)

	// StreamClients подключенные websocket-клиенты
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagnosis_stream_clients",
			Help: "Number of connected websocket clients",
		},
	)

	// InFlightRequests запросы в обработке
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagnosis_http_in_flight_requests",
			Help: "HTTP requests currently being served",
		},
	)

	// IngestPending срезы в очереди пула воркеров
	IngestPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagnosis_ingest_pending_slices",
			Help: "Sensor slices waiting in the ingest queue",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diagnosis_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// RecordDiagnosis обновляет метрики по результату диагностики
func RecordDiagnosis(result models.FusionResult) {
	DiagnosesTotal.WithLabelValues(result.FaultType, string(result.Severity)).Inc()
	ResolutionsTotal.WithLabelValues(result.FusionDetails.Resolution).Inc()
	ConflictDegree.Observe(result.ConflictInfo.ConflictDegree)
	DiagnosisLatency.Observe(result.DurationMs / 1000)

	for _, ev := range result.EvidenceSummary {
		ExpertLatency.WithLabelValues(ev.Expert).Observe(ev.DurationMs / 1000)
		if ev.Error != "" {
			ExpertFailures.WithLabelValues(ev.Expert).Inc()
		}
	}
}

// RecordNormalization обновляет метрики по результату нормализации
func RecordNormalization(result models.NormalizedResult) {
	SlicesProcessed.WithLabelValues(string(result.Status)).Inc()
	for _, f := range result.Features {
		FeatureStates.WithLabelValues(string(f.State)).Inc()
	}
}
