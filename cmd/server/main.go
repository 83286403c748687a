// Package main запускает сервис диагностики оборудования с учетом режима работы.
// Сервис реализует:
// - нормализацию признаков по базовым линиям режима работы
// - слияние мнений экспертов по теории Демпстера-Шафера
// - HTTP API и websocket-трансляцию диагнозов
// - прием срезов данных из MQTT
// - хранение базовых линий и зеркало диагнозов в Redis
// - экспорт метрик в Prometheus
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diagnosis-service/internal/metrics"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "diagnosis-service",
	Short: "Condition-aware equipment diagnosis service",
	Long: `Normalizes sensor features against learned per-condition baselines and fuses
expert opinions with Dempster-Shafer evidence theory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(learnCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loggingMiddleware логирует HTTP запросы
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// metricsMiddleware учитывает запросы в обработке
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.InFlightRequests.Inc()
		defer metrics.InFlightRequests.Dec()
		next.ServeHTTP(w, r)
	})
}
