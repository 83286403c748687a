// Package cache реализует хранение снимков базовых линий и зеркало диагностик в Redis
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"diagnosis-service/internal/models"
)

const (
	// BaselinesKey ключ снимка базовых линий
	BaselinesKey = "baselines:snapshot"
	// DiagnosisKeyPrefix префикс для отдельных диагностик
	DiagnosisKeyPrefix = "diagnosis:"
	// LatestDiagnosesKey список последних диагностик
	LatestDiagnosesKey = "diagnoses:latest"
	// DiagnosesTotalKey счетчик диагностик
	DiagnosesTotalKey = "diagnoses:total"
	// FaultCounterPrefix префикс счетчиков по типу неисправности
	FaultCounterPrefix = "diagnoses:fault:"
	// DiagnosisTTL время жизни отдельной диагностики
	DiagnosisTTL = 24 * time.Hour
	// LatestLimit сколько диагностик хранится в списке
	LatestLimit = 1000
	// mirrorTimeout таймаут записи из наблюдателя
	mirrorTimeout = 2 * time.Second
)

// RedisCache клиент Redis сервиса диагностики
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// SaveBaselines сохраняет снимок базовых линий без срока жизни
func (r *RedisCache) SaveBaselines(ctx context.Context, snapshot models.BaselineSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal baselines: %w", err)
	}
	if err := r.client.Set(ctx, BaselinesKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save baselines: %w", err)
	}
	return nil
}

// LoadBaselines загружает снимок базовых линий. Отсутствие снимка не ошибка.
func (r *RedisCache) LoadBaselines(ctx context.Context) (models.BaselineSnapshot, error) {
	data, err := r.client.Get(ctx, BaselinesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load baselines: %w", err)
	}

	var snapshot models.BaselineSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baselines: %w", err)
	}
	return snapshot, nil
}

// MirrorDiagnosis сохраняет диагностику и обновляет счетчики одним pipeline
func (r *RedisCache) MirrorDiagnosis(ctx context.Context, rec models.HistoryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnosis: %w", err)
	}

	key := fmt.Sprintf("%s%s", DiagnosisKeyPrefix, rec.RequestID)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, DiagnosisTTL)
	pipe.LPush(ctx, LatestDiagnosesKey, data)
	pipe.LTrim(ctx, LatestDiagnosesKey, 0, LatestLimit-1)
	pipe.Incr(ctx, DiagnosesTotalKey)
	pipe.Incr(ctx, FaultCounterPrefix+rec.Result.FaultType)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror diagnosis: %w", err)
	}
	return nil
}

// MirrorWithTimeout зеркалирует диагностику с собственным таймаутом,
// для вызова из наблюдателя движка вне контекста запроса
func (r *RedisCache) MirrorWithTimeout(rec models.HistoryRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	return r.MirrorDiagnosis(ctx, rec)
}

// LatestDiagnoses возвращает последние count диагностик
func (r *RedisCache) LatestDiagnoses(ctx context.Context, count int64) ([]models.HistoryRecord, error) {
	data, err := r.client.LRange(ctx, LatestDiagnosesKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest diagnoses: %w", err)
	}

	records := make([]models.HistoryRecord, 0, len(data))
	for _, d := range data {
		var rec models.HistoryRecord
		if err := json.Unmarshal([]byte(d), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetDiagnosis возвращает диагностику по идентификатору запроса
func (r *RedisCache) GetDiagnosis(ctx context.Context, requestID string) (models.HistoryRecord, bool, error) {
	data, err := r.client.Get(ctx, DiagnosisKeyPrefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.HistoryRecord{}, false, nil
	}
	if err != nil {
		return models.HistoryRecord{}, false, err
	}

	var rec models.HistoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.HistoryRecord{}, false, err
	}
	return rec, true, nil
}

// IncrementCounter увеличивает счетчик
func (r *RedisCache) IncrementCounter(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// FaultCounters значения счетчиков по типам неисправностей
func (r *RedisCache) FaultCounters(ctx context.Context, faultTypes []string) (map[string]int64, error) {
	counters := make(map[string]int64, len(faultTypes))
	for _, f := range faultTypes {
		v, err := r.GetCounter(ctx, FaultCounterPrefix+f)
		if err != nil {
			return nil, err
		}
		counters[f] = v
	}
	return counters, nil
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}
