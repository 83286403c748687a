// Package condition приводит сырые признаки к шкале текущего режима работы оборудования.
//
// Нормализатор определяет режим (явно из среза или по ключевым признакам),
// нормализует каждый признак относительно базовой линии режима и классифицирует
// результат по адаптивным порогам normal/warning/danger.
package condition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"diagnosis-service/internal/baseline"
	"diagnosis-service/internal/history"
	"diagnosis-service/internal/models"
)

var (
	// ErrUnknownCondition режим не задан и не распознан
	ErrUnknownCondition = errors.New("unknown condition")
	// ErrNoBaseline для признака нет базовой линии (используется только как флаг)
	ErrNoBaseline = errors.New("no baseline")
	// ErrInvalidThreshold некорректные интервалы порогов
	ErrInvalidThreshold = errors.New("invalid threshold")
	// ErrInvalidInput некорректные входные данные
	ErrInvalidInput = errors.New("invalid input")
	// ErrConditionExists режим с таким id уже зарегистрирован
	ErrConditionExists = errors.New("condition already exists")
	// ErrConditionNotFound режим не найден
	ErrConditionNotFound = errors.New("condition not found")
)

// SignatureProvider реестр оборудования: сужает список режимов, допустимых для компонента.
// Пустой ответ означает, что допустимы все режимы.
type SignatureProvider interface {
	ConditionsFor(component string) []string
}

// SignatureMap простая реализация SignatureProvider на карте
type SignatureMap map[string][]string

// ConditionsFor возвращает режимы компонента
func (m SignatureMap) ConditionsFor(component string) []string {
	return m[component]
}

type thresholdKey struct {
	condition string
	feature   string
}

// Normalizer нормализатор признаков по режимам работы
type Normalizer struct {
	mu         sync.RWMutex
	conditions map[string]models.ConditionDefinition
	thresholds map[thresholdKey]models.AdaptiveThreshold
	config     models.NormalizerConfig

	baselines   *baseline.Store
	snapshotter baseline.Snapshotter
	signatures  SignatureProvider
	history     *history.Log[models.NormalizationRecord]
	logger      *zap.Logger
	now         func() time.Time
}

// Option настраивает нормализатор
type Option func(*Normalizer)

// WithSignatureProvider подключает реестр сигнатур компонентов
func WithSignatureProvider(p SignatureProvider) Option {
	return func(n *Normalizer) { n.signatures = p }
}

// WithSnapshotter сохраняет снимок базовых линий после каждого обучения
func WithSnapshotter(s baseline.Snapshotter) Option {
	return func(n *Normalizer) { n.snapshotter = s }
}

// WithHistoryCapacity задает размер журнала нормализаций
func WithHistoryCapacity(capacity int) Option {
	return func(n *Normalizer) { n.history = history.New[models.NormalizationRecord](capacity) }
}

// WithConditions регистрирует начальный набор режимов
func WithConditions(defs []models.ConditionDefinition) Option {
	return func(n *Normalizer) {
		for _, def := range defs {
			n.conditions[def.ID] = cloneDefinition(def)
		}
	}
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// DefaultConfig настройки по умолчанию
func DefaultConfig() models.NormalizerConfig {
	return models.NormalizerConfig{
		DefaultMethod: models.MethodRatio,
		Epsilon:       1e-9,
		ZScoreCap:     10,
	}
}

// New создает нормализатор поверх хранилища базовых линий
func New(store *baseline.Store, cfg models.NormalizerConfig, logger *zap.Logger, opts ...Option) (*Normalizer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Normalizer{
		conditions: make(map[string]models.ConditionDefinition),
		thresholds: make(map[thresholdKey]models.AdaptiveThreshold),
		config:     cfg,
		baselines:  store,
		history:    history.New[models.NormalizationRecord](history.DefaultCapacity),
		logger:     logger.Named("condition"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Config текущие настройки
func (n *Normalizer) Config() models.NormalizerConfig {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.config
}

// UpdateConfig заменяет настройки
func (n *Normalizer) UpdateConfig(cfg models.NormalizerConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	n.mu.Lock()
	n.config = cfg
	n.mu.Unlock()

	n.logger.Info("normalizer config updated",
		zap.String("default_method", string(cfg.DefaultMethod)),
		zap.Float64("epsilon", cfg.Epsilon),
		zap.Float64("zscore_cap", cfg.ZScoreCap),
	)
	return nil
}

// ValidateConfig проверяет настройки нормализатора
func ValidateConfig(cfg models.NormalizerConfig) error {
	if !cfg.DefaultMethod.Valid() {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidInput, cfg.DefaultMethod)
	}
	if cfg.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon must be positive", ErrInvalidInput)
	}
	if cfg.ZScoreCap <= 0 {
		return fmt.Errorf("%w: zscore cap must be positive", ErrInvalidInput)
	}
	return nil
}

// AddCondition регистрирует режим работы
func (n *Normalizer) AddCondition(def models.ConditionDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: condition id is required", ErrInvalidInput)
	}
	if def.ID == baseline.GlobalConditionID {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidInput, baseline.GlobalConditionID)
	}
	for _, kf := range def.KeyFeatures {
		if kf.Feature == "" || kf.Min > kf.Max {
			return fmt.Errorf("%w: key feature %q has invalid range", ErrInvalidInput, kf.Feature)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.conditions[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrConditionExists, def.ID)
	}
	n.conditions[def.ID] = cloneDefinition(def)
	n.logger.Info("condition added", zap.String("condition", def.ID))
	return nil
}

// RemoveCondition удаляет режим. Базовые линии и пороги режима не удаляются.
func (n *Normalizer) RemoveCondition(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.conditions[id]; !exists {
		return fmt.Errorf("%w: %s", ErrConditionNotFound, id)
	}
	delete(n.conditions, id)
	n.logger.Info("condition removed", zap.String("condition", id))
	return nil
}

// Conditions возвращает зарегистрированные режимы, отсортированные по id
func (n *Normalizer) Conditions() []models.ConditionDefinition {
	n.mu.RLock()
	defer n.mu.RUnlock()

	defs := make([]models.ConditionDefinition, 0, len(n.conditions))
	for _, def := range n.conditions {
		defs = append(defs, cloneDefinition(def))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// UpdateThreshold заменяет пороги для пары (режим, признак)
func (n *Normalizer) UpdateThreshold(conditionID, feature string, t models.AdaptiveThreshold) error {
	if conditionID == "" || feature == "" {
		return fmt.Errorf("%w: condition and feature are required", ErrInvalidInput)
	}
	if !t.Valid() {
		return fmt.Errorf("%w: each range must satisfy low <= high", ErrInvalidThreshold)
	}

	n.mu.Lock()
	n.thresholds[thresholdKey{condition: conditionID, feature: feature}] = t
	n.mu.Unlock()

	n.logger.Info("threshold updated", zap.String("condition", conditionID), zap.String("feature", feature))
	return nil
}

// Thresholds возвращает все явно заданные пороги
func (n *Normalizer) Thresholds() []models.ThresholdEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()

	entries := make([]models.ThresholdEntry, 0, len(n.thresholds))
	for k, t := range n.thresholds {
		entries = append(entries, models.ThresholdEntry{ConditionID: k.condition, Feature: k.feature, Thresholds: t})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ConditionID != entries[j].ConditionID {
			return entries[i].ConditionID < entries[j].ConditionID
		}
		return entries[i].Feature < entries[j].Feature
	})
	return entries
}

// Baselines снимок всех базовых линий
func (n *Normalizer) Baselines() models.BaselineSnapshot {
	return n.baselines.Snapshot()
}

// ExportBaselines то же, что Baselines: вложенная карта для внешнего хранения
func (n *Normalizer) ExportBaselines() models.BaselineSnapshot {
	return n.baselines.Snapshot()
}

// LoadBaselines заменяет все базовые линии снимком
func (n *Normalizer) LoadBaselines(snapshot models.BaselineSnapshot) error {
	if err := n.baselines.Load(snapshot); err != nil {
		return err
	}
	n.logger.Info("baselines loaded", zap.Int("conditions", len(snapshot)), zap.Int("entries", n.baselines.Len()))
	return nil
}

// RestoreBaselines загружает базовые линии из внешнего хранилища, если оно подключено
func (n *Normalizer) RestoreBaselines(ctx context.Context) error {
	if n.snapshotter == nil {
		return nil
	}
	snapshot, err := n.snapshotter.LoadBaselines(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore baselines: %w", err)
	}
	if len(snapshot) == 0 {
		return nil
	}
	return n.LoadBaselines(snapshot)
}

// History возвращает последние записи нормализации, опционально по режиму
func (n *Normalizer) History(limit int, conditionID string) []models.NormalizationRecord {
	var filter func(models.NormalizationRecord) bool
	if conditionID != "" {
		filter = func(r models.NormalizationRecord) bool { return r.Result.ConditionID == conditionID }
	}
	return n.history.List(limit, filter)
}

// ClearHistory очищает журнал нормализаций
func (n *Normalizer) ClearHistory() {
	n.history.Clear()
}

func cloneDefinition(def models.ConditionDefinition) models.ConditionDefinition {
	out := def
	out.KeyFeatures = append([]models.KeyFeature(nil), def.KeyFeatures...)
	return out
}
