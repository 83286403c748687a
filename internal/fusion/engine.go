// Package fusion объединяет заключения экспертов по теории Демпстера-Шафера.
//
// Массы каждого эксперта ослабляются пропорционально его весу, объединяются попарно
// слева направо, а при высоком конфликте итог сверяется со взвешенным голосованием.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"diagnosis-service/internal/expert"
	"diagnosis-service/internal/history"
	"diagnosis-service/internal/models"
)

var (
	// ErrNoExpertsRegistered в реестре нет экспертов
	ErrNoExpertsRegistered = errors.New("no experts registered")
	// ErrAllExpertsFailed ни один эксперт не вернул результат
	ErrAllExpertsFailed = errors.New("all experts failed")
	// ErrInvalidInput некорректный запрос
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidConfig некорректные настройки движка
	ErrInvalidConfig = errors.New("invalid fusion config")
)

// StateSource нормализатор, дающий состояния признаков для оценки серьезности
type StateSource interface {
	ProcessSlice(slice models.DataSlice, method models.Method, overrides *models.NormalizationOverrides) (models.NormalizedResult, error)
}

// Observer получает каждую успешно записанную диагностику
type Observer interface {
	ObserveDiagnosis(rec models.HistoryRecord)
}

// ObserverFunc адаптер функции к Observer
type ObserverFunc func(rec models.HistoryRecord)

// ObserveDiagnosis вызывает f
func (f ObserverFunc) ObserveDiagnosis(rec models.HistoryRecord) { f(rec) }

// HistoryFilter фильтр журнала диагностик. Пустые поля не фильтруют.
type HistoryFilter struct {
	Component  string
	DeviceCode string
	FaultType  string
}

func (f HistoryFilter) match(rec models.HistoryRecord) bool {
	if f.Component != "" && rec.Result.Component != f.Component {
		return false
	}
	if f.DeviceCode != "" && rec.Result.DeviceCode != f.DeviceCode {
		return false
	}
	if f.FaultType != "" && rec.Result.FaultType != f.FaultType {
		return false
	}
	return true
}

// Engine движок слияния свидетельств
type Engine struct {
	registry *expert.Registry
	states   StateSource

	mu        sync.RWMutex
	config    models.FusionConfig
	observers []Observer

	history *history.Log[models.HistoryRecord]
	logger  *zap.Logger
	now     func() time.Time
}

// Option настраивает движок
type Option func(*Engine)

// WithStateSource подключает нормализатор для запросов с Normalize
func WithStateSource(s StateSource) Option {
	return func(e *Engine) { e.states = s }
}

// WithHistoryCapacity задает размер журнала диагностик
func WithHistoryCapacity(capacity int) Option {
	return func(e *Engine) { e.history = history.New[models.HistoryRecord](capacity) }
}

// WithObserver добавляет наблюдателя
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// DefaultConfig настройки по умолчанию
func DefaultConfig() models.FusionConfig {
	return models.FusionConfig{
		ConflictThreshold: 0.3,
		MinConfidence:     0.5,
		FallbackPenalty:   0.3,
		ExpertTimeout:     5 * time.Second,
		FaultTypes:        models.DefaultFaultTypes(),
	}
}

// NewEngine создает движок поверх реестра экспертов
func NewEngine(registry *expert.Registry, cfg models.FusionConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		registry: registry,
		config:   cloneConfig(cfg),
		history:  history.New[models.HistoryRecord](history.DefaultCapacity),
		logger:   logger.Named("fusion"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ValidateConfig проверяет настройки движка
func ValidateConfig(cfg models.FusionConfig) error {
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	switch {
	case !inUnit(cfg.ConflictThreshold):
		return fmt.Errorf("%w: conflict_threshold must be in [0, 1]", ErrInvalidConfig)
	case !inUnit(cfg.MinConfidence):
		return fmt.Errorf("%w: min_confidence must be in [0, 1]", ErrInvalidConfig)
	case !inUnit(cfg.FallbackPenalty):
		return fmt.Errorf("%w: fallback_penalty must be in [0, 1]", ErrInvalidConfig)
	case cfg.ExpertTimeout <= 0:
		return fmt.Errorf("%w: expert_timeout must be positive", ErrInvalidConfig)
	case len(cfg.FaultTypes) == 0:
		return fmt.Errorf("%w: fault_types cannot be empty", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(cfg.FaultTypes))
	for _, f := range cfg.FaultTypes {
		if f == "" || f == models.ThetaKey || f == models.FaultUnknown {
			return fmt.Errorf("%w: fault type %q is reserved", ErrInvalidConfig, f)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("%w: duplicate fault type %q", ErrInvalidConfig, f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

func cloneConfig(cfg models.FusionConfig) models.FusionConfig {
	cfg.FaultTypes = append([]string(nil), cfg.FaultTypes...)
	return cfg
}

// Config текущие настройки
func (e *Engine) Config() models.FusionConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneConfig(e.config)
}

// UpdateConfig заменяет настройки
func (e *Engine) UpdateConfig(cfg models.FusionConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	e.config = cloneConfig(cfg)
	e.mu.Unlock()

	e.logger.Info("fusion config updated",
		zap.Float64("conflict_threshold", cfg.ConflictThreshold),
		zap.Float64("min_confidence", cfg.MinConfidence),
		zap.Duration("expert_timeout", cfg.ExpertTimeout),
	)
	return nil
}

// FaultTypes фрейм различения
func (e *Engine) FaultTypes() []string {
	return e.Config().FaultTypes
}

// Experts описание зарегистрированных экспертов
func (e *Engine) Experts() []models.ExpertInfo {
	entries := e.registry.List()
	infos := make([]models.ExpertInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, entry.Info())
	}
	return infos
}

// AddObserver добавляет наблюдателя после создания движка
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// History последние диагностики, от новых к старым
func (e *Engine) History(limit int, filter HistoryFilter) []models.HistoryRecord {
	return e.history.List(limit, filter.match)
}

// HistoryLen количество записей в журнале
func (e *Engine) HistoryLen() int {
	return e.history.Len()
}

// ClearHistory очищает журнал диагностик
func (e *Engine) ClearHistory() {
	e.history.Clear()
}

type expertOutcome struct {
	evidence models.ExpertEvidence
	mass     models.BeliefMass
}

// Diagnose опрашивает всех экспертов и объединяет их свидетельства.
// Отказ отдельного эксперта не прерывает диагностику; отмена ctx прерывает ее,
// и в журнал ничего не записывается.
func (e *Engine) Diagnose(ctx context.Context, req models.DiagnoseRequest) (models.FusionResult, error) {
	start := e.now()

	if err := validateRequest(req); err != nil {
		return models.FusionResult{}, err
	}

	entries := e.registry.List()
	if len(entries) == 0 {
		return models.FusionResult{}, ErrNoExpertsRegistered
	}
	cfg := e.Config()

	outcomes := make([]expertOutcome, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			outcomes[i] = e.invoke(ctx, entry, req.SensorData, cfg.ExpertTimeout)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		e.logger.Debug("diagnosis canceled", zap.String("component", req.Component), zap.Error(err))
		return models.FusionResult{}, fmt.Errorf("diagnosis canceled: %w", err)
	}

	participants := make([]int, 0, len(outcomes))
	var failures []error
	for i, o := range outcomes {
		if o.evidence.Error != "" {
			failures = append(failures, fmt.Errorf("%s: %s", o.evidence.Expert, o.evidence.Error))
			e.logger.Warn("expert excluded",
				zap.String("expert", o.evidence.Expert),
				zap.String("error", o.evidence.Error),
			)
			continue
		}
		participants = append(participants, i)
	}
	if len(participants) == 0 {
		return models.FusionResult{}, fmt.Errorf("%w: %w", ErrAllExpertsFailed, errors.Join(failures...))
	}

	states, conditionID := e.featureStates(req)
	result := e.fuse(cfg, outcomes, participants, states)
	result.Component = req.Component
	result.DeviceCode = req.DeviceCode
	result.ConditionID = conditionID
	result.Timestamp = start
	result.DurationMs = float64(e.now().Sub(start).Microseconds()) / 1000

	rec := e.history.Append(func(id uint64) models.HistoryRecord {
		result.DiagnosisID = id
		return models.HistoryRecord{
			ID:        id,
			RequestID: uuid.NewString(),
			Request:   req,
			Result:    result,
		}
	})

	e.logger.Info("diagnosis completed",
		zap.Uint64("diagnosis_id", rec.ID),
		zap.String("component", req.Component),
		zap.String("fault_type", result.FaultType),
		zap.Float64("confidence", result.Confidence),
		zap.String("severity", string(result.Severity)),
		zap.Float64("conflict", result.ConflictInfo.ConflictDegree),
		zap.String("resolution", result.FusionDetails.Resolution),
		zap.Int("experts", len(participants)),
	)

	e.mu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()
	for _, o := range observers {
		o.ObserveDiagnosis(rec)
	}
	return result, nil
}

func validateRequest(req models.DiagnoseRequest) error {
	if len(req.SensorData) == 0 {
		return fmt.Errorf("%w: sensor_data is required", ErrInvalidInput)
	}
	for name, v := range req.SensorData {
		if name == "" {
			return fmt.Errorf("%w: empty feature name", ErrInvalidInput)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %q is not finite", ErrInvalidInput, name)
		}
	}
	for name, s := range req.FeatureStates {
		if s.Rank() == 0 && s != models.StateUnknown {
			return fmt.Errorf("%w: feature %q has unknown state %q", ErrInvalidInput, name, s)
		}
	}
	return nil
}

// featureStates берет состояния из запроса или нормализует данные, если это запрошено
func (e *Engine) featureStates(req models.DiagnoseRequest) (map[string]models.FeatureState, string) {
	if len(req.FeatureStates) > 0 || !req.Normalize || e.states == nil {
		return req.FeatureStates, req.ConditionID
	}

	res, err := e.states.ProcessSlice(models.DataSlice{
		Timestamp:   e.now(),
		Component:   req.Component,
		DeviceCode:  req.DeviceCode,
		ConditionID: req.ConditionID,
		Features:    req.SensorData,
	}, req.Method, nil)
	if err != nil {
		e.logger.Debug("normalization skipped", zap.String("component", req.Component), zap.Error(err))
		return nil, req.ConditionID
	}
	return res.States(), res.ConditionID
}

// invoke вызывает эксперта с таймаутом. Эксперт, игнорирующий контекст,
// считается отказавшим по истечении таймаута.
func (e *Engine) invoke(ctx context.Context, entry expert.Entry, data map[string]float64, timeout time.Duration) expertOutcome {
	out := expertOutcome{evidence: models.ExpertEvidence{
		Expert: entry.Name,
		Weight: entry.Weight,
	}}
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		opinion models.Opinion
		mass    models.BeliefMass
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("expert panicked: %v", r)}
			}
		}()
		op, err := entry.Expert.Diagnose(callCtx, data)
		if err != nil {
			done <- reply{err: err}
			return
		}
		mass, err := entry.Expert.BeliefMass(callCtx, data)
		done <- reply{opinion: op, mass: mass, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-callCtx.Done():
		r = reply{err: callCtx.Err()}
	}
	out.evidence.DurationMs = float64(time.Since(start).Microseconds()) / 1000

	if r.err == nil {
		r.err = checkMass(r.mass)
	}
	if r.err != nil {
		out.evidence.Error = r.err.Error()
		return out
	}

	out.mass = r.mass
	out.evidence.Participated = true
	out.evidence.FaultType = r.opinion.FaultType
	out.evidence.Opinion = r.opinion.Description
	out.evidence.Confidence = r.opinion.Confidence
	out.evidence.Evidence = r.opinion.Evidence
	out.evidence.BeliefMass = r.mass.Clone()
	return out
}

// checkMass отклоняет массы с нарушенной нормировкой и массы на зарезервированных
// гипотезах: "unknown" сообщает сам движок, пустое имя не является гипотезой
func checkMass(m models.BeliefMass) error {
	if !m.Valid() {
		return fmt.Errorf("belief mass must be non-negative and sum to 1, got %.6f", m.Sum())
	}
	for _, h := range []string{models.FaultUnknown, ""} {
		if _, ok := m[h]; ok {
			return fmt.Errorf("belief mass uses reserved hypothesis %q", h)
		}
	}
	return nil
}

// fuse выполняет ослабление, комбинирование и разрешение конфликта
func (e *Engine) fuse(cfg models.FusionConfig, outcomes []expertOutcome, participants []int, states map[string]models.FeatureState) models.FusionResult {
	maxWeight := 0.0
	for _, i := range participants {
		maxWeight = math.Max(maxWeight, outcomes[i].evidence.Weight)
	}

	masses := make([]models.BeliefMass, 0, len(participants))
	votes := make([]vote, 0, len(participants))
	for _, i := range participants {
		o := &outcomes[i]
		w := 0.0
		if maxWeight > 0 {
			w = o.evidence.Weight / maxWeight
		}
		o.evidence.NormalizedWeight = w
		masses = append(masses, Discount(o.mass, w))
		if w > 0 {
			votes = append(votes, vote{expert: o.evidence.Expert, fault: o.evidence.FaultType, weight: o.evidence.Weight})
		}
	}

	combined, conflict, pairwise, degenerate := CombineAll(masses)
	frame := extendFrame(cfg.FaultTypes, combined)

	details := models.FusionDetails{
		BeliefMass:        combined,
		Conflict:          conflict,
		PairwiseConflicts: pairwise,
		DegeneratePairs:   degenerate,
		Resolution:        models.ResolutionDempster,
	}
	conflictInfo := models.ConflictInfo{
		HasConflict:    conflict > cfg.ConflictThreshold,
		ConflictDegree: conflict,
		Conflicts:      pairwiseConflicts(votes),
	}

	faultType, confidence := combined.Top(frame)
	if faultType == "" {
		faultType, confidence = models.FaultUnknown, 0
		details.Resolution = models.ResolutionNoEvidence
	}

	if conflictInfo.HasConflict && faultType != models.FaultUnknown {
		details.Vote = weightedVote(votes, frame)
		details.Resolution = models.ResolutionDempsterKept
		if v := details.Vote; v != nil && v.Winner != "" && v.Winner != faultType && confidence < cfg.MinConfidence {
			e.logger.Info("weighted vote overrides dempster",
				zap.String("dempster", faultType),
				zap.Float64("dempster_mass", confidence),
				zap.String("vote", v.Winner),
				zap.Float64("share", v.Share),
			)
			faultType = v.Winner
			confidence = v.Share * (1 - cfg.FallbackPenalty)
			details.Resolution = models.ResolutionWeightedVote
		}
	}

	summary := make([]models.ExpertEvidence, len(outcomes))
	for i, o := range outcomes {
		summary[i] = o.evidence
	}

	severity := Severity(faultType, confidence, states)
	return models.FusionResult{
		FaultType:       faultType,
		Confidence:      confidence,
		Severity:        severity,
		Recommendations: Recommendations(faultType, severity),
		EvidenceSummary: summary,
		ConflictInfo:    conflictInfo,
		FusionDetails:   details,
	}
}

// extendFrame дополняет фрейм гипотезами экспертов, которых в нем нет
func extendFrame(frame []string, m models.BeliefMass) []string {
	known := make(map[string]struct{}, len(frame))
	for _, h := range frame {
		known[h] = struct{}{}
	}
	var extra []string
	for h := range m {
		if _, ok := known[h]; !ok && h != models.ThetaKey {
			extra = append(extra, h)
		}
	}
	if len(extra) == 0 {
		return frame
	}
	sort.Strings(extra)
	return append(append([]string(nil), frame...), extra...)
}
