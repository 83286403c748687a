// Package baseline хранит статистические профили признаков по режимам работы
package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"diagnosis-service/internal/models"
)

// GlobalConditionID режим, базовые линии которого используются как запасные
const GlobalConditionID = "global"

// ErrInvalidBaseline некорректная базовая линия в снимке
var ErrInvalidBaseline = errors.New("invalid baseline")

// Snapshotter внешнее хранилище снимков базовых линий
type Snapshotter interface {
	SaveBaselines(ctx context.Context, snapshot models.BaselineSnapshot) error
	LoadBaselines(ctx context.Context) (models.BaselineSnapshot, error)
}

// Reader доступ к базовым линиям внутри одной блокировки чтения
type Reader interface {
	// Lookup ищет базовую линию режима, затем глобальную.
	// Возвращает источник: models.BaselineFromCondition или models.BaselineFromGlobal.
	Lookup(conditionID, feature string) (models.ConditionBaseline, string, bool)
}

// Store потокобезопасное хранилище базовых линий
type Store struct {
	mu      sync.RWMutex
	entries map[string]map[string]models.ConditionBaseline
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		entries: make(map[string]map[string]models.ConditionBaseline),
	}
}

type lockedReader struct {
	s *Store
}

func (r lockedReader) Lookup(conditionID, feature string) (models.ConditionBaseline, string, bool) {
	if b, ok := r.s.entries[conditionID][feature]; ok {
		return b, models.BaselineFromCondition, true
	}
	if b, ok := r.s.entries[GlobalConditionID][feature]; ok {
		return b, models.BaselineFromGlobal, true
	}
	return models.ConditionBaseline{}, models.BaselineNone, false
}

// Read выполняет fn под блокировкой чтения, чтобы весь срез нормализовался
// по одной согласованной версии базовых линий
func (s *Store) Read(fn func(r Reader)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(lockedReader{s: s})
}

// Get возвращает базовую линию для точного ключа
func (s *Store) Get(conditionID, feature string) (models.ConditionBaseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.entries[conditionID][feature]
	return b, ok
}

// Replace перезаписывает переданные базовые линии целиком
func (s *Store) Replace(learned []models.LearnedBaseline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range learned {
		features, ok := s.entries[l.ConditionID]
		if !ok {
			features = make(map[string]models.ConditionBaseline)
			s.entries[l.ConditionID] = features
		}
		features[l.Feature] = l.Baseline
	}
}

// Snapshot возвращает глубокую копию всех базовых линий
func (s *Store) Snapshot() models.BaselineSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(models.BaselineSnapshot, len(s.entries))
	for condition, features := range s.entries {
		copied := make(map[string]models.ConditionBaseline, len(features))
		for name, b := range features {
			copied[name] = b
		}
		snapshot[condition] = copied
	}
	return snapshot
}

// Load заменяет содержимое хранилища снимком. Снимок проверяется целиком
// до изменения состояния.
func (s *Store) Load(snapshot models.BaselineSnapshot) error {
	entries := make(map[string]map[string]models.ConditionBaseline, len(snapshot))
	for condition, features := range snapshot {
		if condition == "" {
			return fmt.Errorf("%w: empty condition id", ErrInvalidBaseline)
		}
		copied := make(map[string]models.ConditionBaseline, len(features))
		for name, b := range features {
			if err := Validate(b); err != nil {
				return fmt.Errorf("%w: %s/%s: %v", ErrInvalidBaseline, condition, name, err)
			}
			copied[name] = b
		}
		entries[condition] = copied
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// Conditions возвращает отсортированный список режимов, для которых есть базовые линии
func (s *Store) Conditions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len общее количество базовых линий
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, features := range s.entries {
		n += len(features)
	}
	return n
}

// Validate проверяет, что значения конечны и std неотрицательно
func Validate(b models.ConditionBaseline) error {
	for _, v := range []float64{b.Mean, b.Std, b.P5, b.P95} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite value")
		}
	}
	if b.Std < 0 {
		return errors.New("negative std")
	}
	return nil
}
