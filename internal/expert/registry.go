// Package expert содержит реестр диагностических экспертов и встроенные эксперты на правилах
package expert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"diagnosis-service/internal/models"
)

// DefaultWeight вес эксперта по умолчанию
const DefaultWeight = 1.0

var (
	// ErrExpertNotFound эксперт не зарегистрирован
	ErrExpertNotFound = errors.New("expert not found")
	// ErrExpertExists эксперт с таким именем уже зарегистрирован
	ErrExpertExists = errors.New("expert already registered")
	// ErrInvalidWeight вес отрицательный или не число
	ErrInvalidWeight = errors.New("invalid weight")
	// ErrInvalidExpert пустое имя или nil-реализация
	ErrInvalidExpert = errors.New("invalid expert")
)

// Expert источник диагностического заключения и функции масс доверия.
// Реализация может обращаться к внешним моделям, поэтому оба метода принимают контекст.
type Expert interface {
	Diagnose(ctx context.Context, data map[string]float64) (models.Opinion, error)
	BeliefMass(ctx context.Context, data map[string]float64) (models.BeliefMass, error)
}

// Describer необязательное описание эксперта для API
type Describer interface {
	Description() string
}

// Entry зарегистрированный эксперт с его весом
type Entry struct {
	Name   string
	Weight float64
	Expert Expert
}

// Info описание для API
func (e Entry) Info() models.ExpertInfo {
	info := models.ExpertInfo{Name: e.Name, Weight: e.Weight}
	if d, ok := e.Expert.(Describer); ok {
		info.Description = d.Description()
	}
	return info
}

// Registry потокобезопасный реестр экспертов. Порядок списка совпадает
// с порядком регистрации.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{}
}

func validWeight(w float64) bool {
	return w >= 0 && !math.IsNaN(w) && !math.IsInf(w, 0)
}

// Register добавляет эксперта
func (r *Registry) Register(name string, weight float64, e Expert) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidExpert)
	}
	if e == nil {
		return fmt.Errorf("%w: %q has no implementation", ErrInvalidExpert, name)
	}
	if !validWeight(weight) {
		return fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(name) >= 0 {
		return fmt.Errorf("%w: %q", ErrExpertExists, name)
	}
	r.entries = append(r.entries, Entry{Name: name, Weight: weight, Expert: e})
	return nil
}

// UpdateWeight меняет вес эксперта. Изменение действует со следующей диагностики.
func (r *Registry) UpdateWeight(name string, weight float64) error {
	if !validWeight(weight) {
		return fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrExpertNotFound, name)
	}
	r.entries[i].Weight = weight
	return nil
}

// Unregister удаляет эксперта
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrExpertNotFound, name)
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	return nil
}

// Get возвращает эксперта по имени
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexLocked(name)
	if i < 0 {
		return Entry{}, false
	}
	return r.entries[i], true
}

// List возвращает копию списка экспертов
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len количество экспертов
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) indexLocked(name string) int {
	for i, e := range r.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}
