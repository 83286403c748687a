// Package history хранит ограниченный журнал последних записей в памяти
package history

import "sync"

// DefaultCapacity размер журнала по умолчанию
const DefaultCapacity = 500

// Log ограниченная FIFO-очередь с монотонно растущими идентификаторами.
// При переполнении вытесняется самая старая запись.
type Log[T any] struct {
	mu       sync.RWMutex
	entries  []T
	capacity int
	nextID   uint64
}

// New создает журнал заданной емкости
func New[T any](capacity int) *Log[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Append выделяет следующий идентификатор, строит запись и добавляет ее в журнал.
// Идентификаторы не переиспользуются, в том числе после Clear.
func (l *Log[T]) Append(build func(id uint64) T) T {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry := build(l.nextID)

	if len(l.entries) >= l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
	return entry
}

// List возвращает до limit записей, удовлетворяющих фильтру, от новых к старым.
// limit <= 0 означает без ограничения, nil-фильтр пропускает все записи.
func (l *Log[T]) List(limit int, filter func(T) bool) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]T, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		if filter != nil && !filter(l.entries[i]) {
			continue
		}
		result = append(result, l.entries[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// Len количество записей
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity максимальный размер журнала
func (l *Log[T]) Capacity() int {
	return l.capacity
}

// Clear удаляет все записи
func (l *Log[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}
