// Package ingest принимает срезы данных с датчиков из MQTT и прогоняет их
// через нормализацию и диагностику пулом воркеров
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"diagnosis-service/internal/models"
)

// Processor обрабатывает один срез
type Processor interface {
	Process(ctx context.Context, slice models.DataSlice) error
}

// Pool пул воркеров с ограниченной очередью
type Pool struct {
	processor Processor
	timeout   time.Duration
	jobs      chan models.DataSlice
	stopChan  chan struct{}
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewPool создает пул; timeout ограничивает обработку одного среза
func NewPool(processor Processor, bufferSize int, timeout time.Duration, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		processor: processor,
		timeout:   timeout,
		jobs:      make(chan models.DataSlice, bufferSize),
		stopChan:  make(chan struct{}),
		logger:    logger.Named("ingest"),
	}
}

// Start запускает горутины для обработки срезов
func (p *Pool) Start(numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case slice := <-p.jobs:
			p.process(slice)
		case <-p.stopChan:
			return
		}
	}
}

func (p *Pool) process(slice models.DataSlice) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.processor.Process(ctx, slice); err != nil {
		p.logger.Debug("slice processing failed",
			zap.String("component", slice.Component),
			zap.Error(err),
		)
	}
}

// Submit ставит срез в очередь без блокировки. false, если очередь заполнена.
func (p *Pool) Submit(slice models.DataSlice) bool {
	select {
	case p.jobs <- slice:
		return true
	default:
		return false
	}
}

// Pending количество срезов в очереди
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Stop останавливает воркеров. Срезы, оставшиеся в очереди, отбрасываются.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
