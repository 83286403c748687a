package ingest

import (
	"context"

	"diagnosis-service/internal/metrics"
	"diagnosis-service/internal/models"
	"diagnosis-service/internal/stream"
)

// Normalizer нормализует срез по режиму работы
type Normalizer interface {
	ProcessSlice(slice models.DataSlice, method models.Method, overrides *models.NormalizationOverrides) (models.NormalizedResult, error)
}

// Diagnoser выполняет слияние свидетельств
type Diagnoser interface {
	Diagnose(ctx context.Context, req models.DiagnoseRequest) (models.FusionResult, error)
}

// Publisher рассылает промежуточные результаты
type Publisher interface {
	Publish(msgType string, payload interface{})
}

// Pipeline нормализует срез и передает состояния признаков в диагностику
type Pipeline struct {
	normalizer Normalizer
	diagnoser  Diagnoser
	publisher  Publisher
}

// NewPipeline создает конвейер; publisher может быть nil
func NewPipeline(n Normalizer, d Diagnoser, p Publisher) *Pipeline {
	return &Pipeline{normalizer: n, diagnoser: d, publisher: p}
}

// Process обрабатывает срез. Нераспознанный режим не мешает диагностике:
// эксперты работают по сырым признакам, серьезность оценивается без состояний.
func (p *Pipeline) Process(ctx context.Context, slice models.DataSlice) error {
	req := models.DiagnoseRequest{
		SensorData:  slice.Features,
		Component:   slice.Component,
		DeviceCode:  slice.DeviceCode,
		ConditionID: slice.ConditionID,
	}

	normalized, err := p.normalizer.ProcessSlice(slice, "", nil)
	metrics.RecordNormalization(normalized)
	if err == nil {
		req.ConditionID = normalized.ConditionID
		req.FeatureStates = normalized.States()
		if p.publisher != nil {
			p.publisher.Publish(stream.MessageNormalization, normalized)
		}
	}

	_, err = p.diagnoser.Diagnose(ctx, req)
	return err
}
