package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"diagnosis-service/internal/metrics"
	"diagnosis-service/internal/models"
)

// SubscriberConfig параметры подключения к брокеру
type SubscriberConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Subscriber подписчик MQTT, передающий срезы в пул воркеров
type Subscriber struct {
	cfg    SubscriberConfig
	pool   *Pool
	client mqtt.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewSubscriber создает подписчика. Подключение выполняет Connect.
func NewSubscriber(cfg SubscriberConfig, pool *Pool, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:    cfg,
		pool:   pool,
		now:    time.Now,
		logger: logger.Named("mqtt"),
	}
}

// Connect подключается к брокеру. Подписка восстанавливается при каждом переподключении.
func (s *Subscriber) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%d", s.cfg.ClientID, time.Now().Unix()))
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
			return
		}
		s.logger.Info("subscribed", zap.String("broker", s.cfg.Broker), zap.String("topic", s.cfg.Topic))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.Warn("connection lost", zap.Error(err))
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.cfg.Broker, token.Error())
	}
	return nil
}

// Disconnect отключается от брокера
func (s *Subscriber) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// handleMessage разбирает срез и ставит его в очередь.
// Если компонент не указан в сообщении, он берется из второго сегмента топика
// (sensors/<component>/slice).
func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	slice, err := decodeSlice(msg.Topic(), msg.Payload(), s.now)
	if err != nil {
		metrics.IngestMessages.WithLabelValues("invalid").Inc()
		s.logger.Debug("invalid message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	if !s.pool.Submit(slice) {
		metrics.IngestMessages.WithLabelValues("dropped").Inc()
		s.logger.Warn("ingest queue full, slice dropped", zap.String("component", slice.Component))
		return
	}
	metrics.IngestMessages.WithLabelValues("accepted").Inc()
}

func decodeSlice(topic string, payload []byte, now func() time.Time) (models.DataSlice, error) {
	var slice models.DataSlice
	if err := json.Unmarshal(payload, &slice); err != nil {
		return slice, fmt.Errorf("invalid JSON: %w", err)
	}
	if slice.Component == "" {
		if parts := strings.Split(topic, "/"); len(parts) >= 3 {
			slice.Component = parts[1]
		}
	}
	if slice.Component == "" {
		return slice, errors.New("component is missing")
	}
	if len(slice.Features) == 0 {
		return slice, errors.New("features are missing")
	}
	if slice.Timestamp.IsZero() {
		slice.Timestamp = now()
	}
	return slice, nil
}
