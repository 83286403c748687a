// Package stream рассылает результаты диагностики подключенным websocket-клиентам
package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"diagnosis-service/internal/metrics"
	"diagnosis-service/internal/models"
)

// Типы сообщений
const (
	MessageDiagnosis     = "diagnosis"
	MessageNormalization = "normalization"
)

// Message конверт сообщения
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub хранит активных клиентов и рассылает им сообщения
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
}

// NewHub создает хаб; buffer размер очереди рассылки
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("stream"),
	}
}

// Run обслуживает регистрацию и рассылку до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			metrics.StreamClients.Set(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.StreamClients.Set(float64(len(h.clients)))
			h.logger.Debug("client registered", zap.String("remote", client.remote))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.StreamClients.Set(float64(len(h.clients)))
				h.logger.Debug("client unregistered", zap.String("remote", client.remote))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать
					h.logger.Warn("client send buffer full, removing", zap.String("remote", client.remote))
					close(client.send)
					delete(h.clients, client)
				}
			}
			metrics.StreamClients.Set(float64(len(h.clients)))
		}
	}
}

// Publish отправляет сообщение всем клиентам. Не блокирует: при переполнении
// очереди сообщение отбрасывается.
func (h *Hub) Publish(msgType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("type", msgType), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, message dropped", zap.String("type", msgType))
	}
}

// ObserveDiagnosis рассылает результат диагностики
func (h *Hub) ObserveDiagnosis(rec models.HistoryRecord) {
	h.Publish(MessageDiagnosis, rec.Result)
}

// ServeHTTP переводит соединение на websocket и регистрирует клиента
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), remote: conn.RemoteAddr().String()}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
