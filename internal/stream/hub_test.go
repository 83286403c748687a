package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosis-service/internal/models"
)

func TestHub_BroadcastsDiagnosis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(16, nil)
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Клиент регистрируется асинхронно, публикуем до получения сообщения
	rec := models.HistoryRecord{ID: 7, Result: models.FusionResult{DiagnosisID: 7, FaultType: models.FaultImbalance}}
	received := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
	}()

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case data := <-received:
			var msg struct {
				Type    string              `json:"type"`
				Payload models.FusionResult `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, MessageDiagnosis, msg.Type)
			assert.Equal(t, uint64(7), msg.Payload.DiagnosisID)
			assert.Equal(t, models.FaultImbalance, msg.Payload.FaultType)
			return
		case <-ticker.C:
			hub.ObserveDiagnosis(rec)
		case <-deadline:
			t.Fatal("no message received")
		}
	}
}

func TestHub_PublishDoesNotBlockWhenQueueFull(t *testing.T) {
	hub := NewHub(1, nil)

	done := make(chan struct{})
	go func() {
		hub.Publish(MessageDiagnosis, 1)
		hub.Publish(MessageDiagnosis, 2)
		hub.Publish(MessageDiagnosis, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}
