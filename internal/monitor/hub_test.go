package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/events"
)

func TestHubBroadcastsEventsToClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The register channel is unbuffered; give the hub a beat to add us.
	time.Sleep(50 * time.Millisecond)

	hub.Emit(events.New(events.TypeStepStart, events.StepStart{
		ActionGraphID: "ag-1", Order: 2, Phase: "REPLAY", StepType: "http_request",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "step_start", msg.Type)
	assert.NotZero(t, msg.Timestamp)
	data := msg.Data.(map[string]any)
	assert.Equal(t, "ag-1", data["action_graph_id"])
	assert.Equal(t, float64(2), data["order"])
}

func TestEmitBeforeRunIsDropped(t *testing.T) {
	hub := NewHub(zap.NewNop())
	// Must not block or panic with no loop running.
	hub.Emit(events.New(events.TypeRunStart, events.RunStart{TargetURL: "http://t"}))
}

func TestHealthz(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := NewServer(":0", hub, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
