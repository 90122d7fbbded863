package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilbank/concierge/pkg/handler"
	"github.com/agilbank/concierge/pkg/orchestrator"
	"github.com/agilbank/concierge/pkg/session"
)

type echoHandler struct{}

func (echoHandler) Name() string { return "triage" }
func (echoHandler) Reset()       {}

func (echoHandler) Process(ctx context.Context, message string, conv *handler.Conversation) (handler.Result, error) {
	if message == "bye" {
		return handler.Result{Reply: "goodbye", EndConversation: true}, nil
	}
	return handler.Result{Reply: "echo: " + message}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	memory, err := session.NewManager("")
	require.NoError(t, err)

	svc, err := orchestrator.NewService(func(conversationID string) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(orchestrator.Config{
			ConversationID: conversationID,
			Handlers:       map[string]handler.Handler{"triage": echoHandler{}},
			Entry:          "triage",
			Memory:         memory,
			Logger:         zerolog.Nop(),
		})
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Service: svc, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req Request) Response {
	t.Helper()

	require.NoError(t, conn.WriteJSON(req))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestServer_ProcessTurn(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, Request{Type: TypeProcessTurn, ID: "r1", ConversationID: "conv-1", Message: "hello"})

	assert.Equal(t, TypeProcessTurn, resp.Type)
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, "echo: hello", resp.Reply)
	assert.Equal(t, "triage", resp.Handler)
	assert.False(t, resp.Ended)
	assert.Empty(t, resp.Error)
}

func TestServer_EndedTurn(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, Request{Type: TypeProcessTurn, ConversationID: "conv-1", Message: "bye"})

	assert.Equal(t, "goodbye", resp.Reply)
	assert.True(t, resp.Ended)
}

func TestServer_Reset(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	_ = roundTrip(t, conn, Request{Type: TypeProcessTurn, ConversationID: "conv-1", Message: "hello"})
	resp := roundTrip(t, conn, Request{Type: TypeReset, ConversationID: "conv-1"})

	assert.Equal(t, TypeReset, resp.Type)
	assert.Empty(t, resp.Error)
}

func TestServer_InvalidConversationID(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, Request{Type: TypeProcessTurn, ConversationID: "../escape", Message: "hello"})
	assert.NotEmpty(t, resp.Error)
}

func TestServer_UnknownFrameType(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, Request{Type: "bogus", ConversationID: "conv-1"})
	assert.Contains(t, resp.Error, "unknown frame type")
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
