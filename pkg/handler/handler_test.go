package handler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agilbank/concierge/pkg/gateway"
	"github.com/agilbank/concierge/pkg/score"
	"github.com/agilbank/concierge/pkg/store"
)

// scriptedGateway replays canned model responses in order.
type scriptedGateway struct {
	responses []*gateway.Response
	requests  []gateway.Request
}

func (s *scriptedGateway) Invoke(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &gateway.Response{Text: "out of script"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func text(t string) *gateway.Response {
	return &gateway.Response{Text: t}
}

func call(name string, args map[string]interface{}) *gateway.Response {
	return &gateway.Response{ToolCalls: []gateway.ToolCall{{ID: name + "-1", Name: name, Arguments: args}}}
}

func newHandlerStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{
		DBPath: filepath.Join(t.TempDir(), "concierge.db"),
		Seed:   true,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPolicy(t *testing.T) *score.Policy {
	t.Helper()
	p, err := score.NewPolicy("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func authedConversation(t *testing.T, s *store.Store) *Conversation {
	t.Helper()
	c, err := s.LookupByID(context.Background(), "12345678900")
	require.NoError(t, err)
	return &Conversation{ID: "conv-1", Customer: c, Authenticated: true}
}
