package handler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilbank/concierge/pkg/gateway"
)

func newTriage(t *testing.T, gw *scriptedGateway) *Triage {
	t.Helper()
	tr, err := NewTriage(TriageConfig{
		Gateway: gw,
		Store:   newHandlerStore(t),
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return tr
}

func TestTriage_GreetingAsksForID(t *testing.T) {
	tr := newTriage(t, &scriptedGateway{})
	conv := &Conversation{ID: "conv-1"}

	res, err := tr.Process(context.Background(), "good morning", conv)
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "Good morning!")
	assert.Contains(t, res.Reply, "11-digit ID")
	assert.False(t, res.EndConversation)
	assert.Empty(t, res.NextHandler)
}

func TestTriage_FarewellBeforeAuthEnds(t *testing.T) {
	tr := newTriage(t, &scriptedGateway{})
	conv := &Conversation{ID: "conv-1"}

	res, err := tr.Process(context.Background(), "bye", conv)
	require.NoError(t, err)
	assert.True(t, res.EndConversation)
	assert.NotEmpty(t, res.Reply)
}

func TestTriage_FullAuthenticationFlow(t *testing.T) {
	tr := newTriage(t, &scriptedGateway{})
	conv := &Conversation{ID: "conv-1"}
	ctx := context.Background()

	_, err := tr.Process(ctx, "hello", conv)
	require.NoError(t, err)

	res, err := tr.Process(ctx, "my id is 123.456.789-00", conv)
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "birth date")

	res, err = tr.Process(ctx, "15/05/1990", conv)
	require.NoError(t, err)
	require.NotNil(t, res.Customer)
	assert.Equal(t, "Ana Souza", res.Customer.Name)
	assert.Contains(t, res.Reply, "Authentication successful")
}

func TestTriage_ISODateAccepted(t *testing.T) {
	tr := newTriage(t, &scriptedGateway{})
	conv := &Conversation{ID: "conv-1"}
	ctx := context.Background()

	_, err := tr.Process(ctx, "hi", conv)
	require.NoError(t, err)
	_, err = tr.Process(ctx, "12345678900", conv)
	require.NoError(t, err)

	res, err := tr.Process(ctx, "1990-05-15", conv)
	require.NoError(t, err)
	require.NotNil(t, res.Customer)
}

func TestTriage_LockoutAfterThreeFailures(t *testing.T) {
	tr := newTriage(t, &scriptedGateway{})
	conv := &Conversation{ID: "conv-1"}
	ctx := context.Background()

	_, err := tr.Process(ctx, "hi", conv)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		_, err = tr.Process(ctx, "12345678900", conv)
		require.NoError(t, err)

		res, err := tr.Process(ctx, "2000-01-01", conv)
		require.NoError(t, err)
		assert.Nil(t, res.Customer)

		if attempt < 3 {
			assert.False(t, res.EndConversation)
			assert.Contains(t, res.Reply, "do not match")
		} else {
			assert.True(t, res.EndConversation)
			assert.Contains(t, res.Reply, "support")
		}
	}
}

func TestTriage_NoIDUsesModelReply(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		text("Authentication keeps your account safe. Could you share your 11-digit ID?"),
	}}
	tr := newTriage(t, gw)
	conv := &Conversation{ID: "conv-1"}
	ctx := context.Background()

	_, err := tr.Process(ctx, "hi", conv)
	require.NoError(t, err)

	res, err := tr.Process(ctx, "why do you need my documents?", conv)
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "keeps your account safe")

	// The clarify prompt offers no tools.
	require.Len(t, gw.requests, 1)
	assert.Empty(t, gw.requests[0].Tools)
}

func TestTriage_AuthenticatedRouting(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		call(toolRedirectCredit, map[string]interface{}{}),
		text("Taking you to our credit specialist."),
	}}
	tr := newTriage(t, gw)
	s := newHandlerStore(t)
	conv := authedConversation(t, s)

	res, err := tr.Process(context.Background(), "what's my credit limit?", conv)
	require.NoError(t, err)
	assert.Equal(t, NameCredit, res.NextHandler)
	assert.Equal(t, "Taking you to our credit specialist.", res.Reply)
	assert.False(t, res.EndConversation)
}

func TestTriage_AuthenticatedGreeting(t *testing.T) {
	tr := newTriage(t, &scriptedGateway{})
	s := newHandlerStore(t)
	conv := authedConversation(t, s)

	res, err := tr.Process(context.Background(), "hello", conv)
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "Good morning!")
	assert.Contains(t, res.Reply, "Ana Souza")
}

func TestTriage_EndConversationTool(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		call(toolEndConversation, map[string]interface{}{}),
		text("It was a pleasure. Goodbye!"),
	}}
	tr := newTriage(t, gw)
	s := newHandlerStore(t)
	conv := authedConversation(t, s)

	res, err := tr.Process(context.Background(), "nothing else, I'm done", conv)
	require.NoError(t, err)
	assert.True(t, res.EndConversation)
	assert.Equal(t, "It was a pleasure. Goodbye!", res.Reply)
}

func TestTriage_Reset(t *testing.T) {
	tr := newTriage(t, &scriptedGateway{})
	conv := &Conversation{ID: "conv-1"}
	ctx := context.Background()

	_, err := tr.Process(ctx, "hi", conv)
	require.NoError(t, err)
	_, err = tr.Process(ctx, "12345678900", conv)
	require.NoError(t, err)

	tr.Reset()

	res, err := tr.Process(ctx, "hi", conv)
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "11-digit ID")
}
