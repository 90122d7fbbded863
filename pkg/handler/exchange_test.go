package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilbank/concierge/pkg/gateway"
	"github.com/agilbank/concierge/pkg/quote"
)

func newExchange(t *testing.T, gw *scriptedGateway, quoteURL string) *Exchange {
	t.Helper()
	e, err := NewExchange(ExchangeConfig{
		Gateway: gw,
		Quotes:  quote.NewClient(quote.Config{BaseURL: quoteURL, Logger: zerolog.Nop()}),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return e
}

func TestExchange_UnauthenticatedGoesBackToTriage(t *testing.T) {
	e := newExchange(t, &scriptedGateway{}, "http://unused.invalid")

	res, err := e.Process(context.Background(), "dollar rate?", &Conversation{ID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, NameTriage, res.NextHandler)
	assert.Empty(t, res.Reply)
}

func TestExchange_CurrencyQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"USDBRL":{"bid":"5.4321","ask":"5.4401","timestamp":"1724932800"}}`))
	}))
	defer srv.Close()

	gw := &scriptedGateway{responses: []*gateway.Response{
		call("currency_quote", map[string]interface{}{"currency": "dollar"}),
		text("The dollar is trading at R$ 5.43 (buy) / R$ 5.44 (sell)."),
	}}
	e := newExchange(t, gw, srv.URL)
	s := newHandlerStore(t)

	res, err := e.Process(context.Background(), "how much is the dollar?", authedConversation(t, s))
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "5.43")

	toolMsg := gw.requests[1].Messages[len(gw.requests[1].Messages)-1]
	assert.Equal(t, gateway.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, `"code":"USD"`)
}

func TestExchange_UnsupportedCurrencyFedBack(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		call("currency_quote", map[string]interface{}{"currency": "bitcoin"}),
		text("I can only quote traditional currencies like USD or EUR."),
	}}
	e := newExchange(t, gw, "http://unused.invalid")
	s := newHandlerStore(t)

	res, err := e.Process(context.Background(), "bitcoin price?", authedConversation(t, s))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)

	toolMsg := gw.requests[1].Messages[len(gw.requests[1].Messages)-1]
	assert.Contains(t, toolMsg.Content, "unsupported currency")
}

func TestExchange_RedirectToCredit(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		call(toolRedirectCredit, map[string]interface{}{}),
		text("Sending you to our credit specialist."),
	}}
	e := newExchange(t, gw, "http://unused.invalid")
	s := newHandlerStore(t)

	res, err := e.Process(context.Background(), "what's my credit limit?", authedConversation(t, s))
	require.NoError(t, err)
	assert.Equal(t, NameCredit, res.NextHandler)
}
