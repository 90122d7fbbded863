package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agilbank/concierge/pkg/agent"
	"github.com/agilbank/concierge/pkg/quote"
	"github.com/agilbank/concierge/pkg/toolexec"
)

// ExchangeConfig configures the exchange handler.
type ExchangeConfig struct {
	Gateway   agent.Invoker
	Quotes    *quote.Client
	MaxRounds int
	Logger    zerolog.Logger
}

// Exchange answers currency rate questions against BRL.
type Exchange struct {
	cfg  ExchangeConfig
	loop *agent.Loop
}

// NewExchange creates an exchange handler for one conversation.
func NewExchange(cfg ExchangeConfig) (*Exchange, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("handler: gateway is required")
	}
	if cfg.Quotes == nil {
		return nil, errors.New("handler: quote client is required")
	}

	e := &Exchange{cfg: cfg}

	exec := toolexec.New(0)
	registerRoutingTools(exec, toolRedirectExchange)
	exec.MustRegister(toolexec.Definition{
		Name:        "currency_quote",
		Description: fmt.Sprintf("Fetch the current rate of a currency against the Brazilian real. Supported: %s", strings.Join(quote.SupportedCodes(), ", ")),
		Parameters: []toolexec.Parameter{
			{Name: "currency", Type: "string", Description: "ISO code or common name of the currency", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			currency, _ := params["currency"].(string)
			q, err := e.cfg.Quotes.Latest(ctx, currency)
			if err != nil {
				return nil, err
			}
			return q, nil
		},
	})

	loop, err := agent.NewLoop(cfg.Gateway, exec, cfg.MaxRounds, cfg.Logger)
	if err != nil {
		return nil, err
	}
	e.loop = loop

	return e, nil
}

func (e *Exchange) Name() string { return NameExchange }

func (e *Exchange) Reset() {}

func (e *Exchange) Process(ctx context.Context, message string, conv *Conversation) (Result, error) {
	if !conv.Authenticated {
		return Result{NextHandler: NameTriage}, nil
	}

	res, err := e.loop.Run(ctx, agent.RunParams{
		System:      exchangePrompt,
		Window:      conv.Window,
		UserMessage: message,
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Reply: res.Text}
	applyDirectives(&result, res.Calls)
	return result, nil
}
