package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agilbank/concierge/pkg/agent"
	"github.com/agilbank/concierge/pkg/score"
	"github.com/agilbank/concierge/pkg/store"
	"github.com/agilbank/concierge/pkg/toolexec"
)

// CreditConfig configures the credit handler.
type CreditConfig struct {
	Gateway   agent.Invoker
	Store     *store.Store
	Policy    *score.Policy
	MaxRounds int
	Logger    zerolog.Logger
}

// Credit answers limit queries and records limit raise requests, enforcing
// the score-band cap.
type Credit struct {
	cfg  CreditConfig
	loop *agent.Loop

	conv *Conversation
}

// NewCredit creates a credit handler for one conversation.
func NewCredit(cfg CreditConfig) (*Credit, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("handler: gateway is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("handler: store is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("handler: score policy is required")
	}

	c := &Credit{cfg: cfg}

	exec := toolexec.New(0)
	registerRoutingTools(exec, toolRedirectCredit)
	c.registerTools(exec)

	loop, err := agent.NewLoop(cfg.Gateway, exec, cfg.MaxRounds, cfg.Logger)
	if err != nil {
		return nil, err
	}
	c.loop = loop

	return c, nil
}

func (c *Credit) Name() string { return NameCredit }

func (c *Credit) Reset() { c.conv = nil }

func (c *Credit) Process(ctx context.Context, message string, conv *Conversation) (Result, error) {
	// Credit data is personal: an unauthenticated customer goes back to
	// triage carrying the same message.
	if !conv.Authenticated || conv.Customer == nil {
		return Result{NextHandler: NameTriage}, nil
	}

	// Tool closures read the conversation through the handler.
	c.conv = conv

	res, err := c.loop.Run(ctx, agent.RunParams{
		System:      creditPrompt,
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

func (c *Credit) registerTools(exec *toolexec.Executor) {
	exec.MustRegister(toolexec.Definition{
		Name:        "lookup_credit_limit",
		Description: "Fetch the customer's current credit limit and score",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			customer, err := c.cfg.Store.LookupByID(ctx, c.conv.Customer.ID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"credit_limit": customer.CreditLimit,
				"score":        customer.Score,
				"max_limit":    c.cfg.Policy.MaxLimit(customer.Score),
			}, nil
		},
	})

	exec.MustRegister(toolexec.Definition{
		Name:        "request_limit_raise",
		Description: "Request a credit limit raise to the given amount in Brazilian reais",
		Parameters: []toolexec.Parameter{
			{Name: "amount", Type: "number", Description: "Requested new limit in BRL", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			amount, ok := params["amount"].(float64)
			if !ok || amount <= 0 {
				return nil, fmt.Errorf("amount must be a positive number")
			}

			customer, err := c.cfg.Store.LookupByID(ctx, c.conv.Customer.ID)
			if err != nil {
				return nil, err
			}

			maxLimit := c.cfg.Policy.MaxLimit(customer.Score)
			if amount <= customer.CreditLimit {
				return nil, fmt.Errorf("requested amount %.2f is not above the current limit %.2f", amount, customer.CreditLimit)
			}
			if amount > maxLimit {
				return nil, fmt.Errorf("requested amount %.2f exceeds the maximum of %.2f allowed for score %.0f; a financial interview can improve the score", amount, maxLimit, customer.Score)
			}

			requestID, err := c.cfg.Store.RecordRaiseRequest(ctx, customer.ID, amount)
			if err != nil {
				return nil, err
			}
			if err := c.cfg.Store.UpdateLimit(ctx, customer.ID, amount); err != nil {
				return nil, err
			}

			c.cfg.Logger.Info().
				Str("customer_id", customer.ID).
				Float64("amount", amount).
				Msg("Limit raise approved")

			return map[string]interface{}{
				"approved":   true,
				"request_id": requestID,
				"new_limit":  amount,
			}, nil
		},
	})
}
