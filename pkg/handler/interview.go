package handler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/agilbank/concierge/pkg/agent"
	"github.com/agilbank/concierge/pkg/score"
	"github.com/agilbank/concierge/pkg/store"
	"github.com/agilbank/concierge/pkg/toolexec"
)

// InterviewConfig configures the interview handler.
type InterviewConfig struct {
	Gateway   agent.Invoker
	Store     *store.Store
	Policy    *score.Policy
	MaxRounds int
	Logger    zerolog.Logger
}

// interviewData is the collected answers; pointers distinguish "not asked
// yet" from zero values.
type interviewData struct {
	MonthlyIncome  *float64
	EmploymentType *string
	FixedExpenses  *float64
	Dependents     *int
	HasDebts       *bool
}

func (d *interviewData) missing() []string {
	var fields []string
	if d.MonthlyIncome == nil {
		fields = append(fields, "monthly_income")
	}
	if d.EmploymentType == nil {
		fields = append(fields, "employment_type")
	}
	if d.FixedExpenses == nil {
		fields = append(fields, "fixed_expenses")
	}
	if d.Dependents == nil {
		fields = append(fields, "dependents")
	}
	if d.HasDebts == nil {
		fields = append(fields, "has_debts")
	}
	return fields
}

// Interview collects the financial interview answers and recalculates the
// customer's credit score.
type Interview struct {
	cfg  InterviewConfig
	loop *agent.Loop

	conv *Conversation
	data interviewData
}

// NewInterview creates an interview handler for one conversation.
func NewInterview(cfg InterviewConfig) (*Interview, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("handler: gateway is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("handler: store is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("handler: score policy is required")
	}

	i := &Interview{cfg: cfg}

	exec := toolexec.New(0)
	registerRoutingTools(exec, toolRedirectInterview)
	i.registerTools(exec)

	loop, err := agent.NewLoop(cfg.Gateway, exec, cfg.MaxRounds, cfg.Logger)
	if err != nil {
		return nil, err
	}
	i.loop = loop

	return i, nil
}

func (i *Interview) Name() string { return NameInterview }

// Reset discards the collected answers.
func (i *Interview) Reset() {
	i.conv = nil
	i.data = interviewData{}
}

func (i *Interview) Process(ctx context.Context, message string, conv *Conversation) (Result, error) {
	if !conv.Authenticated || conv.Customer == nil {
		return Result{NextHandler: NameTriage}, nil
	}

	i.conv = conv

	res, err := i.loop.Run(ctx, agent.RunParams{
		System:      interviewPrompt,
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

func (i *Interview) registerTools(exec *toolexec.Executor) {
	exec.MustRegister(toolexec.Definition{
		Name:        "record_monthly_income",
		Description: "Record the customer's monthly income in Brazilian reais",
		Parameters: []toolexec.Parameter{
			{Name: "amount", Type: "number", Description: "Monthly income in BRL", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			amount, ok := params["amount"].(float64)
			if !ok || amount < 0 {
				return nil, fmt.Errorf("amount must be a non-negative number")
			}
			i.data.MonthlyIncome = &amount
			return i.progress("monthly_income"), nil
		},
	})

	exec.MustRegister(toolexec.Definition{
		Name:        "record_employment_type",
		Description: "Record the customer's employment situation",
		Parameters: []toolexec.Parameter{
			{
				Name:        "type",
				Type:        "string",
				Description: "One of formal, self_employed, unemployed",
				Required:    true,
				Enum:        []string{score.EmploymentFormal, score.EmploymentSelfEmployed, score.EmploymentUnemployed},
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			t, _ := params["type"].(string)
			i.data.EmploymentType = &t
			return i.progress("employment_type"), nil
		},
	})

	exec.MustRegister(toolexec.Definition{
		Name:        "record_fixed_expenses",
		Description: "Record the customer's monthly fixed expenses in Brazilian reais",
		Parameters: []toolexec.Parameter{
			{Name: "amount", Type: "number", Description: "Fixed expenses in BRL", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			amount, ok := params["amount"].(float64)
			if !ok || amount < 0 {
				return nil, fmt.Errorf("amount must be a non-negative number")
			}
			i.data.FixedExpenses = &amount
			return i.progress("fixed_expenses"), nil
		},
	})

	exec.MustRegister(toolexec.Definition{
		Name:        "record_dependents",
		Description: "Record how many dependents the customer has",
		Parameters: []toolexec.Parameter{
			{Name: "count", Type: "integer", Description: "Number of dependents", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, ok := params["count"].(float64)
			if !ok || raw < 0 || raw != math.Trunc(raw) {
				return nil, fmt.Errorf("count must be a non-negative integer")
			}
			count := int(raw)
			i.data.Dependents = &count
			return i.progress("dependents"), nil
		},
	})

	exec.MustRegister(toolexec.Definition{
		Name:        "record_debts",
		Description: "Record whether the customer has active debts",
		Parameters: []toolexec.Parameter{
			{Name: "has_debts", Type: "boolean", Description: "True when the customer has active debts", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			hasDebts, ok := params["has_debts"].(bool)
			if !ok {
				return nil, fmt.Errorf("has_debts must be a boolean")
			}
			i.data.HasDebts = &hasDebts
			return i.progress("has_debts"), nil
		},
	})

	exec.MustRegister(toolexec.Definition{
		Name:        "compute_score",
		Description: "Compute and persist the new credit score from the recorded answers. Requires all five answers.",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			if missing := i.data.missing(); len(missing) > 0 {
				return nil, fmt.Errorf("answers still missing: %v", missing)
			}

			newScore, err := score.Compute(score.Input{
				MonthlyIncome:  *i.data.MonthlyIncome,
				EmploymentType: *i.data.EmploymentType,
				FixedExpenses:  *i.data.FixedExpenses,
				Dependents:     *i.data.Dependents,
				HasDebts:       *i.data.HasDebts,
			})
			if err != nil {
				return nil, err
			}

			if err := i.cfg.Store.UpdateScore(ctx, i.conv.Customer.ID, newScore); err != nil {
				return nil, err
			}
			i.conv.Customer.Score = newScore

			i.cfg.Logger.Info().
				Str("customer_id", i.conv.Customer.ID).
				Float64("score", newScore).
				Msg("Score recalculated")

			return map[string]interface{}{
				"new_score": newScore,
				"max_limit": i.cfg.Policy.MaxLimit(newScore),
			}, nil
		},
	})
}

// progress acknowledges a recorded answer and tells the model what is left.
func (i *Interview) progress(recorded string) map[string]interface{} {
	return map[string]interface{}{
		"recorded": recorded,
		"missing":  i.data.missing(),
	}
}
