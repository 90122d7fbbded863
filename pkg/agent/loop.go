// Package agent drives the model/tool round-trip for a single turn: invoke
// the model, execute whatever tools it calls, feed the results back, repeat
// until the model answers in text or the round bound is hit.
package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agilbank/concierge/internal/tracing"
	"github.com/agilbank/concierge/pkg/gateway"
	"github.com/agilbank/concierge/pkg/toolexec"
)

// DefaultMaxRounds bounds how many model invocations one turn may spend.
const DefaultMaxRounds = 5

// Invoker is the gateway surface the loop needs. *gateway.Gateway satisfies
// it; tests substitute scripted responses.
type Invoker interface {
	Invoke(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// RunParams describes one turn.
type RunParams struct {
	System      string
	Window      []gateway.Message
	UserMessage string
	// Tools restricts which registered tools are offered. nil offers every
	// registered tool; an empty non-nil slice offers none.
	Tools []string
}

// ExecutedCall records one tool call the model made and what it produced.
type ExecutedCall struct {
	Name      string
	Arguments map[string]interface{}
	Result    toolexec.Result
}

// RunResult is the outcome of a turn. Degraded is set when the round bound
// was reached with the model still asking for tools; Text then carries
// whatever the final response said, which may be empty.
type RunResult struct {
	Text     string
	Calls    []ExecutedCall
	Degraded bool
	Usage    gateway.TokenUsage
}

// Loop owns the per-turn orchestration between a gateway and a tool executor.
type Loop struct {
	gw        Invoker
	exec      *toolexec.Executor
	maxRounds int
	logger    zerolog.Logger
}

// NewLoop creates a loop. maxRounds <= 0 selects DefaultMaxRounds.
func NewLoop(gw Invoker, exec *toolexec.Executor, maxRounds int, logger zerolog.Logger) (*Loop, error) {
	if gw == nil {
		return nil, fmt.Errorf("agent: gateway is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("agent: tool executor is required")
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Loop{gw: gw, exec: exec, maxRounds: maxRounds, logger: logger}, nil
}

// Executor exposes the loop's tool registry so handlers can register their
// tool sets against the shared executor.
func (l *Loop) Executor() *toolexec.Executor {
	return l.exec
}

// Run executes one turn. Every tool call the model makes is executed and its
// result appended to the transcript before the next invocation, so the
// transcript handed to the model never contains an unanswered call.
func (l *Loop) Run(ctx context.Context, params RunParams) (RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "concierge.agent", "agent.run")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger)

	messages := make([]gateway.Message, 0, len(params.Window)+2)
	if params.System != "" {
		messages = append(messages, gateway.Message{Role: gateway.RoleSystem, Content: params.System})
	}
	messages = append(messages, params.Window...)
	messages = append(messages, gateway.Message{Role: gateway.RoleUser, Content: params.UserMessage})

	var tools []gateway.Tool
	if params.Tools == nil {
		tools = l.exec.Declarations()
	} else if len(params.Tools) > 0 {
		tools = l.exec.Declarations(params.Tools...)
	}

	result := RunResult{}
	var lastText string

	for round := 0; round < l.maxRounds; round++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		resp, err := l.gw.Invoke(ctx, gateway.Request{
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return result, err
		}

		if resp.Usage != nil {
			result.Usage.InputTokens += resp.Usage.InputTokens
			result.Usage.OutputTokens += resp.Usage.OutputTokens
		}
		lastText = resp.Text

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			return result, nil
		}

		logger.Debug().
			Int("round", round+1).
			Int("tool_calls", len(resp.ToolCalls)).
			Msg("Model requested tools")

		messages = append(messages, gateway.Message{
			Role:      gateway.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			res := l.exec.Execute(ctx, call.Name, call.Arguments)
			result.Calls = append(result.Calls, ExecutedCall{
				Name:      call.Name,
				Arguments: call.Arguments,
				Result:    res,
			})
			messages = append(messages, gateway.Message{
				Role:       gateway.RoleTool,
				Content:    res.Serialize(),
				ToolCallID: call.ID,
			})
		}
	}

	logger.Warn().
		Int("max_rounds", l.maxRounds).
		Int("executed_calls", len(result.Calls)).
		Msg("Tool round bound reached, returning degraded result")

	result.Text = lastText
	result.Degraded = true
	return result, nil
}
