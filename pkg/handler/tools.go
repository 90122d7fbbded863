package handler

import (
	"context"

	"github.com/agilbank/concierge/pkg/toolexec"
)

// registerRoutingTools adds the redirect and end tools every specialist
// handler offers. The tool handlers only acknowledge; the routing effect is
// derived from the executed calls after the turn.
func registerRoutingTools(exec *toolexec.Executor, exclude ...string) {
	skip := map[string]bool{}
	for _, name := range exclude {
		skip[name] = true
	}

	ack := func(message string) toolexec.Handler {
		return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return message, nil
		}
	}

	defs := []toolexec.Definition{
		{
			Name:        toolRedirectCredit,
			Description: "Hand the conversation to the credit specialist for limit queries and raise requests",
			Handler:     ack("transferring to the credit specialist"),
		},
		{
			Name:        toolRedirectExchange,
			Description: "Hand the conversation to the exchange specialist for currency rates",
			Handler:     ack("transferring to the exchange specialist"),
		},
		{
			Name:        toolRedirectInterview,
			Description: "Hand the conversation to the interview specialist to recalculate the credit score",
			Handler:     ack("transferring to the interview specialist"),
		},
		{
			Name:        toolRedirectTriage,
			Description: "Hand the conversation back to the general assistant for anything outside your specialty",
			Handler:     ack("transferring back to the general assistant"),
		},
		{
			Name:        toolEndConversation,
			Description: "End the conversation when the customer is done",
			Handler:     ack("conversation ended"),
		},
	}

	for _, def := range defs {
		if skip[def.Name] {
			continue
		}
		exec.MustRegister(def)
	}
}
