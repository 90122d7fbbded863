// Package handler implements the per-domain conversation handlers: triage
// (authentication and routing), credit, currency exchange and the financial
// interview. Handlers are created per conversation and hold that
// conversation's working state.
package handler

import (
	"context"

	"github.com/agilbank/concierge/pkg/agent"
	"github.com/agilbank/concierge/pkg/gateway"
	"github.com/agilbank/concierge/pkg/store"
)

// Handler names used for routing.
const (
	NameTriage    = "triage"
	NameCredit    = "credit"
	NameExchange  = "exchange"
	NameInterview = "interview"
)

// Conversation is the shared per-conversation context handlers read and
// enrich. Customer is nil until triage authenticates. Window carries the
// bounded memory window the orchestrator assembles before each turn.
type Conversation struct {
	ID            string
	Customer      *store.Customer
	Authenticated bool
	Window        []gateway.Message
}

// Result is a handler's verdict for one turn. An empty Reply together with a
// NextHandler asks the orchestrator to hand the same message to the named
// handler. Customer, when set, is merged into the conversation context.
type Result struct {
	Reply           string
	NextHandler     string
	EndConversation bool
	Customer        *store.Customer
}

// Handler processes turns for one domain.
type Handler interface {
	Name() string
	Process(ctx context.Context, message string, conv *Conversation) (Result, error)
	// Reset clears per-conversation working state.
	Reset()
}

// Tool names shared across handlers.
const (
	toolRedirectCredit    = "redirect_to_credit"
	toolRedirectExchange  = "redirect_to_exchange"
	toolRedirectInterview = "redirect_to_interview"
	toolRedirectTriage    = "redirect_to_triage"
	toolEndConversation   = "end_conversation"
)

// routing maps redirect tools to handler names.
var routing = map[string]string{
	toolRedirectCredit:    NameCredit,
	toolRedirectExchange:  NameExchange,
	toolRedirectInterview: NameInterview,
	toolRedirectTriage:    NameTriage,
}

// applyDirectives folds executed routing/end tools into a result. The last
// executed directive wins.
func applyDirectives(res *Result, calls []agent.ExecutedCall) {
	for _, call := range calls {
		if !call.Result.Success {
			continue
		}
		if next, ok := routing[call.Name]; ok {
			res.NextHandler = next
			res.EndConversation = false
		}
		if call.Name == toolEndConversation {
			res.EndConversation = true
			res.NextHandler = ""
		}
	}
}
