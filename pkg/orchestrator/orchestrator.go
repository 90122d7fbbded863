// Package orchestrator owns conversation routing: it holds the current
// handler for each conversation, feeds incoming messages to it, applies
// handoff directives, and records every completed turn in conversation
// memory.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/agilbank/concierge/internal/observability"
	"github.com/agilbank/concierge/internal/tracing"
	"github.com/agilbank/concierge/pkg/gateway"
	"github.com/agilbank/concierge/pkg/handler"
	"github.com/agilbank/concierge/pkg/session"
)

// DefaultWindowSize bounds how many past turns are replayed to the model.
const DefaultWindowSize = 10

// User-facing fallback replies. Handler and provider failures never leak
// diagnostics to the customer.
const (
	replyUnavailable = "I am sorry, our assistant is temporarily unavailable. Please try again in a few minutes."
	replyApology     = "I am sorry, something went wrong on my side. Could you say that again, please?"
	replyFallback    = "How can I help you today?"
)

// Turn is the caller-visible outcome of one processed message.
type Turn struct {
	Reply   string
	Handler string
	Ended   bool
}

// Config wires an orchestrator for a single conversation.
type Config struct {
	ConversationID string
	Handlers       map[string]handler.Handler
	Entry          string
	Memory         *session.Manager
	WindowSize     int
	Logger         zerolog.Logger
}

// Orchestrator routes one conversation. It is not safe for concurrent use;
// callers serialize turns per conversation (see Service).
type Orchestrator struct {
	cfg        Config
	windowSize int

	current string
	conv    *handler.Conversation
}

// New creates an orchestrator. The entry handler defaults to triage.
func New(cfg Config) (*Orchestrator, error) {
	if err := session.ValidateConversationID(cfg.ConversationID); err != nil {
		return nil, err
	}
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("orchestrator: at least one handler is required")
	}
	if cfg.Memory == nil {
		return nil, errors.New("orchestrator: conversation memory is required")
	}
	if cfg.Entry == "" {
		cfg.Entry = handler.NameTriage
	}
	if _, ok := cfg.Handlers[cfg.Entry]; !ok {
		return nil, fmt.Errorf("orchestrator: entry handler %q is not registered", cfg.Entry)
	}

	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	return &Orchestrator{
		cfg:        cfg,
		windowSize: windowSize,
		current:    cfg.Entry,
		conv:       &handler.Conversation{ID: cfg.ConversationID},
	}, nil
}

// CurrentHandler returns the name of the handler owning the conversation.
func (o *Orchestrator) CurrentHandler() string {
	return o.current
}

// ProcessTurn feeds one user message to the current handler, follows at most
// one handoff, appends the completed turn to memory and returns the reply.
// Handler and provider failures surface as apology replies, never as errors;
// routing state survives them untouched.
func (o *Orchestrator) ProcessTurn(ctx context.Context, message string) (Turn, error) {
	ctx = tracing.WithConversationID(ctx, o.cfg.ConversationID)
	ctx = tracing.WithTurnID(ctx, tracing.NewTurnID())
	ctx, span := tracing.StartSpan(
		ctx,
		"concierge.orchestrator",
		"orchestrator.process_turn",
		attribute.String("handler", o.current),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, o.cfg.Logger).With().Str("handler", o.current).Logger()
	start := time.Now()

	window, err := o.cfg.Memory.Window(o.cfg.ConversationID, o.windowSize)
	if err != nil {
		// Memory is advisory for the transcript; the turn still runs.
		logger.Warn().Err(err).Msg("Failed to load memory window")
		window = nil
	}
	o.conv.Window = window

	turn, procErr := o.runHandlers(ctx, message, logger)

	outcome := "ok"
	switch {
	case procErr != nil:
		outcome = "error"
		span.RecordError(procErr)
		span.SetStatus(codes.Error, procErr.Error())

		turn = Turn{Handler: o.current, Reply: replyApology}
		if errors.Is(procErr, gateway.ErrExhausted) {
			turn.Reply = replyUnavailable
			logger.Error().Err(procErr).Msg("Provider capacity exhausted")
		} else {
			logger.Error().Err(procErr).Msg("Turn failed")
		}
	case turn.Ended:
		outcome = "ended"
	}

	if err := o.cfg.Memory.Append(ctx, o.cfg.ConversationID, session.Turn{
		User:      message,
		Reply:     turn.Reply,
		Handler:   turn.Handler,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return Turn{}, fmt.Errorf("failed to record turn: %w", err)
	}

	observability.RecordTurn(turn.Handler, time.Since(start), outcome)
	logger.Info().
		Str("owning_handler", turn.Handler).
		Bool("ended", turn.Ended).
		Str("outcome", outcome).
		Dur("duration", time.Since(start)).
		Msg("Turn processed")

	if turn.Ended {
		// The conversation is over; the next message starts fresh while
		// the memory log stays intact.
		o.resetRouting()
	}

	return turn, nil
}

// runHandlers calls the current handler and follows at most one handoff when
// the first reply is empty, so the switch stays invisible to the caller.
// Ownership is committed only once the whole turn succeeds, so a failure
// never leaves routing state half-moved.
func (o *Orchestrator) runHandlers(ctx context.Context, message string, logger zerolog.Logger) (Turn, error) {
	owner := o.current

	res, err := o.safeProcess(ctx, o.cfg.Handlers[owner], message)
	if err != nil {
		return Turn{}, err
	}
	o.merge(res)

	if res.NextHandler != "" {
		next, ok := o.cfg.Handlers[res.NextHandler]
		if !ok {
			return Turn{}, fmt.Errorf("handler %q redirected to unknown handler %q", owner, res.NextHandler)
		}

		logger.Info().
			Str("from", owner).
			Str("to", res.NextHandler).
			Bool("silent", res.Reply == "").
			Msg("Handoff")

		// A silent handoff re-runs the same message once on the new
		// handler so the user never receives a blank turn.
		if res.Reply == "" {
			followup, err := o.safeProcess(ctx, next, message)
			if err != nil {
				return Turn{}, err
			}
			o.merge(followup)
			res = followup
		}

		owner = next.Name()

		// Ownership may move once more, but the message is not re-run
		// a second time.
		if res.NextHandler != "" && res.NextHandler != owner {
			if _, ok := o.cfg.Handlers[res.NextHandler]; ok {
				owner = res.NextHandler
			}
		}
	}

	o.current = owner

	reply := res.Reply
	if reply == "" && !res.EndConversation {
		reply = replyFallback
	}

	return Turn{Reply: reply, Handler: owner, Ended: res.EndConversation}, nil
}

// safeProcess shields routing state from handler panics.
func (o *Orchestrator) safeProcess(ctx context.Context, h handler.Handler, message string) (res handler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", h.Name(), r)
		}
	}()
	return h.Process(ctx, message, o.conv)
}

// merge folds a handler result into the shared conversation context. Only
// triage produces a customer; authentication is set exactly there.
func (o *Orchestrator) merge(res handler.Result) {
	if res.Customer != nil {
		o.conv.Customer = res.Customer
		o.conv.Authenticated = true
	}
}

// resetRouting returns the conversation to the entry handler and clears the
// authenticated subject and all per-handler working state.
func (o *Orchestrator) resetRouting() {
	o.current = o.cfg.Entry
	o.conv = &handler.Conversation{ID: o.cfg.ConversationID}
	for _, h := range o.cfg.Handlers {
		h.Reset()
	}
}

// Reset clears routing state and erases the conversation's memory.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.resetRouting()
	return o.cfg.Memory.Reset(ctx, o.cfg.ConversationID)
}
