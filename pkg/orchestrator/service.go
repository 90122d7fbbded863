package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agilbank/concierge/pkg/commandqueue"
	"github.com/agilbank/concierge/pkg/session"
)

// Factory builds a fresh orchestrator for a conversation ID. Handlers carry
// per-conversation state, so each conversation gets its own set.
type Factory func(conversationID string) (*Orchestrator, error)

// Service fans incoming turns out to per-conversation orchestrators. Turns
// for the same conversation run strictly in order on a dedicated queue lane;
// different conversations proceed independently.
type Service struct {
	factory Factory
	queue   *commandqueue.Queue
	logger  zerolog.Logger

	mu            sync.Mutex
	orchestrators map[string]*Orchestrator
}

// NewService creates a service around the given factory.
func NewService(factory Factory, logger zerolog.Logger) (*Service, error) {
	if factory == nil {
		return nil, fmt.Errorf("orchestrator: factory is required")
	}
	return &Service{
		factory:       factory,
		queue:         commandqueue.New(),
		logger:        logger,
		orchestrators: make(map[string]*Orchestrator),
	}, nil
}

func (s *Service) orchestrator(conversationID string) (*Orchestrator, error) {
	if err := session.ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orchestrators[conversationID]; ok {
		return o, nil
	}

	o, err := s.factory(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator for %q: %w", conversationID, err)
	}
	s.orchestrators[conversationID] = o
	s.logger.Debug().Str("conversation_id", conversationID).Msg("Conversation started")
	return o, nil
}

// ProcessTurn routes one message through the conversation's orchestrator.
func (s *Service) ProcessTurn(ctx context.Context, conversationID, message string) (Turn, error) {
	o, err := s.orchestrator(conversationID)
	if err != nil {
		return Turn{}, err
	}

	value, err := s.queue.EnqueueWithContext(ctx, conversationID, func(taskCtx context.Context) (interface{}, error) {
		return o.ProcessTurn(taskCtx, message)
	}, nil)
	if err != nil {
		return Turn{}, err
	}

	turn, ok := value.(Turn)
	if !ok {
		return Turn{}, fmt.Errorf("unexpected task result %T", value)
	}
	return turn, nil
}

// ResetConversation drops routing state and memory for a conversation.
// Queued turns for it are rejected.
func (s *Service) ResetConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	o, ok := s.orchestrators[conversationID]
	s.mu.Unlock()

	if !ok {
		if err := session.ValidateConversationID(conversationID); err != nil {
			return err
		}
		return nil
	}

	s.queue.ResetLane(conversationID)

	_, err := s.queue.EnqueueWithContext(ctx, conversationID, func(taskCtx context.Context) (interface{}, error) {
		return nil, o.Reset(taskCtx)
	}, nil)
	return err
}

// CurrentHandler reports which handler owns a conversation, or "" when the
// conversation is unknown.
func (s *Service) CurrentHandler(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orchestrators[conversationID]; ok {
		return o.CurrentHandler()
	}
	return ""
}

// Close drains in-flight turns.
func (s *Service) Close() error {
	return s.queue.Close()
}
