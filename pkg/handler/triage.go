package handler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agilbank/concierge/pkg/agent"
	"github.com/agilbank/concierge/pkg/store"
	"github.com/agilbank/concierge/pkg/toolexec"
)

// Authentication stages.
const (
	stageGreeting = iota
	stageCollectID
	stageCollectBirthDate
	stageAuthenticated
)

// maxAuthAttempts locks the conversation after this many failed ID/birth
// date pairs.
const maxAuthAttempts = 3

var (
	digitRunPattern  = regexp.MustCompile(`\d[\d.\- ]*\d`)
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
)

var farewellWords = []string{
	"bye", "goodbye", "exit", "quit", "that is all", "that's all",
	"tchau", "sair", "encerrar", "até logo",
}

func isFarewell(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	for _, w := range farewellWords {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

// TriageConfig configures the triage handler.
type TriageConfig struct {
	Gateway   agent.Invoker
	Store     *store.Store
	MaxRounds int
	Logger    zerolog.Logger
	// Now is injectable for greeting tests; nil uses time.Now.
	Now func() time.Time
}

// Triage authenticates the customer with a staged ID/birth date flow and,
// once authenticated, routes them to the specialist handlers.
type Triage struct {
	cfg  TriageConfig
	loop *agent.Loop

	stage     int
	attempts  int
	pendingID string
}

// NewTriage creates a triage handler for one conversation.
func NewTriage(cfg TriageConfig) (*Triage, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("handler: gateway is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("handler: store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	exec := toolexec.New(0)
	registerRoutingTools(exec, toolRedirectTriage)

	loop, err := agent.NewLoop(cfg.Gateway, exec, cfg.MaxRounds, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &Triage{cfg: cfg, loop: loop}, nil
}

func (t *Triage) Name() string { return NameTriage }

// Reset returns the handler to the greeting stage.
func (t *Triage) Reset() {
	t.stage = stageGreeting
	t.attempts = 0
	t.pendingID = ""
}

func (t *Triage) Process(ctx context.Context, message string, conv *Conversation) (Result, error) {
	// A returning authenticated customer skips the auth flow entirely.
	if conv.Authenticated && t.stage != stageAuthenticated {
		t.stage = stageAuthenticated
	}

	if t.stage != stageAuthenticated && isFarewell(message) {
		return Result{
			Reply:           "Understood! It was a pleasure to assist you. Goodbye!",
			EndConversation: true,
		}, nil
	}

	switch t.stage {
	case stageGreeting:
		return t.greet(message), nil
	case stageCollectID:
		return t.collectID(ctx, message)
	case stageCollectBirthDate:
		return t.collectBirthDate(ctx, message)
	default:
		return t.route(ctx, message, conv)
	}
}

func (t *Triage) greet(message string) Result {
	t.stage = stageCollectID

	prefix := "Welcome to Agil Bank!"
	if isGreeting(message) {
		prefix = greetingFor(t.cfg.Now()) + " Welcome to Agil Bank!"
	}
	return Result{
		Reply: prefix + " I am your virtual assistant. To get started I need to verify your identity. Please give me your 11-digit ID, numbers only.",
	}
}

func (t *Triage) collectID(ctx context.Context, message string) (Result, error) {
	if id := extractID(message); id != "" {
		t.pendingID = id
		t.stage = stageCollectBirthDate
		return Result{
			Reply: "Thank you! Now I need your birth date, in DD/MM/YYYY or YYYY-MM-DD format.",
		}, nil
	}

	// No ID in the message: let the model answer questions or nudge.
	res, err := t.loop.Run(ctx, agent.RunParams{
		System:      triageClarifyIDPrompt,
		UserMessage: message,
		Tools:       []string{},
	})
	if err != nil {
		return Result{}, err
	}
	reply := res.Text
	if reply == "" {
		reply = "Please give me your 11-digit ID, numbers only."
	}
	return Result{Reply: reply}, nil
}

func (t *Triage) collectBirthDate(ctx context.Context, message string) (Result, error) {
	birthDate := extractBirthDate(message)
	if birthDate == "" {
		res, err := t.loop.Run(ctx, agent.RunParams{
			System:      triageClarifyBirthDatePrompt,
			UserMessage: message,
			Tools:       []string{},
		})
		if err != nil {
			return Result{}, err
		}
		reply := res.Text
		if reply == "" {
			reply = "Please give me your birth date in DD/MM/YYYY or YYYY-MM-DD format."
		}
		return Result{Reply: reply}, nil
	}

	customer, err := t.cfg.Store.Authenticate(ctx, t.pendingID, birthDate)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	if customer == nil {
		t.attempts++
		t.pendingID = ""
		if t.attempts >= maxAuthAttempts {
			t.cfg.Logger.Warn().Int("attempts", t.attempts).Msg("Authentication locked out")
			return Result{
				Reply:           "I am sorry, but I could not verify your identity after several attempts. Please contact our support team to review your data. Have a great day!",
				EndConversation: true,
			}, nil
		}
		t.stage = stageCollectID
		remaining := maxAuthAttempts - t.attempts
		return Result{
			Reply: fmt.Sprintf("Those details do not match our records. You have %d attempt(s) left. Please give me your 11-digit ID again.", remaining),
		}, nil
	}

	t.stage = stageAuthenticated
	t.attempts = 0
	t.cfg.Logger.Info().Str("customer_id", customer.ID).Msg("Customer authenticated")

	return Result{
		Reply:    fmt.Sprintf("Authentication successful, %s. How can I help you today?", customer.Name),
		Customer: customer,
	}, nil
}

func (t *Triage) route(ctx context.Context, message string, conv *Conversation) (Result, error) {
	if isGreeting(message) {
		name := "there"
		if conv.Customer != nil {
			name = conv.Customer.Name
		}
		return Result{Reply: fmt.Sprintf("%s How can I help you today, %s?", greetingFor(t.cfg.Now()), name)}, nil
	}

	res, err := t.loop.Run(ctx, agent.RunParams{
		System:      triageRoutingPrompt,
		Window:      conv.Window,
		UserMessage: message,
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Reply: res.Text}
	applyDirectives(&result, res.Calls)
	if result.EndConversation && result.Reply == "" {
		result.Reply = "It was a pleasure to assist you. Goodbye!"
	}
	return result, nil
}

// extractID finds an 11-digit ID, tolerating the usual punctuation inside
// the number ("123.456.789-00").
func extractID(message string) string {
	for _, run := range digitRunPattern.FindAllString(message, -1) {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, run)
		if len(digits) == 11 {
			return digits
		}
	}
	return ""
}

// extractBirthDate normalizes a date to YYYY-MM-DD.
func extractBirthDate(message string) string {
	if m := isoDatePattern.FindString(message); m != "" {
		return m
	}
	if m := slashDatePattern.FindStringSubmatch(message); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[3], m[2], m[1])
	}
	return ""
}
