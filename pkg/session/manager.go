// Package session is the conversation memory: an ordered record of completed
// turns per conversation, held in memory and mirrored to JSONL files so a
// restarted process can pick a conversation back up. The file layout is an
// implementation detail, not an interchange format.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/agilbank/concierge/internal/observability"
	"github.com/agilbank/concierge/internal/tracing"
	"github.com/agilbank/concierge/pkg/gateway"
)

// Turn is one completed user/assistant exchange.
type Turn struct {
	User      string    `json:"user"`
	Reply     string    `json:"reply"`
	Handler   string    `json:"handler"`
	Timestamp time.Time `json:"timestamp"`
}

// turnEntry is the on-disk JSONL record.
type turnEntry struct {
	ConversationID string `json:"conversation_id"`
	Turn           Turn   `json:"turn"`
}

// Manager keeps per-conversation turn history. With an empty directory it is
// memory-only; otherwise each conversation persists to <dir>/<id>.jsonl.
type Manager struct {
	dir string

	mu            sync.RWMutex
	conversations map[string][]Turn
	loaded        map[string]bool

	locksMu    sync.Mutex
	writeLocks map[string]*sync.Mutex
}

// NewManager creates a manager. dir == "" disables persistence.
func NewManager(dir string) (*Manager, error) {
	observability.EnsureRegistered()

	if dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create conversations directory: %w", err)
		}
	}

	m := &Manager{
		dir:           dir,
		conversations: make(map[string][]Turn),
		loaded:        make(map[string]bool),
		writeLocks:    make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Bool("persistent", dir != "").Msg("Conversation memory initialized")

	return m, nil
}

// ValidateConversationID rejects IDs that could escape the storage directory.
func ValidateConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("conversation id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("conversation id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("conversation id cannot contain null bytes")
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+".jsonl")
}

func (m *Manager) writeLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.writeLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.writeLocks[id] = lock
	}
	return lock
}

func (m *Manager) updateActiveMetric() {
	m.mu.RLock()
	n := len(m.conversations)
	m.mu.RUnlock()
	observability.SetActiveConversations(n)
}

// Append records a completed turn at the end of the conversation's history.
func (m *Manager) Append(ctx context.Context, id string, turn Turn) error {
	ctx = tracing.WithConversationID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"concierge.session",
		"session.append",
		attribute.String("handler", turn.Handler),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := ValidateConversationID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	if err := m.ensureLoaded(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.mu.Lock()
	m.conversations[id] = append(m.conversations[id], turn)
	m.mu.Unlock()
	m.updateActiveMetric()

	if m.dir != "" {
		if err := m.persist(id, turn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	logger.Debug().Str("handler", turn.Handler).Msg("Turn recorded")

	return nil
}

func (m *Manager) persist(id string, turn Turn) error {
	lock := m.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(m.path(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(turnEntry{ConversationID: id, Turn: turn})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write turn: %w", err)
	}
	return file.Sync()
}

// ensureLoaded hydrates a conversation from disk on first touch.
func (m *Manager) ensureLoaded(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded[id] || m.dir == "" {
		m.loaded[id] = true
		return nil
	}
	m.loaded[id] = true

	file, err := os.Open(m.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		var entry turnEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			log.Warn().Str("conversation_id", id).Int("line", lineNum).Err(err).Msg("Skipping unparsable turn")
			continue
		}
		turns = append(turns, entry.Turn)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read conversation file: %w", err)
	}

	m.conversations[id] = turns
	return nil
}

// Turns returns the full recorded history for a conversation.
func (m *Manager) Turns(id string) ([]Turn, error) {
	if err := ValidateConversationID(id); err != nil {
		return nil, err
	}
	if err := m.ensureLoaded(id); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.conversations[id]...), nil
}

// Window returns the last n turns rendered as transcript messages, oldest
// first, ready to prepend to a model request.
func (m *Manager) Window(id string, n int) ([]gateway.Message, error) {
	turns, err := m.Turns(id)
	if err != nil {
		return nil, err
	}

	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	messages := make([]gateway.Message, 0, len(turns)*2)
	for _, turn := range turns {
		messages = append(messages, gateway.Message{Role: gateway.RoleUser, Content: turn.User})
		if turn.Reply != "" {
			messages = append(messages, gateway.Message{Role: gateway.RoleAssistant, Content: turn.Reply})
		}
	}
	return messages, nil
}

// Len returns how many turns a conversation holds.
func (m *Manager) Len(id string) (int, error) {
	turns, err := m.Turns(id)
	if err != nil {
		return 0, err
	}
	return len(turns), nil
}

// LastActivity returns the timestamp of the newest turn, zero when the
// conversation is empty.
func (m *Manager) LastActivity(id string) (time.Time, error) {
	turns, err := m.Turns(id)
	if err != nil {
		return time.Time{}, err
	}
	if len(turns) == 0 {
		return time.Time{}, nil
	}
	return turns[len(turns)-1].Timestamp, nil
}

// Reset discards a conversation's history, in memory and on disk.
func (m *Manager) Reset(ctx context.Context, id string) error {
	ctx = tracing.WithConversationID(ctx, id)
	_, span := tracing.StartSpan(ctx, "concierge.session", "session.reset")
	defer span.End()

	if err := ValidateConversationID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.mu.Lock()
	delete(m.conversations, id)
	delete(m.loaded, id)
	m.mu.Unlock()
	m.updateActiveMetric()

	if m.dir != "" {
		lock := m.writeLock(id)
		lock.Lock()
		defer lock.Unlock()
		if err := os.Remove(m.path(id)); err != nil && !os.IsNotExist(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to delete conversation file: %w", err)
		}
	}

	log.Info().Str("conversation_id", id).Msg("Conversation reset")

	return nil
}

// List returns every known conversation ID, sorted. Persistent conversations
// not yet loaded into memory are included.
func (m *Manager) List() ([]string, error) {
	seen := map[string]bool{}

	m.mu.RLock()
	for id := range m.conversations {
		seen[id] = true
	}
	m.mu.RUnlock()

	if m.dir != "" {
		entries, err := os.ReadDir(m.dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read conversations directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			seen[strings.TrimSuffix(entry.Name(), ".jsonl")] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close drops the in-memory state. Files are left in place.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.conversations = make(map[string][]Turn)
	m.loaded = make(map[string]bool)
	m.mu.Unlock()

	m.locksMu.Lock()
	m.writeLocks = make(map[string]*sync.Mutex)
	m.locksMu.Unlock()

	return nil
}
