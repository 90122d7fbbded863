package gateway

// Message roles on the provider wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one transcript entry sent to or received from the provider.
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a structured operation request emitted by the provider.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Tool describes an operation the provider may request.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is one provider invocation. The model and credential are not part
// of the request; the gateway derives them from the pool per attempt.
type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// Response is the provider's reply to one invocation.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Model     string
	Usage     *TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SystemPrompt returns the content of the first system message, if any.
func SystemPrompt(messages []Message) string {
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			return msg.Content
		}
	}
	return ""
}
