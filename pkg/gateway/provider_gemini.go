package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiProvider implements Provider for Google Gemini via the REST API.
type GeminiProvider struct {
	BaseURL string
	client  *http.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{
		BaseURL: defaultGeminiBaseURL,
		client:  &http.Client{},
	}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	Tools             []geminiTools          `json:"tools,omitempty"`
	GenerationConfig  map[string]interface{} `json:"generationConfig,omitempty"`
}

type geminiTools struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate makes a generateContent call against the Gemini REST API.
func (p *GeminiProvider) Generate(ctx context.Context, model, apiKey string, req Request) (*Response, error) {
	body := geminiRequest{
		GenerationConfig: map[string]interface{}{},
	}

	if system := SystemPrompt(req.Messages); system != "" {
		body.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: system}},
		}
	}

	if req.Temperature > 0 {
		body.GenerationConfig["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body.GenerationConfig["maxOutputTokens"] = req.MaxTokens
	}

	// Gemini does not carry call IDs; function responses reference the
	// function name, recovered from the originating assistant tool call.
	callNames := map[string]string{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleUser:
			body.Contents = append(body.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		case RoleAssistant:
			parts := []geminiPart{}
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Name,
						Args: tc.Arguments,
					},
				})
			}
			if len(parts) > 0 {
				body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: parts})
			}
		case RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = msg.ToolCallID
			}
			body.Contents = append(body.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     name,
						Response: map[string]interface{}{"result": msg.Content},
					},
				}},
			})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			})
		}
		body.Tools = []geminiTools{{FunctionDeclarations: decls}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL, model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	client := p.client
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("gemini returned status %d: %s", httpResp.StatusCode, string(raw))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK || parsed.Error != nil {
		status := httpResp.StatusCode
		message := string(raw)
		if parsed.Error != nil {
			status = parsed.Error.Code
			message = fmt.Sprintf("%s: %s", parsed.Error.Status, parsed.Error.Message)
		}
		return nil, fmt.Errorf("gemini returned status %d: %s", status, message)
	}

	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("no response candidates returned")
	}

	text := ""
	toolCalls := []ToolCall{}

	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			id, err := gonanoid.New()
			if err != nil {
				return nil, fmt.Errorf("failed to generate call id: %w", err)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        part.FunctionCall.Name + "-" + id,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	return &Response{
		Text:      text,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}
