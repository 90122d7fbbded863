// Package toolexec is the registry and execution layer for the operations a
// model may call during a turn. Arguments are validated against a generated
// JSON Schema before the handler runs; failures come back as tool results,
// not Go errors, so the model can read them and correct itself.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/agilbank/concierge/internal/observability"
	"github.com/agilbank/concierge/pkg/gateway"
)

// Handler is the function signature for tool execution.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Definition declares a tool's contract and its handler.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result is what a tool execution produces. Serialize feeds it back to the
// model as the tool message content.
type Result struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Serialize renders the result as the JSON payload of a tool message.
func (r Result) Serialize() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"unserializable result: %v"}`, err)
	}
	return string(data)
}

// Executor holds the registered tools and their compiled schemas.
type Executor struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
}

// New creates an empty executor. Timeout bounds each tool run; zero means
// 30 seconds.
func New(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
	}
}

// Register adds a tool. Registering a name twice replaces the earlier
// definition.
func (e *Executor) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// MustRegister registers a tool and panics on an invalid definition. Intended
// for wiring static tool sets at startup.
func (e *Executor) MustRegister(def Definition) {
	if err := e.Register(def); err != nil {
		panic(err)
	}
}

// Unregister removes a tool.
func (e *Executor) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tools, name)
	delete(e.schemas, name)
}

// Names returns the registered tool names, sorted.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns the gateway tool declarations for the given names; an
// empty list means every registered tool. Unknown names are skipped.
func (e *Executor) Declarations(names ...string) []gateway.Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(names) == 0 {
		names = make([]string, 0, len(e.tools))
		for name := range e.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	decls := make([]gateway.Tool, 0, len(names))
	for _, name := range names {
		def, ok := e.tools[name]
		if !ok {
			continue
		}
		decls = append(decls, gateway.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaMap(*def),
		})
	}
	return decls
}

// Execute runs one tool call. Every failure mode, including an unknown tool
// name or a handler panic, is reported inside the Result so the caller always
// has something to hand back to the model.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]interface{}) Result {
	start := time.Now()

	e.mu.RLock()
	def := e.tools[name]
	schema := e.schemas[name]
	e.mu.RUnlock()

	if def == nil {
		log.Warn().Str("tool", name).Msg("Unknown tool requested")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{Success: false, Error: fmt.Sprintf("operation not found: %s", name)}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	applyDefaults(def, params)

	if err := validateParams(schema, params); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Tool argument validation failed")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		output interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := def.Handler(timeoutCtx, params)
		done <- outcome{output: output, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(start)
		if out.err != nil {
			log.Warn().Str("tool", name).Dur("duration", duration).Err(out.err).Msg("Tool execution failed")
			observability.RecordToolExecution(name, duration, false)
			return Result{Success: false, Error: out.err.Error()}
		}
		log.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool execution completed")
		observability.RecordToolExecution(name, duration, true)
		return Result{Success: true, Output: out.output}

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		log.Warn().Str("tool", name).Dur("duration", duration).Msg("Tool execution timed out")
		observability.RecordToolExecution(name, duration, false)
		return Result{Success: false, Error: fmt.Sprintf("tool execution timed out after %v", e.timeout)}
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// schemaMap builds the JSON Schema document for a tool's parameters.
func schemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap(def)))
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, resErr := range result.Errors() {
			msgs = append(msgs, resErr.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

func applyDefaults(def *Definition, params map[string]interface{}) {
	for _, param := range def.Parameters {
		if param.Default == nil {
			continue
		}
		if _, ok := params[param.Name]; !ok {
			params[param.Name] = param.Default
		}
	}
}
