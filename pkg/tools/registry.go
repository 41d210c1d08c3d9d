package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/tandem/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ErrToolExists is returned when registering a name that is already taken.
var ErrToolExists = errors.New("tool already registered")

// DefaultTimeout bounds a handler when its descriptor sets none.
const DefaultTimeout = 60 * time.Second

// Handler executes a tool call.
type Handler func(ctx context.Context, inv Invocation) Result

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Descriptor defines a tool's metadata and handler.
type Descriptor struct {
	Name        string
	Description string
	Kind        Kind
	// Mutating reports whether a call with these params needs approval. Nil means read-only.
	Mutating   func(params map[string]interface{}) bool
	Parameters []Parameter
	// Schema replaces the schema generated from Parameters. MCP tools bring their own.
	Schema  map[string]interface{}
	Handler Handler
	Timeout time.Duration
}

// Always is a Mutating func for tools that always need approval.
func Always(map[string]interface{}) bool { return true }

// IsMutating reports whether the call needs approval.
func (d *Descriptor) IsMutating(params map[string]interface{}) bool {
	return d.Mutating != nil && d.Mutating(params)
}

type entry struct {
	desc   Descriptor
	schema map[string]interface{}
	loader *gojsonschema.Schema
}

// Registry holds the tools available to a session.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool. It fails on invalid descriptors and duplicate names.
func (r *Registry) Register(desc Descriptor) error {
	if err := validateDescriptor(desc); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema := desc.Schema
	if schema == nil {
		schema = generateSchema(desc.Parameters)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, desc.Name)
	}
	r.tools[desc.Name] = &entry{desc: desc, schema: schema, loader: compiled}

	r.logger.Debug().Str("tool", desc.Name).Str("kind", string(desc.Kind)).Msg("Tool registered")
	return nil
}

// Unregister removes a tool. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		r.logger.Debug().Str("tool", name).Msg("Tool unregistered")
	}
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// List returns every descriptor sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the tool definitions sent to the model, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			Parameters:  e.schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

func validateDescriptor(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if desc.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if desc.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if !IsValidKind(string(desc.Kind)) {
		return fmt.Errorf("invalid kind %q for %s", desc.Kind, desc.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range desc.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}
	return nil
}

// generateSchema builds a JSON Schema object from tool parameters.
func generateSchema(params []Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Type == "array" {
			prop["items"] = map[string]interface{}{"type": "string"}
		}
		properties[param.Name] = prop

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

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("validation errors: %v", msgs)
}
