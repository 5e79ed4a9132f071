package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/suraboy/weather-insight/pkg/llm"
)

// Tool names understood by the dispatcher.
const (
	ToolNavigate = "navigate_to_page"
	ToolSearch   = "search_weather"
	ToolCompare  = "compare_weather"
)

// Param describes one named argument of a tool.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Required    bool     `json:"required"`
}

// ToolSchema is the declarative description of one capability offered to
// the model.
type ToolSchema struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Builtin returns the weather app's capabilities in manifest order.
func Builtin() []ToolSchema {
	return []ToolSchema{
		{
			Name:        ToolNavigate,
			Description: "Navigate to a specific page in the application.",
			Params: []Param{{
				Name:        "page",
				Type:        "string",
				Description: `The page to navigate to. Options: "home", "search", "compare".`,
				Enum:        []string{string(RouteHome), string(RouteSearch), string(RouteCompare)},
				Required:    true,
			}},
		},
		{
			Name:        ToolSearch,
			Description: "Search for the weather of a specific city.",
			Params: []Param{{
				Name:        "city",
				Type:        "string",
				Description: "The name of the city to search for.",
				Required:    true,
			}},
		},
		{
			Name:        ToolCompare,
			Description: "Compare the weather of two cities.",
			Params: []Param{
				{Name: "cityA", Type: "string", Description: "The first city name.", Required: true},
				{Name: "cityB", Type: "string", Description: "The second city name.", Required: true},
			},
		},
	}
}

// JSONSchema renders the parameter block advertised to the model.
func (s ToolSchema) JSONSchema() *jsonschema.Schema {
	return s.objectSchema(true)
}

// objectSchema builds the object schema for s. Enums are left out of the
// schema used for validation so that an unrecognized enum value can be
// reported separately from a malformed call.
func (s ToolSchema) objectSchema(withEnum bool) *jsonschema.Schema {
	obj := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(s.Params)),
	}
	for _, p := range s.Params {
		prop := &jsonschema.Schema{Type: p.Type, Description: p.Description}
		if withEnum && len(p.Enum) > 0 {
			for _, v := range p.Enum {
				prop.Enum = append(prop.Enum, v)
			}
		}
		obj.Properties[p.Name] = prop
		if p.Required {
			obj.Required = append(obj.Required, p.Name)
		}
	}
	return obj
}

func (s ToolSchema) clone() ToolSchema {
	out := s
	out.Params = make([]Param, len(s.Params))
	for i, p := range s.Params {
		p.Enum = append([]string(nil), p.Enum...)
		out.Params[i] = p
	}
	return out
}

// Registry holds the tool schemas and their resolved validators.
type Registry struct {
	order      []string
	schemas    map[string]ToolSchema
	validators map[string]*jsonschema.Resolved
}

// NewRegistry creates a registry from the given schemas. Names must be unique.
func NewRegistry(schemas ...ToolSchema) (*Registry, error) {
	r := &Registry{
		schemas:    make(map[string]ToolSchema, len(schemas)),
		validators: make(map[string]*jsonschema.Resolved, len(schemas)),
	}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a schema to the registry.
func (r *Registry) Register(s ToolSchema) error {
	if s.Name == "" {
		return fmt.Errorf("tool schema has no name")
	}
	if _, dup := r.schemas[s.Name]; dup {
		return fmt.Errorf("tool %q already registered", s.Name)
	}
	resolved, err := s.objectSchema(false).Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema for %q: %w", s.Name, err)
	}
	r.order = append(r.order, s.Name)
	r.schemas[s.Name] = s.clone()
	r.validators[s.Name] = resolved
	return nil
}

// Get returns a copy of the schema registered under name.
func (r *Registry) Get(name string) (ToolSchema, bool) {
	s, ok := r.schemas[name]
	if !ok {
		return ToolSchema{}, false
	}
	return s.clone(), true
}

// Describe returns the full table in registration order. Each call returns
// a fresh copy with identical content.
func (r *Registry) Describe() []ToolSchema {
	out := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.schemas[name].clone())
	}
	return out
}

// AsLLMTools converts registered tools to the LLM provider format.
func (r *Registry) AsLLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		s := r.schemas[name]
		params, err := json.Marshal(s.JSONSchema())
		if err != nil {
			// Schemas are built from plain strings; marshaling cannot fail.
			panic(fmt.Sprintf("marshal schema for %q: %v", name, err))
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func (r *Registry) validate(name string, args map[string]any) error {
	v, ok := r.validators[name]
	if !ok {
		return ErrUnknownTool
	}
	return v.Validate(args)
}
