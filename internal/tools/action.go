package tools

import (
	"fmt"
	"strings"
)

// Action is a parsed, validated tool call. Each action maps to exactly one
// navigation.
type Action interface {
	Tool() string
	Route() Route
	Query() map[string]string
	Confirmation() string
}

// Navigate opens a page without parameters.
type Navigate struct {
	Page Route
}

func (a Navigate) Tool() string             { return ToolNavigate }
func (a Navigate) Route() Route             { return a.Page }
func (a Navigate) Query() map[string]string { return nil }
func (a Navigate) Confirmation() string {
	return fmt.Sprintf("Navigated to %s page.", a.Page)
}

// SearchCity opens the search page for one city.
type SearchCity struct {
	City string
}

func (a SearchCity) Tool() string { return ToolSearch }
func (a SearchCity) Route() Route { return RouteSearch }
func (a SearchCity) Query() map[string]string {
	return map[string]string{"city": a.City}
}
func (a SearchCity) Confirmation() string {
	return fmt.Sprintf("Performed search for %s.", a.City)
}

// CompareCities opens the comparison page for two cities.
type CompareCities struct {
	CityA string
	CityB string
}

func (a CompareCities) Tool() string { return ToolCompare }
func (a CompareCities) Route() Route { return RouteCompare }
func (a CompareCities) Query() map[string]string {
	return map[string]string{"cityA": a.CityA, "cityB": a.CityB}
}
func (a CompareCities) Confirmation() string {
	return fmt.Sprintf("Opened comparison for %s vs %s.", a.CityA, a.CityB)
}

// Parse validates args against the named tool's schema and builds the
// matching action. String arguments are trimmed and page names are
// case-insensitive. Errors are ErrUnknownTool, *ArgumentError or
// *UnknownPageError.
func (r *Registry) Parse(name string, args map[string]any) (Action, error) {
	if _, ok := r.schemas[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	args = normalize(args)
	if err := r.validate(name, args); err != nil {
		return nil, &ArgumentError{Tool: name, Err: err}
	}

	switch name {
	case ToolNavigate:
		page := args["page"].(string)
		route, ok := ParseRoute(page)
		if !ok {
			return nil, &UnknownPageError{Page: page}
		}
		return Navigate{Page: route}, nil
	case ToolSearch:
		city, err := requireText(name, args, "city")
		if err != nil {
			return nil, err
		}
		return SearchCity{City: city}, nil
	case ToolCompare:
		a, err := requireText(name, args, "cityA")
		if err != nil {
			return nil, err
		}
		b, err := requireText(name, args, "cityB")
		if err != nil {
			return nil, err
		}
		return CompareCities{CityA: a, CityB: b}, nil
	default:
		return nil, fmt.Errorf("%w: %q has no action", ErrUnknownTool, name)
	}
}

func normalize(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		out[k] = v
	}
	return out
}

func requireText(tool string, args map[string]any, key string) (string, error) {
	s, _ := args[key].(string)
	if s == "" {
		return "", &ArgumentError{Tool: tool, Err: fmt.Errorf("%s must not be empty", key)}
	}
	return s, nil
}
