package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError reports arguments that do not satisfy a tool's schema.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// UnknownPageError reports a navigate call for a page the app does not have.
type UnknownPageError struct {
	Page string
}

func (e *UnknownPageError) Error() string {
	names := make([]string, len(Routes))
	for i, r := range Routes {
		names[i] = string(r)
	}
	return fmt.Sprintf("unknown page %q (valid pages: %s)", e.Page, strings.Join(names, ", "))
}

// ToolExecutionError wraps a failure of the navigation collaborator.
type ToolExecutionError struct {
	Tool  string
	Route Route
	Err   error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s: navigation to %s failed: %v", e.Tool, e.Route, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
