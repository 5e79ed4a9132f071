package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/suraboy/weather-insight/internal/types"
	"github.com/suraboy/weather-insight/pkg/llm"
)

// Dispatcher turns tool calls into navigation effects and result text. It
// never fails: every problem becomes an "error: ..." result for the model.
type Dispatcher struct {
	registry  *Registry
	nav       Navigator
	journal   types.DispatchJournal
	sessionID types.SessionID
}

// NewDispatcher binds a registry to a session's navigator. journal may be nil.
func NewDispatcher(registry *Registry, nav Navigator, journal types.DispatchJournal, sessionID types.SessionID) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		nav:       nav,
		journal:   journal,
		sessionID: sessionID,
	}
}

// Registry returns the registry the dispatcher validates against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute runs one call and returns the result text.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any) string {
	rec := d.execute(ctx, name, args)
	return rec.Result
}

// Dispatch runs one call and returns its result under the call's ID.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.Call) llm.ToolResult {
	rec := d.execute(ctx, call.Name, call.Arguments)
	rec.CallID = call.ID
	d.record(ctx, rec)
	return llm.ToolResult{ID: call.ID, Name: call.Name, Result: rec.Result}
}

func (d *Dispatcher) execute(ctx context.Context, name string, args map[string]any) *types.DispatchRecord {
	argJSON, _ := json.Marshal(args)
	rec := &types.DispatchRecord{
		SessionID: d.sessionID,
		Tool:      name,
		Arguments: string(argJSON),
		At:        time.Now(),
	}
	slog.Debug("executing tool", "tool", name, "args", rec.Arguments, "session", d.sessionID)

	action, err := d.registry.Parse(name, args)
	if err != nil {
		var pageErr *UnknownPageError
		switch {
		case errors.Is(err, ErrUnknownTool):
			rec.Outcome = types.OutcomeUnknownTool
			rec.Result = fmt.Sprintf("error: tool %q not found", name)
		case errors.As(err, &pageErr):
			rec.Outcome = types.OutcomeUnknownPage
			rec.Result = "error: " + pageErr.Error()
			slog.Warn("navigation to unknown page ignored", "page", pageErr.Page, "session", d.sessionID)
		default:
			rec.Outcome = types.OutcomeInvalid
			rec.Result = "error: " + err.Error()
		}
		return rec
	}

	rec.Route = string(action.Route())
	rec.Query = EncodeQuery(action.Query())
	if err := d.nav.GoTo(ctx, action.Route(), action.Query()); err != nil {
		execErr := &ToolExecutionError{Tool: name, Route: action.Route(), Err: err}
		slog.Error("navigation failed", "tool", name, "route", action.Route(), "error", err)
		rec.Outcome = types.OutcomeFailed
		rec.Result = fmt.Sprintf("error: %v", execErr)
		return rec
	}

	rec.Outcome = types.OutcomeNavigated
	rec.Result = action.Confirmation()
	return rec
}

func (d *Dispatcher) record(ctx context.Context, rec *types.DispatchRecord) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("dispatch journal write failed", "tool", rec.Tool, "error", err)
	}
}
