package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
	"github.com/suraboy/weather-insight/pkg/llm"
)

const defaultMaxRounds = 8

var tracer = otel.Tracer("github.com/suraboy/weather-insight/internal/runtime")

// Options tunes the loop controller. Zero values select defaults.
type Options struct {
	// MaxRounds caps model requests per turn.
	MaxRounds int
	// ToolConcurrency bounds parallel dispatch within a round. Navigation
	// is order-sensitive, so the default is 1.
	ToolConcurrency int
	// MaxConcurrentTurns bounds turns in flight across all sessions; 0
	// means unbounded.
	MaxConcurrentTurns int
	Greeting           string
	Instruction        string
	Journal            types.DispatchJournal
}

// Runtime implements the agentic turn loop.
type Runtime struct {
	gateway     llm.Gateway
	registry    *tools.Registry
	journal     types.DispatchJournal
	instruction string
	greeting    string
	maxRounds   int
	concurrency int
	limiter     *semaphore.Weighted
}

// New creates a Runtime with the given dependencies.
func New(gateway llm.Gateway, registry *tools.Registry, opts Options) *Runtime {
	rt := &Runtime{
		gateway:     gateway,
		registry:    registry,
		journal:     opts.Journal,
		instruction: opts.Instruction,
		greeting:    opts.Greeting,
		maxRounds:   opts.MaxRounds,
		concurrency: opts.ToolConcurrency,
	}
	if rt.maxRounds <= 0 {
		rt.maxRounds = defaultMaxRounds
	}
	if rt.concurrency <= 0 {
		rt.concurrency = 1
	}
	if opts.MaxConcurrentTurns > 0 {
		rt.limiter = semaphore.NewWeighted(int64(opts.MaxConcurrentTurns))
	}
	return rt
}

// MaxRounds returns the per-turn cap on model requests.
func (rt *Runtime) MaxRounds() int {
	return rt.maxRounds
}

// NewSession opens a model session and binds a dispatcher to nav. If the
// model session cannot be opened the returned session is inert; the error
// is logged and available from Session.Err.
func (rt *Runtime) NewSession(ctx context.Context, key types.SessionKey, nav tools.Navigator) *Session {
	id := types.NewSessionID()
	sess := &Session{
		ID:         id,
		Key:        key,
		store:      NewStore(),
		dispatcher: tools.NewDispatcher(rt.registry, nav, rt.journal, id),
	}

	remote, err := rt.gateway.Open(ctx, rt.registry.AsLLMTools(), rt.instruction)
	if err != nil {
		sess.openErr = &ConfigurationError{Err: err}
		slog.Error("agent unavailable", "session", id, "key", key, "error", err)
	} else {
		sess.remote = remote
	}

	if rt.greeting != "" {
		sess.store.append(types.NewMessage(types.RoleAgent, rt.greeting))
	}
	slog.Info("session opened", "session", id, "key", key, "available", sess.Available())
	return sess
}

// Outcome says how a turn ended.
type Outcome string

const (
	OutcomeFinal     Outcome = "final"
	OutcomeRoundCap  Outcome = "round_cap"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Turn summarizes one accepted submission.
type Turn struct {
	Outcome Outcome
	Rounds  int
	Calls   int
	Reply   types.Message
	// Err is the failure behind OutcomeFailed or OutcomeCancelled. It is
	// never shown to the user.
	Err error
}

// Submit runs one user instruction to completion: it sends the text, then
// dispatches and answers tool calls until the model returns final text, the
// round cap is hit, the turn is cancelled, or a gateway call fails. Exactly
// one agent message is appended per accepted submission.
//
// The returned error is non-nil only when the submission is rejected, in
// which case nothing was appended.
func (rt *Runtime) Submit(ctx context.Context, sess *Session, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if sess.Closed() {
		return nil, ErrClosed
	}
	if !sess.Available() {
		return nil, ErrUnavailable
	}
	if !sess.store.tryBegin() {
		return nil, ErrBusy
	}
	defer sess.store.end()

	ctx, cancel := context.WithCancel(ctx)
	sess.setCancel(cancel)
	defer func() {
		sess.setCancel(nil)
		cancel()
	}()

	ctx, span := tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("session.id", string(sess.ID)),
			attribute.Int("agent.max_rounds", rt.maxRounds),
		),
	)
	defer span.End()

	sess.store.append(types.NewMessage(types.RoleUser, text))

	turn := rt.run(ctx, sess, text)
	sess.store.append(turn.Reply)

	span.SetAttributes(
		attribute.String("agent.outcome", string(turn.Outcome)),
		attribute.Int("agent.rounds", turn.Rounds),
		attribute.Int("agent.calls", turn.Calls),
	)
	if turn.Outcome == OutcomeFailed {
		span.RecordError(turn.Err)
		span.SetStatus(codes.Error, turn.Err.Error())
	}

	level := slog.LevelInfo
	if turn.Outcome == OutcomeFailed {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "turn finished",
		"session", sess.ID,
		"outcome", turn.Outcome,
		"rounds", turn.Rounds,
		"calls", turn.Calls,
		"error", turn.Err,
	)
	return turn, nil
}

func (rt *Runtime) run(ctx context.Context, sess *Session, text string) *Turn {
	turn := &Turn{}

	if rt.limiter != nil {
		if err := rt.limiter.Acquire(ctx, 1); err != nil {
			return rt.stop(turn, err)
		}
		defer rt.limiter.Release(1)
	}

	if err := ctx.Err(); err != nil {
		return rt.stop(turn, err)
	}
	round, err := rt.send(ctx, turn, "send_text", func(ctx context.Context) (*llm.Round, error) {
		return sess.remote.SendText(ctx, text)
	})

	var results []llm.ToolResult
	for {
		if err != nil {
			return rt.stop(turn, err)
		}
		if round.Final() {
			reply := round.Text
			if strings.TrimSpace(reply) == "" {
				reply = EmptyReply
			}
			turn.Outcome = OutcomeFinal
			turn.Reply = types.NewMessage(types.RoleAgent, reply)
			return turn
		}
		if turn.Rounds >= rt.maxRounds {
			slog.Warn("tool round cap reached", "session", sess.ID, "max_rounds", rt.maxRounds, "pending_calls", len(round.Calls))
			turn.Outcome = OutcomeRoundCap
			turn.Err = fmt.Errorf("max tool rounds (%d) exceeded", rt.maxRounds)
			turn.Reply = types.NewMessage(types.RoleAgent, RoundCapReply)
			return turn
		}

		results, err = rt.dispatch(ctx, sess.dispatcher, round.Calls)
		if err != nil {
			return rt.stop(turn, err)
		}
		turn.Calls += len(results)

		if err := ctx.Err(); err != nil {
			return rt.stop(turn, err)
		}
		round, err = rt.send(ctx, turn, "send_tool_results", func(ctx context.Context) (*llm.Round, error) {
			return sess.remote.SendToolResults(ctx, results)
		})
	}
}

// send performs one gateway request and classifies its failure.
func (rt *Runtime) send(ctx context.Context, turn *Turn, op string, fn func(context.Context) (*llm.Round, error)) (*llm.Round, error) {
	turn.Rounds++
	ctx, span := tracer.Start(ctx, "agent.round",
		trace.WithAttributes(
			attribute.String("agent.op", op),
			attribute.Int("agent.round", turn.Rounds),
		),
	)
	defer span.End()

	round, err := fn(ctx)
	if err == nil {
		err = llm.ValidateRound(round)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		if errors.Is(err, llm.ErrMalformedRound) {
			return nil, &ProtocolError{Err: err}
		}
		return nil, &TransportError{Op: op, Err: err}
	}
	span.SetAttributes(attribute.Int("agent.calls", len(round.Calls)))
	return round, nil
}

// dispatch answers every call in received order. With concurrency above one
// calls run in parallel, but results keep call order.
func (rt *Runtime) dispatch(ctx context.Context, d *tools.Dispatcher, calls []llm.Call) ([]llm.ToolResult, error) {
	results := make([]llm.ToolResult, len(calls))

	if rt.concurrency <= 1 || len(calls) == 1 {
		for i, call := range calls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = d.Dispatch(ctx, call)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rt.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = d.Dispatch(gctx, call)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (rt *Runtime) stop(turn *Turn, err error) *Turn {
	turn.Err = err
	if errors.Is(err, context.Canceled) {
		turn.Outcome = OutcomeCancelled
		turn.Reply = types.NewMessage(types.RoleAgent, CancelledReply)
		return turn
	}
	turn.Outcome = OutcomeFailed
	turn.Reply = types.NewMessage(types.RoleAgent, FallbackReply)
	return turn
}
