package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
	"github.com/suraboy/weather-insight/pkg/llm"
)

// mockSession returns pre-configured rounds and records what it was sent.
type mockSession struct {
	mu      sync.Mutex
	rounds  []*llm.Round
	errs    []error
	texts   []string
	results [][]llm.ToolResult
	block   chan struct{}
	entered chan struct{}
}

func (m *mockSession) next(ctx context.Context) (*llm.Round, error) {
	if m.entered != nil {
		close(m.entered)
		m.entered = nil
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(m.rounds) == 0 {
		return &llm.Round{Text: "fallback"}, nil
	}
	r := m.rounds[0]
	m.rounds = m.rounds[1:]
	return r, nil
}

func (m *mockSession) SendText(ctx context.Context, text string) (*llm.Round, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	return m.next(ctx)
}

func (m *mockSession) SendToolResults(ctx context.Context, results []llm.ToolResult) (*llm.Round, error) {
	m.mu.Lock()
	m.results = append(m.results, results)
	m.mu.Unlock()
	return m.next(ctx)
}

type mockGateway struct {
	session *mockSession
	err     error
	tools   []llm.Tool
}

func (g *mockGateway) Open(ctx context.Context, tools []llm.Tool, instruction string) (llm.Session, error) {
	g.tools = tools
	if g.err != nil {
		return nil, g.err
	}
	return g.session, nil
}

func newTestRuntime(t *testing.T, gw llm.Gateway, opts Options) *Runtime {
	t.Helper()
	reg, err := tools.NewRegistry(tools.Builtin()...)
	if err != nil {
		t.Fatal(err)
	}
	return New(gw, reg, opts)
}

func agentMessages(msgs []types.Message) []types.Message {
	var out []types.Message
	for _, m := range msgs {
		if m.Role == types.RoleAgent {
			out = append(out, m)
		}
	}
	return out
}

func TestSubmitFinalText(t *testing.T) {
	ms := &mockSession{rounds: []*llm.Round{{Text: "Hello! How can I help?"}}}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	turn, err := rt.Submit(context.Background(), sess, "  hi  ")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Outcome != OutcomeFinal {
		t.Errorf("expected final outcome, got %q", turn.Outcome)
	}

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != types.RoleUser || msgs[0].Text != "hi" {
		t.Errorf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].Role != types.RoleAgent || msgs[1].Text != "Hello! How can I help?" {
		t.Errorf("unexpected agent message %+v", msgs[1])
	}
	if sess.Busy() {
		t.Error("expected busy to be cleared")
	}
	if len(ms.texts) != 1 || ms.texts[0] != "hi" {
		t.Errorf("expected one SendText with 'hi', got %v", ms.texts)
	}
}

func TestSubmitEmptyFinalText(t *testing.T) {
	ms := &mockSession{rounds: []*llm.Round{{Text: ""}}}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	if _, err := rt.Submit(context.Background(), sess, "thanks"); err != nil {
		t.Fatal(err)
	}
	msgs := sess.Messages()
	if msgs[len(msgs)-1].Text != EmptyReply {
		t.Errorf("expected %q, got %q", EmptyReply, msgs[len(msgs)-1].Text)
	}
}

func TestSubmitToolRoundsInOrder(t *testing.T) {
	ms := &mockSession{rounds: []*llm.Round{
		{Calls: []llm.Call{
			{ID: "a", Name: tools.ToolNavigate, Arguments: map[string]any{"page": "search"}},
			{ID: "b", Name: tools.ToolSearch, Arguments: map[string]any{"city": "Tokyo"}},
		}},
		{Text: "Showing Tokyo."},
	}}
	nav := &tools.Recorder{}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", nav)

	turn, err := rt.Submit(context.Background(), sess, "weather in tokyo")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Rounds != 2 || turn.Calls != 2 {
		t.Errorf("expected 2 rounds and 2 calls, got %d and %d", turn.Rounds, turn.Calls)
	}

	visits := nav.Visits()
	if len(visits) != 2 {
		t.Fatalf("expected 2 navigations, got %d", len(visits))
	}
	if visits[0].Route != tools.RouteSearch || len(visits[0].Query) != 0 {
		t.Errorf("first navigation should be bare search page, got %+v", visits[0])
	}
	if visits[1].Route != tools.RouteSearch || visits[1].Query["city"] != "Tokyo" {
		t.Errorf("second navigation should search Tokyo, got %+v", visits[1])
	}

	if len(ms.results) != 1 {
		t.Fatalf("expected one SendToolResults, got %d", len(ms.results))
	}
	results := ms.results[0]
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("expected results for a and b in order, got %+v", results)
	}
	if results[1].Result != "Performed search for Tokyo." {
		t.Errorf("unexpected result %q", results[1].Result)
	}

	agent := agentMessages(sess.Messages())
	if len(agent) != 1 || agent[0].Text != "Showing Tokyo." {
		t.Errorf("expected one agent message, got %+v", agent)
	}
}

func TestSubmitUnknownToolStillAnswered(t *testing.T) {
	ms := &mockSession{rounds: []*llm.Round{
		{Calls: []llm.Call{{ID: "x", Name: "get_forecast", Arguments: map[string]any{}}}},
		{Text: "I can't do that."},
	}}
	nav := &tools.Recorder{}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", nav)

	if _, err := rt.Submit(context.Background(), sess, "forecast"); err != nil {
		t.Fatal(err)
	}
	if len(nav.Visits()) != 0 {
		t.Error("unknown tool must not navigate")
	}
	if got := ms.results[0][0]; got.ID != "x" || got.Result != `error: tool "get_forecast" not found` {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestSubmitGatewayError(t *testing.T) {
	ms := &mockSession{
		rounds: []*llm.Round{
			{Calls: []llm.Call{{ID: "a", Name: tools.ToolSearch, Arguments: map[string]any{"city": "Oslo"}}}},
		},
		errs: []error{nil, errors.New("connection reset")},
	}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	turn, err := rt.Submit(context.Background(), sess, "oslo")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", turn.Outcome)
	}
	var te *TransportError
	if !errors.As(turn.Err, &te) {
		t.Errorf("expected TransportError, got %v", turn.Err)
	}

	agent := agentMessages(sess.Messages())
	if len(agent) != 1 || agent[0].Text != FallbackReply {
		t.Errorf("expected a single fallback message, got %+v", agent)
	}
	if sess.Busy() {
		t.Error("expected busy to be cleared after failure")
	}
}

func TestSubmitLaterRoundFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"reset", errors.New("connection reset")},
		{"deadline", context.DeadlineExceeded},
		{"malformed", llm.ErrMalformedRound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockSession{
				rounds: []*llm.Round{
					{Calls: []llm.Call{{ID: "a", Name: tools.ToolSearch, Arguments: map[string]any{"city": "Rome"}}}},
				},
				errs: []error{nil, tc.err},
			}
			rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
			sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

			turn, err := rt.Submit(context.Background(), sess, "rome")
			if err != nil {
				t.Fatal(err)
			}
			if turn.Outcome != OutcomeFailed {
				t.Errorf("expected failed outcome, got %q", turn.Outcome)
			}
			if len(ms.results) != 1 {
				t.Errorf("expected one SendToolResults, got %d", len(ms.results))
			}
			msgs := sess.Messages()
			if len(msgs) != 2 || msgs[0].Role != types.RoleUser || msgs[1].Text != FallbackReply {
				t.Errorf("expected user message and one fallback, got %+v", msgs)
			}
			if sess.Busy() {
				t.Error("expected busy cleared")
			}
		})
	}
}

// cancellingSession cancels the running turn while tool results are in flight.
type cancellingSession struct {
	*mockSession
	sess *Session
}

func (c *cancellingSession) SendToolResults(ctx context.Context, results []llm.ToolResult) (*llm.Round, error) {
	c.sess.Cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

type cancellingGateway struct{ session *cancellingSession }

func (g *cancellingGateway) Open(ctx context.Context, tools []llm.Tool, instruction string) (llm.Session, error) {
	return g.session, nil
}

func TestSubmitCancelDuringToolResults(t *testing.T) {
	cs := &cancellingSession{mockSession: &mockSession{rounds: []*llm.Round{
		{Calls: []llm.Call{{ID: "a", Name: tools.ToolSearch, Arguments: map[string]any{"city": "Rome"}}}},
	}}}
	rt := newTestRuntime(t, &cancellingGateway{session: cs}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})
	cs.sess = sess

	turn, err := rt.Submit(context.Background(), sess, "rome")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Outcome != OutcomeCancelled {
		t.Errorf("expected cancelled outcome, got %q", turn.Outcome)
	}
	msgs := sess.Messages()
	if len(msgs) != 2 || msgs[1].Text != CancelledReply {
		t.Errorf("expected user message and one cancel reply, got %+v", msgs)
	}
	if sess.Busy() {
		t.Error("expected busy cleared")
	}
}

func TestSubmitFailsOnFirstSend(t *testing.T) {
	ms := &mockSession{errs: []error{errors.New("timeout")}}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	if _, err := rt.Submit(context.Background(), sess, "hello"); err != nil {
		t.Fatal(err)
	}
	if len(ms.results) != 0 {
		t.Error("no tool results should be sent after a failed send")
	}
	msgs := sess.Messages()
	if msgs[len(msgs)-1].Text != FallbackReply {
		t.Errorf("expected fallback, got %q", msgs[len(msgs)-1].Text)
	}
}

func TestSubmitProtocolError(t *testing.T) {
	ms := &mockSession{rounds: []*llm.Round{
		{Calls: []llm.Call{{ID: "", Name: tools.ToolSearch}}},
	}}
	nav := &tools.Recorder{}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", nav)

	turn, _ := rt.Submit(context.Background(), sess, "oslo")
	var pe *ProtocolError
	if !errors.As(turn.Err, &pe) {
		t.Errorf("expected ProtocolError, got %v", turn.Err)
	}
	if len(nav.Visits()) != 0 {
		t.Error("malformed round must not dispatch")
	}
}

func TestSubmitRoundCap(t *testing.T) {
	loop := &llm.Round{Calls: []llm.Call{{ID: "a", Name: tools.ToolNavigate, Arguments: map[string]any{"page": "home"}}}}
	ms := &mockSession{rounds: []*llm.Round{loop, loop, loop, loop, loop}}
	nav := &tools.Recorder{}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{MaxRounds: 3})
	sess := rt.NewSession(context.Background(), "test:1", nav)

	turn, err := rt.Submit(context.Background(), sess, "loop")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Outcome != OutcomeRoundCap {
		t.Fatalf("expected round cap, got %q", turn.Outcome)
	}
	if turn.Rounds != 3 {
		t.Errorf("expected 3 model requests, got %d", turn.Rounds)
	}
	if len(nav.Visits()) != 2 {
		t.Errorf("capped calls must not be dispatched, got %d navigations", len(nav.Visits()))
	}
	msgs := sess.Messages()
	if msgs[len(msgs)-1].Text != RoundCapReply {
		t.Errorf("expected %q, got %q", RoundCapReply, msgs[len(msgs)-1].Text)
	}
}

func TestSubmitRejections(t *testing.T) {
	ms := &mockSession{}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	if _, err := rt.Submit(context.Background(), sess, "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if len(sess.Messages()) != 0 {
		t.Error("rejected submission must not append")
	}

	sess.Close()
	if _, err := rt.Submit(context.Background(), sess, "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSubmitBusy(t *testing.T) {
	ms := &mockSession{
		rounds:  []*llm.Round{{Text: "done"}},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	entered := ms.entered
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Submit(context.Background(), sess, "first")
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first turn")
	}
	if !sess.Busy() {
		t.Error("expected busy during turn")
	}

	if _, err := rt.Submit(context.Background(), sess, "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(ms.block)
	<-done

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected only the first exchange, got %d messages", len(msgs))
	}
	if len(ms.texts) != 1 {
		t.Errorf("expected a single SendText, got %v", ms.texts)
	}
}

func TestSubmitCancel(t *testing.T) {
	ms := &mockSession{
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	entered := ms.entered
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	result := make(chan *Turn, 1)
	go func() {
		turn, _ := rt.Submit(context.Background(), sess, "slow")
		result <- turn
	}()

	<-entered
	if !sess.Cancel() {
		t.Fatal("expected a running turn to cancel")
	}

	select {
	case turn := <-result:
		if turn.Outcome != OutcomeCancelled {
			t.Errorf("expected cancelled outcome, got %q", turn.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for cancelled turn")
	}

	msgs := sess.Messages()
	if msgs[len(msgs)-1].Text != CancelledReply {
		t.Errorf("expected %q, got %q", CancelledReply, msgs[len(msgs)-1].Text)
	}
	if sess.Busy() {
		t.Error("expected busy cleared after cancel")
	}
	if sess.Cancel() {
		t.Error("expected nothing to cancel once idle")
	}
}

func TestNewSessionInert(t *testing.T) {
	rt := newTestRuntime(t, &mockGateway{err: errors.New("no api key")}, Options{Greeting: DefaultGreeting})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	if sess.Available() {
		t.Fatal("expected inert session")
	}
	var ce *ConfigurationError
	if !errors.As(sess.Err(), &ce) {
		t.Errorf("expected ConfigurationError, got %v", sess.Err())
	}
	if _, err := rt.Submit(context.Background(), sess, "hi"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if len(sess.Messages()) != 1 {
		t.Errorf("expected only the greeting, got %d messages", len(sess.Messages()))
	}
}

func TestNewSessionGreetingAndManifest(t *testing.T) {
	gw := &mockGateway{session: &mockSession{}}
	rt := newTestRuntime(t, gw, Options{Greeting: DefaultGreeting})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Role != types.RoleAgent || msgs[0].Text != DefaultGreeting {
		t.Errorf("expected greeting, got %+v", msgs)
	}
	if len(gw.tools) != 3 {
		t.Errorf("expected 3 tools in manifest, got %d", len(gw.tools))
	}
}

func TestSubmitConcurrentDispatchKeepsOrder(t *testing.T) {
	calls := []llm.Call{
		{ID: "1", Name: tools.ToolSearch, Arguments: map[string]any{"city": "Lima"}},
		{ID: "2", Name: tools.ToolSearch, Arguments: map[string]any{"city": "Quito"}},
		{ID: "3", Name: tools.ToolCompare, Arguments: map[string]any{"cityA": "Lima", "cityB": "Quito"}},
	}
	ms := &mockSession{rounds: []*llm.Round{{Calls: calls}, {Text: "ok"}}}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{ToolConcurrency: 3})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	if _, err := rt.Submit(context.Background(), sess, "compare"); err != nil {
		t.Fatal(err)
	}
	got := ms.results[0]
	for i, c := range calls {
		if got[i].ID != c.ID {
			t.Errorf("result %d: expected id %q, got %q", i, c.ID, got[i].ID)
		}
	}
}

func TestSubscribeSeesBusyTransitions(t *testing.T) {
	ms := &mockSession{rounds: []*llm.Round{{Text: "done"}}}
	rt := newTestRuntime(t, &mockGateway{session: ms}, Options{})
	sess := rt.NewSession(context.Background(), "test:1", &tools.Recorder{})

	var snaps []Snapshot
	unsubscribe := sess.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })
	if _, err := rt.Submit(context.Background(), sess, "hi"); err != nil {
		t.Fatal(err)
	}
	unsubscribe()

	if len(snaps) < 3 {
		t.Fatalf("expected at least 3 notifications, got %d", len(snaps))
	}
	if !snaps[0].Busy {
		t.Error("first notification should mark busy")
	}
	last := snaps[len(snaps)-1]
	if last.Busy || len(last.Messages) != 2 {
		t.Errorf("last notification should be idle with 2 messages, got %+v", last)
	}
}
