package connector

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/uci"
)

// fakeTarget plays the first legal move in sorted UCI order whenever its side is to move.
type fakeTarget struct {
	mu   sync.Mutex
	caps target.Capabilities
	info target.Info

	engine nchess.Color
	board  GameState
	direct bool // report Move and PonderMove instead of only the board

	release       chan struct{} // engine keeps thinking until closed; nil moves at once
	startGate     chan struct{}
	applyGate     chan struct{}
	applyErr      error
	queryErr      error
	startErrAfter int // Start fails from this call on; 0 never fails
	cancelOK      bool
	shutdownBlock chan struct{}

	starts    int
	cancelled bool
	calls     []string
}

func newFakeTarget(engine nchess.Color) *fakeTarget {
	return &fakeTarget{
		info:   target.Info{Name: "Fake Chess", Author: "Retro Soft", Year: "1991"},
		engine: engine,
		board:  NewGameState(),
	}
}

func (f *fakeTarget) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTarget) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeTarget) countCalls(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeTarget) Board() GameState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.board
}

func (f *fakeTarget) Info() target.Info                 { return f.info }
func (f *fakeTarget) Capabilities() target.Capabilities { return f.caps }

func (f *fakeTarget) Start(ctx context.Context) error {
	f.record("start")
	if err := waitGate(ctx, f.startGate); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErrAfter > 0 && f.starts >= f.startErrAfter {
		return errors.New("emulator did not boot")
	}
	return nil
}

func (f *fakeTarget) NavigateToGame(context.Context) error {
	f.record("navigate")
	f.mu.Lock()
	f.board = NewGameState()
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) QueryState(context.Context) (target.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs := target.Observation{At: time.Now()}
	if f.queryErr != nil {
		return obs, f.queryErr
	}
	if f.board.SideToMove() == f.engine && !f.board.Over() {
		if f.release != nil && !isClosed(f.release) && !f.cancelled {
			obs.Thinking = true
			obs.Placement = f.board.Placement()
			return obs, nil
		}
		mv := firstLegal(f.board)
		next, err := f.board.Play(mv)
		if err != nil {
			return obs, err
		}
		f.board = next
		f.cancelled = false
		if f.direct {
			obs.Move = mv
			obs.PonderMove = firstLegal(next)
		}
	}
	obs.Placement = f.board.Placement()
	return obs, nil
}

func (f *fakeTarget) ApplyMove(ctx context.Context, mv string) error {
	f.record("apply " + mv)
	if err := waitGate(ctx, f.applyGate); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	next, err := f.board.Play(mv)
	if err != nil {
		return err
	}
	f.board = next
	return nil
}

func (f *fakeTarget) SetArbitraryState(_ context.Context, fen string) error {
	f.record("fen " + fen)
	if !f.caps.ArbitraryPosition {
		return target.ErrUnsupported
	}
	g, err := buildGameState(fen, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.board = g
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) RequestCancel() bool {
	f.record("cancel")
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cancelOK {
		return false
	}
	f.cancelled = true
	return true
}

func (f *fakeTarget) Shutdown(context.Context) error {
	f.record("shutdown")
	if f.shutdownBlock != nil {
		<-f.shutdownBlock
	}
	return nil
}

func waitGate(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func firstLegal(g GameState) string {
	pos := g.game.Position()
	var out []string
	for _, mv := range g.game.ValidMoves() {
		out = append(out, nchess.UCINotation{}.Encode(pos, &mv))
	}
	if len(out) == 0 {
		return ""
	}
	slices.Sort(out)
	return out[0]
}

// lineRecorder collects sink output; expect consumes lines in order.
type lineRecorder struct {
	mu     sync.Mutex
	lines  []string
	cursor int
}

func (r *lineRecorder) sink(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.lines)
}

func (r *lineRecorder) next(prefix string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := r.cursor; i < len(r.lines); i++ {
		if strings.HasPrefix(r.lines[i], prefix) {
			r.cursor = i + 1
			return r.lines[i], true
		}
	}
	return "", false
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *snapshotRecorder) Observe(snap Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func (s *snapshotRecorder) find(match func(Snapshot) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snaps {
		if match(snap) {
			return true
		}
	}
	return false
}

const waitTimeout = 3 * time.Second

type harness struct {
	t    *testing.T
	c    *Connector
	fake *fakeTarget
	out  *lineRecorder
	cmds chan uci.Command
	done chan error
}

func testConfig() Config {
	return Config{
		SessionID:       "test",
		PollInterval:    2 * time.Millisecond,
		StableSamples:   2,
		InfoInterval:    time.Hour,
		ShutdownTimeout: 500 * time.Millisecond,
	}
}

func startHarness(t *testing.T, fake *fakeTarget, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, fake: fake, out: &lineRecorder{}, cmds: make(chan uci.Command, 32), done: make(chan error, 1)}
	h.c = New(fake, h.out.sink, cfg, opts...)
	go func() { h.done <- h.c.Run(context.Background(), h.cmds) }()
	t.Cleanup(func() {
		select {
		case <-h.done:
		default:
			close(h.cmds)
			<-h.done
		}
	})
	return h
}

func (h *harness) send(lines ...string) {
	for _, line := range lines {
		cmd, ok := uci.Parse(line, time.Now())
		if !ok {
			h.t.Fatalf("bad test command %q", line)
		}
		h.cmds <- cmd
	}
}

func (h *harness) expect(prefix string) string {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if line, ok := h.out.next(prefix); ok {
			return line
		}
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("no %q line; output so far: %q", prefix, h.out.all())
	return ""
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	waitFor(h.t, func() bool { return h.c.State() == s }, "state "+s.String()+", have "+h.c.State().String())
}

func (h *harness) quit() error {
	h.t.Helper()
	h.send(uci.CmdQuit)
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(waitTimeout):
		h.t.Fatalf("Run did not return after quit")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
