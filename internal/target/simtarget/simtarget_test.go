package simtarget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/retrouci/internal/target"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func started(t *testing.T, cfg Config) (*Target, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(1993, 5, 1, 12, 0, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	tg := New(cfg)
	if err := tg.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return tg, clock
}

func query(t *testing.T, tg *Target) target.Observation {
	t.Helper()
	obs, err := tg.QueryState(context.Background())
	if err != nil {
		t.Fatalf("QueryState: %v", err)
	}
	return obs
}

func TestThinkTimeThenScriptedMove(t *testing.T) {
	tg, clock := started(t, Config{
		EngineColor: nchess.Black,
		Script:      []string{"e7e5", "g8f6"},
		ThinkTime:   2 * time.Second,
		DirectMoves: true,
	})
	ctx := context.Background()
	if err := tg.ApplyMove(ctx, "e2e4"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if obs := query(t, tg); !obs.Thinking || obs.Move != "" {
		t.Fatalf("program should be thinking, got %+v", obs)
	}
	clock.Advance(2 * time.Second)
	obs := query(t, tg)
	if obs.Thinking || obs.Move != "e7e5" || obs.PonderMove != "a2a3" {
		t.Fatalf("unexpected %+v", obs)
	}

	// the script continues while its moves stay legal
	if err := tg.ApplyMove(ctx, "f1c4"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	clock.Advance(2 * time.Second)
	if obs := query(t, tg); obs.Move != "g8f6" {
		t.Fatalf("expected the second script move, got %s", obs.Move)
	}
	if err := tg.ApplyMove(ctx, "c4f7"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	clock.Advance(2 * time.Second)
	if obs := query(t, tg); obs.Move != "e8e7" && obs.Move != "e8f7" {
		t.Fatalf("expected a king move out of check, got %s", obs.Move)
	}
}

func TestWhiteMovesAfterNewGame(t *testing.T) {
	tg, clock := started(t, Config{ThinkTime: time.Second})
	if err := tg.NavigateToGame(context.Background()); err != nil {
		t.Fatalf("NavigateToGame: %v", err)
	}
	if !query(t, tg).Thinking {
		t.Fatalf("white program should start thinking")
	}
	if err := tg.ApplyMove(context.Background(), "e7e5"); err == nil {
		t.Fatalf("input while thinking should fail")
	}
	clock.Advance(time.Second)
	obs := query(t, tg)
	if obs.Thinking || obs.Placement != "rnbqkbnr/pppppppp/8/8/8/P7/1PPPPPPP/RNBQKBNR" {
		t.Fatalf("unexpected %+v", obs)
	}
	if obs.Move != "" {
		t.Fatalf("board-only program reported a move")
	}
}

func TestCancelAndThinkTimeOption(t *testing.T) {
	tg, clock := started(t, Config{
		Caps:      target.Capabilities{StopMidCompute: true},
		ThinkTime: time.Hour,
	})
	if tg.RequestCancel() != true {
		t.Fatalf("cancel while thinking should be accepted")
	}
	if query(t, tg).Thinking {
		t.Fatalf("cancelled search should move at once")
	}
	if tg.RequestCancel() {
		t.Fatalf("nothing left to cancel")
	}

	if err := tg.SetOption(context.Background(), OptionThinkTime, "50"); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	if err := tg.SetOption(context.Background(), OptionThinkTime, "soon"); err == nil {
		t.Fatalf("bad think time accepted")
	}
	if err := tg.ApplyMove(context.Background(), "a7a6"); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	clock.Advance(50 * time.Millisecond)
	if query(t, tg).Thinking {
		t.Fatalf("think time option ignored")
	}
	if v, ok := tg.Option(OptionThinkTime); !ok || v != "50" {
		t.Fatalf("option not recorded: %q", v)
	}
	if len(tg.Info().Options) != 1 || tg.Info().Options[0].Default != "3600000" {
		t.Fatalf("think time option not declared: %+v", tg.Info().Options)
	}
}

func TestCapabilitiesAndLifecycle(t *testing.T) {
	plain := New(Config{})
	if _, err := plain.QueryState(context.Background()); !errors.Is(err, errNotStarted) {
		t.Fatalf("expected errNotStarted, got %v", err)
	}
	if plain.RequestCancel() {
		t.Fatalf("cancel without the capability")
	}

	tg, _ := started(t, Config{EngineColor: nchess.Black, Caps: target.Capabilities{ArbitraryPosition: true}})
	if err := tg.SetArbitraryState(context.Background(), "4k3/8/8/8/8/8/4P3/4K3 w - - 0 1"); err != nil {
		t.Fatalf("SetArbitraryState: %v", err)
	}
	if got := query(t, tg).Placement; got != "4k3/8/8/8/8/8/4P3/4K3" {
		t.Fatalf("placement = %s", got)
	}
	if err := plain.SetArbitraryState(context.Background(), "4k3/8/8/8/8/8/4P3/4K3 w - - 0 1"); !errors.Is(err, target.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := New(Config{BootDelay: time.Hour})
	if err := slow.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("boot should honour the context, got %v", err)
	}
	if err := tg.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := tg.QueryState(context.Background()); !errors.Is(err, errNotStarted) {
		t.Fatalf("expected errNotStarted after shutdown, got %v", err)
	}
}
