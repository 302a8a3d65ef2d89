// Package simtarget is an in-process legacy program: it boots, takes typed moves with
// an input delay, and after a think time plays a scripted move or else the first legal
// move in sorted order. It backs the "sim" profile and end-to-end tests.
package simtarget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/target/board"
)

// OptionThinkTime is the declared option that changes ThinkTime, in milliseconds.
const OptionThinkTime = "Think Time"

var errNotStarted = errors.New("simtarget: program not running")

type Config struct {
	Info        target.Info
	Caps        target.Capabilities
	EngineColor nchess.Color
	// Script is played in order while each move is legal.
	Script      []string
	ThinkTime   time.Duration
	InputDelay  time.Duration
	BootDelay   time.Duration
	DirectMoves bool
	Now         func() time.Time
}

type Target struct {
	cfg Config

	mu         sync.Mutex
	running    bool
	board      *board.Board
	script     []string
	thinkTime  time.Duration
	thinkSince time.Time
	thinking   bool
	lastMove   string
	lastPonder string
	options    map[string]string
}

var (
	_ target.Target       = (*Target)(nil)
	_ target.OptionSetter = (*Target)(nil)
)

func New(cfg Config) *Target {
	if cfg.EngineColor == nchess.NoColor {
		cfg.EngineColor = nchess.White
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if !hasOption(cfg.Info.Options, OptionThinkTime) {
		lo, hi := 0, 3600000
		cfg.Info.Options = append(cfg.Info.Options, target.Option{
			Name:    OptionThinkTime,
			Type:    "spin",
			Default: strconv.FormatInt(cfg.ThinkTime.Milliseconds(), 10),
			Min:     &lo,
			Max:     &hi,
		})
	}
	return &Target{cfg: cfg, board: board.New(), thinkTime: cfg.ThinkTime, options: map[string]string{}}
}

func hasOption(opts []target.Option, name string) bool {
	for _, o := range opts {
		if o.Name == name {
			return true
		}
	}
	return false
}

func (t *Target) Info() target.Info                 { return t.cfg.Info }
func (t *Target) Capabilities() target.Capabilities { return t.cfg.Caps }

func (t *Target) Start(ctx context.Context) error {
	if err := sleep(ctx, t.cfg.BootDelay); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.script = append([]string(nil), t.cfg.Script...)
	t.thinkTime = t.cfg.ThinkTime
	t.resetLocked(board.New())
	return nil
}

func (t *Target) NavigateToGame(ctx context.Context) error {
	if err := sleep(ctx, t.cfg.InputDelay); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return errNotStarted
	}
	t.resetLocked(board.New())
	return nil
}

func (t *Target) QueryState(ctx context.Context) (target.Observation, error) {
	if err := ctx.Err(); err != nil {
		return target.Observation{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return target.Observation{}, errNotStarted
	}
	now := t.cfg.Now()
	if t.thinking && now.Sub(t.thinkSince) >= t.thinkTime {
		t.moveLocked()
	}
	obs := target.Observation{Placement: t.board.Placement(), Thinking: t.thinking, At: now}
	if t.cfg.DirectMoves {
		obs.Move, obs.PonderMove = t.lastMove, t.lastPonder
	}
	return obs, nil
}

func (t *Target) ApplyMove(ctx context.Context, move string) error {
	if err := sleep(ctx, t.cfg.InputDelay); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return errNotStarted
	}
	if t.thinking {
		return fmt.Errorf("apply %s: program is thinking", move)
	}
	if err := t.board.Play(move); err != nil {
		return err
	}
	t.lastMove, t.lastPonder = "", ""
	t.maybeThinkLocked()
	return nil
}

func (t *Target) SetArbitraryState(ctx context.Context, fen string) error {
	if !t.cfg.Caps.ArbitraryPosition {
		return target.ErrUnsupported
	}
	b, err := board.FromFEN(fen)
	if err != nil {
		return err
	}
	if err := sleep(ctx, t.cfg.InputDelay); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return errNotStarted
	}
	t.resetLocked(b)
	return nil
}

func (t *Target) SetOption(_ context.Context, name, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name == OptionThinkTime {
		ms, err := strconv.Atoi(value)
		if err != nil || ms < 0 {
			return fmt.Errorf("option %s: bad value %q", name, value)
		}
		t.thinkTime = time.Duration(ms) * time.Millisecond
	}
	t.options[name] = value
	return nil
}

// Option returns the last value set for name.
func (t *Target) Option(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.options[name]
	return v, ok
}

// RequestCancel makes the program move on the next poll.
func (t *Target) RequestCancel() bool {
	if !t.cfg.Caps.StopMidCompute {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.thinking {
		return false
	}
	t.thinkSince = t.cfg.Now().Add(-t.thinkTime)
	return true
}

func (t *Target) Shutdown(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.thinking = false
	return nil
}

func (t *Target) resetLocked(b *board.Board) {
	t.board = b
	t.thinking = false
	t.lastMove, t.lastPonder = "", ""
	t.maybeThinkLocked()
}

func (t *Target) maybeThinkLocked() {
	if t.board.Turn() != t.cfg.EngineColor || t.board.Over() {
		return
	}
	t.thinking = true
	t.thinkSince = t.cfg.Now()
}

func (t *Target) moveLocked() {
	t.thinking = false
	mv := t.pick()
	if mv == "" {
		return
	}
	if err := t.board.Play(mv); err != nil {
		return
	}
	t.lastMove = mv
	t.lastPonder = ""
	if reply := t.board.Legal(); len(reply) > 0 {
		t.lastPonder = reply[0]
	}
}

// pick takes the next script move if it is legal here, else the first legal move.
func (t *Target) pick() string {
	if len(t.script) > 0 {
		next := t.script[0]
		if t.board.IsLegal(next) {
			t.script = t.script[1:]
			return next
		}
		t.script = nil
	}
	legal := t.board.Legal()
	if len(legal) == 0 {
		return ""
	}
	return legal[0]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
