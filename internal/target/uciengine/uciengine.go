// Package uciengine stands a modern UCI engine in for a legacy program. The engine
// thinks on its own whenever its colour is to move, the way the old programs do once a
// move has been typed in, and the Connector only ever sees the resulting board.
package uciengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/obslog"
	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/target/board"
)

const defaultReadyTimeout = 4 * time.Second

var errThinking = errors.New("uciengine: program is thinking")

type Config struct {
	Info        target.Info
	Caps        target.Capabilities
	EngineColor nchess.Color
	// GoArgs follow "go"; empty means "movetime 1000".
	GoArgs []string
	// SetOptions are sent after uciok, in name order.
	SetOptions map[string]string
	// DirectMoves reports the engine's move in observations instead of only the board.
	DirectMoves  bool
	ReadyTimeout time.Duration
}

// Target is a target.Target over one engine process.
type Target struct {
	cfg    Config
	launch Launcher
	logger *zap.Logger

	wmu   sync.Mutex
	stdin io.Writer

	mu         sync.Mutex
	pipes      *Pipes
	lines      chan string
	board      *board.Board
	startFEN   string
	moves      []string
	searching  bool
	searchDone chan struct{}
	gen        int
	lastMove   string
	lastPonder string
	asyncErr   error
}

var (
	_ target.Target       = (*Target)(nil)
	_ target.OptionSetter = (*Target)(nil)
)

func New(launch Launcher, cfg Config) *Target {
	if cfg.EngineColor == nchess.NoColor {
		cfg.EngineColor = nchess.White
	}
	if len(cfg.GoArgs) == 0 {
		cfg.GoArgs = []string{"movetime", "1000"}
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	return &Target{
		cfg:    cfg,
		launch: launch,
		logger: obslog.L().With(zap.String("target", cfg.Info.Name)),
		board:  board.New(),
	}
}

func (t *Target) Info() target.Info                 { return t.cfg.Info }
func (t *Target) Capabilities() target.Capabilities { return t.cfg.Caps }

// Start launches the engine, restarting it if one is already running.
func (t *Target) Start(ctx context.Context) error {
	t.mu.Lock()
	running := t.pipes != nil
	t.mu.Unlock()
	if running {
		if err := t.Shutdown(ctx); err != nil {
			t.logger.Warn("uciengine_restart_shutdown", zap.Error(err))
		}
	}

	pipes, err := t.launch(ctx)
	if err != nil {
		return err
	}
	lines := make(chan string, 64)
	go readLoop(pipes.Stdout, lines)

	t.mu.Lock()
	t.pipes = pipes
	t.lines = lines
	t.asyncErr = nil
	t.resetLocked(board.New(), "")
	t.mu.Unlock()
	t.wmu.Lock()
	t.stdin = pipes.Stdin
	t.wmu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, t.cfg.ReadyTimeout)
	defer cancel()
	if err := t.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := t.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	names := make([]string, 0, len(t.cfg.SetOptions))
	for name := range t.cfg.SetOptions {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := t.send(fmt.Sprintf("setoption name %s value %s\n", name, t.cfg.SetOptions[name])); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := t.ensureReady(initCtx); err != nil {
		return err
	}
	t.logger.Info("uciengine_started")
	return nil
}

func (t *Target) NavigateToGame(ctx context.Context) error {
	if err := t.halt(ctx); err != nil {
		return err
	}
	if err := t.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	readyCtx, cancel := context.WithTimeout(ctx, t.cfg.ReadyTimeout)
	defer cancel()
	if err := t.ensureReady(readyCtx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(board.New(), "")
	t.maybeThinkLocked()
	return nil
}

func (t *Target) QueryState(ctx context.Context) (target.Observation, error) {
	if err := ctx.Err(); err != nil {
		return target.Observation{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.asyncErr != nil {
		return target.Observation{}, t.asyncErr
	}
	if t.pipes == nil {
		return target.Observation{}, errEngineExited
	}
	obs := target.Observation{
		Placement: t.board.Placement(),
		Thinking:  t.searching,
		At:        time.Now(),
	}
	if t.cfg.DirectMoves {
		obs.Move = t.lastMove
		obs.PonderMove = t.lastPonder
	}
	return obs, nil
}

func (t *Target) ApplyMove(ctx context.Context, move string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.searching {
		return fmt.Errorf("apply %s: %w", move, errThinking)
	}
	if err := t.board.Play(move); err != nil {
		return err
	}
	t.moves = append(t.moves, move)
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
	if err := t.halt(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(b, fen)
	t.maybeThinkLocked()
	return nil
}

func (t *Target) SetOption(_ context.Context, name, value string) error {
	return t.send(fmt.Sprintf("setoption name %s value %s\n", name, value))
}

// RequestCancel sends stop; the engine answers with its best move so far.
func (t *Target) RequestCancel() bool {
	if !t.cfg.Caps.StopMidCompute {
		return false
	}
	t.mu.Lock()
	searching := t.searching
	t.mu.Unlock()
	if !searching {
		return false
	}
	if err := t.send("stop\n"); err != nil {
		t.logger.Warn("uciengine_stop_error", zap.Error(err))
		return false
	}
	return true
}

func (t *Target) Shutdown(ctx context.Context) error {
	if err := t.halt(ctx); err != nil {
		t.logger.Warn("uciengine_halt_error", zap.Error(err))
	}
	_ = t.send("quit\n")

	t.mu.Lock()
	pipes := t.pipes
	t.pipes = nil
	t.mu.Unlock()
	t.wmu.Lock()
	t.stdin = nil
	t.wmu.Unlock()
	if pipes == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- pipes.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Target) resetLocked(b *board.Board, fen string) {
	t.board = b
	t.startFEN = fen
	t.moves = nil
	t.lastMove, t.lastPonder = "", ""
}

// maybeThinkLocked starts a search when the engine's colour is to move. position and go
// are written before searching is set, so any stop lands after them.
func (t *Target) maybeThinkLocked() {
	if t.searching || t.board.Turn() != t.cfg.EngineColor || t.board.Over() {
		return
	}
	cmd := buildPositionCommand(t.startFEN, t.moves) + "go " + strings.Join(t.cfg.GoArgs, " ") + "\n"
	if err := t.send(cmd); err != nil {
		t.asyncErr = fmt.Errorf("send go: %w", err)
		return
	}
	t.gen++
	t.searching = true
	done := make(chan struct{})
	t.searchDone = done
	go t.search(t.gen, t.lines, done)
}

// search reads the engine's output until its bestmove.
func (t *Target) search(gen int, lines <-chan string, done chan struct{}) {
	defer close(done)
	for line := range lines {
		switch {
		case strings.HasPrefix(line, "info "):
			if info, ok := parseInfo(line); ok {
				t.logger.Debug("uciengine_info", zap.Int("depth", info.depth), zap.Int("score_cp", info.scoreCP), zap.Strings("pv", info.pv))
			}
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			var best, ponder string
			if len(parts) >= 2 {
				best = parts[1]
			}
			if len(parts) >= 4 && parts[2] == "ponder" {
				ponder = parts[3]
			}
			t.finishSearch(gen, best, ponder, nil)
			return
		}
	}
	t.finishSearch(gen, "", "", errEngineExited)
}

func (t *Target) finishSearch(gen int, best, ponder string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.searching {
		return
	}
	t.searching = false
	if err != nil {
		t.asyncErr = err
		return
	}
	if best == "" || best == "0000" || best == "(none)" {
		return
	}
	if perr := t.board.Play(best); perr != nil {
		t.asyncErr = fmt.Errorf("engine played %s: %w", best, perr)
		return
	}
	t.moves = append(t.moves, best)
	t.lastMove, t.lastPonder = best, ponder
}

// halt stops a running search and waits for the engine to answer, discarding its move.
func (t *Target) halt(ctx context.Context) error {
	t.mu.Lock()
	if !t.searching {
		t.mu.Unlock()
		return nil
	}
	done := t.searchDone
	t.gen++
	t.searching = false
	t.mu.Unlock()

	if err := t.send("stop\n"); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Target) ensureReady(ctx context.Context) error {
	if err := t.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := t.awaitToken(ctx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (t *Target) send(msg string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.stdin == nil {
		return errEngineExited
	}
	_, err := io.WriteString(t.stdin, msg)
	return err
}

func (t *Target) awaitToken(ctx context.Context, token string) error {
	t.mu.Lock()
	lines := t.lines
	t.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errEngineExited
			}
			if strings.HasPrefix(line, token) {
				return nil
			}
		}
	}
}

type searchInfo struct {
	depth   int
	scoreCP int
	pv      []string
}

func parseInfo(line string) (searchInfo, bool) {
	parts := strings.Fields(line)
	var info searchInfo
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				info.depth, _ = strconv.Atoi(parts[i+1])
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil {
					switch parts[i+1] {
					case "cp":
						info.scoreCP = v
					case "mate":
						const mateValue = 30000
						info.scoreCP = mateValue
						if v < 0 {
							info.scoreCP = -mateValue
						}
					}
				}
				i += 2
			}
		case "pv":
			info.pv = append([]string(nil), parts[i+1:]...)
			i = len(parts)
		}
	}
	return info, len(info.pv) > 0
}
