// Package connector drives one legacy chess program as a UCI engine. A Connector owns
// the session state machine and is run by a single goroutine; target work is delegated
// to at most one background operation at a time.
package connector

import (
	"context"
	"sync/atomic"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/obslog"
	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/timing"
	"github.com/park285/retrouci/internal/uci"
)

// Sink receives every outbound UCI line. It is only called from the Run goroutine.
type Sink func(line string)

// Observer is notified after state changes and appended moves. Calls happen on the Run
// goroutine, so implementations must not block.
type Observer interface {
	Observe(Snapshot)
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID  string        `json:"session_id"`
	Target     string        `json:"target"`
	State      string        `json:"state"`
	Previous   string        `json:"previous,omitempty"`
	FEN        string        `json:"fen"`
	Moves      []string      `json:"moves"`
	SideToMove string        `json:"side_to_move"`
	Setup      time.Duration `json:"setup_ns"`
	Thinking   time.Duration `json:"thinking_ns"`
	Fault      string        `json:"fault,omitempty"`
	At         time.Time     `json:"at"`
}

// Summary describes a finished session.
type Summary struct {
	SessionID  string
	Target     string
	StartFEN   string
	Moves      []string
	SAN        []string
	EngineSide nchess.Color
	Times      timing.Breakdown
	Fault      *Error
	Critical   bool

	// CleanShutdown is false when in-flight work was abandoned or the target did not
	// stop within ShutdownTimeout. Such a target must not be reused.
	CleanShutdown bool
	StartedAt     time.Time
	EndedAt       time.Time
}

// Config tunes a Connector. Zero values fall back to the defaults below.
type Config struct {
	SessionID       string
	EngineColor     nchess.Color
	PollInterval    time.Duration
	StableSamples   int
	WatchInterval   time.Duration // 0 disables watching for unrequested moves
	InfoInterval    time.Duration
	ShutdownTimeout time.Duration
	Now             func() time.Time
}

const (
	defaultPollInterval    = 250 * time.Millisecond
	defaultStableSamples   = 2
	defaultInfoInterval    = time.Second
	defaultShutdownTimeout = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.EngineColor != nchess.Black {
		c.EngineColor = nchess.White
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StableSamples <= 0 {
		c.StableSamples = defaultStableSamples
	}
	if c.InfoInterval <= 0 {
		c.InfoInterval = defaultInfoInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Option customises a Connector.
type Option func(*Connector)

func WithLogger(l *zap.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Connector) { c.observer = o }
}

// Connector is the per-session state machine.
type Connector struct {
	target   target.Target
	caps     target.Capabilities
	info     target.Info
	sink     Sink
	cfg      Config
	logger   *zap.Logger
	observer Observer

	state atomic.Int32

	game        GameState
	engineColor nchess.Color
	ponderOn    bool
	clock       *timing.Classifier
	totals      timing.Breakdown
	lastInfo    time.Time

	seq      uint64
	op       *operation
	results  chan opResult
	progress chan progressEvent

	queue   []uci.Command // held while Initializing
	backlog []uci.Command // waiting for the in-flight operation

	readyPending bool
	// Configuring
	setupDone   bool
	goPending   bool
	stopPending bool
	pendingGame GameState
	// Computing
	searchRequested bool
	stopIssued      bool
	heldMove        string
	heldPonder      string
	// Pondering
	ponderGo        bool
	ponderPredicted string
	ponderPosition  *uci.Command

	fault         *Error
	critical      bool
	cleanShutdown bool
	startedAt     time.Time
	endedAt       time.Time
}

// New builds a Connector in Initializing. Capabilities and Info are read once here.
func New(t target.Target, sink Sink, cfg Config, opts ...Option) *Connector {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = func(string) {}
	}
	c := &Connector{
		target:      t,
		caps:        t.Capabilities(),
		info:        t.Info(),
		sink:        sink,
		cfg:         cfg,
		logger:      obslog.L(),
		game:        NewGameState(),
		engineColor: cfg.EngineColor,
		clock:       timing.New(cfg.Now),
		results:     make(chan opResult, 1),
		progress:    make(chan progressEvent, 64),
		startedAt:   cfg.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("session_id", cfg.SessionID), zap.String("target", c.info.Name))
	c.state.Store(int32(StateInitializing))
	return c
}

// State may be called from any goroutine.
func (c *Connector) State() State { return State(c.state.Load()) }

// Capabilities returns the descriptor read at construction.
func (c *Connector) Capabilities() target.Capabilities { return c.caps }

// Run drives the Connector until Terminating, then shuts the target down. A closed
// command channel or a cancelled ctx is treated as quit. The returned error is non-nil
// only for a critical failure.
func (c *Connector) Run(ctx context.Context, commands <-chan uci.Command) error {
	c.logger.Info("connector_start",
		zap.String("engine_color", c.engineColor.Name()),
		zap.Any("capabilities", c.caps.Features()),
	)
	c.startup()
	for !c.State().Terminal() {
		select {
		case <-ctx.Done():
			c.handle(uci.Command{Name: uci.CmdQuit, At: c.cfg.Now()})
		case cmd, ok := <-commands:
			if !ok {
				cmd = uci.Command{Name: uci.CmdQuit, At: c.cfg.Now()}
			}
			_ = c.handle(cmd)
		case res := <-c.results:
			c.complete(res)
		case ev := <-c.progress:
			c.onProgress(ev)
		}
	}
	return c.shutdown()
}

// Summary is valid once Run has returned.
func (c *Connector) Summary() Summary {
	return Summary{
		SessionID:     c.cfg.SessionID,
		Target:        c.info.Name,
		StartFEN:      c.game.StartFEN(),
		Moves:         c.game.Moves(),
		SAN:           c.game.SAN(),
		EngineSide:    c.engineColor,
		Times:         c.totals.Add(c.clock.Snapshot()),
		Fault:         c.fault,
		Critical:      c.critical,
		CleanShutdown: c.cleanShutdown,
		StartedAt:     c.startedAt,
		EndedAt:       c.endedAt,
	}
}

func (c *Connector) setState(s State) {
	prev := c.State()
	if prev == s {
		return
	}
	c.state.Store(int32(s))
	switch s {
	case StateConfiguring:
		c.clock.BeginSetup()
	case StateComputing, StatePondering:
		c.clock.BeginThinking()
	}
	c.logger.Debug("connector_state", zap.Stringer("from", prev), zap.Stringer("to", s))
	c.notify(prev)
}

func (c *Connector) notify(prev State) {
	if c.observer == nil {
		return
	}
	snap := c.clock.Snapshot()
	out := Snapshot{
		SessionID:  c.cfg.SessionID,
		Target:     c.info.Name,
		State:      c.State().String(),
		FEN:        c.game.FEN(),
		Moves:      c.game.Moves(),
		SideToMove: c.game.SideToMove().Name(),
		Setup:      c.totals.Setup + snap.Setup,
		Thinking:   c.totals.Thinking + snap.Thinking,
		At:         c.cfg.Now(),
	}
	if prev != c.State() {
		out.Previous = prev.String()
	}
	if c.fault != nil {
		out.Fault = c.fault.Error()
	}
	c.observer.Observe(out)
}

func (c *Connector) emit(line string) { c.sink(line) }

func (c *Connector) emitLines(lines []string) {
	for _, line := range lines {
		c.sink(line)
	}
}

func (c *Connector) emitInfo(format string, args ...any) {
	c.emit(uci.InfoString(format, args...))
}

// closeCycle resets the classifier and keeps the closed cycle in the session totals.
func (c *Connector) closeCycle(next timing.Bucket) {
	c.totals = c.totals.Add(c.clock.Reset(next))
}

func (c *Connector) engineToMove(g GameState) bool {
	return g.SideToMove() == c.engineColor
}

func (c *Connector) clearSearch() {
	c.searchRequested = false
	c.stopIssued = false
}

func (c *Connector) clearPonder() {
	c.ponderGo = false
	c.ponderPredicted = ""
	c.ponderPosition = nil
	c.preempt()
}

func (c *Connector) clearHeld() {
	c.heldMove = ""
	c.heldPonder = ""
}
