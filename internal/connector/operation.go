package connector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/timing"
	"github.com/park285/retrouci/internal/uci"
)

type opKind int

const (
	opStartup opKind = iota
	opRecover
	opSetup
	opOpponent
	opOption
	opSearch
	opWatch
	opPonder
)

func (k opKind) String() string {
	switch k {
	case opStartup:
		return "startup"
	case opRecover:
		return "recover"
	case opSetup:
		return "setup"
	case opOpponent:
		return "opponent"
	case opOption:
		return "option"
	case opSearch:
		return "search"
	case opWatch:
		return "watch"
	case opPonder:
		return "ponder"
	default:
		return "unknown"
	}
}

// operation is the single piece of target work in flight.
type operation struct {
	seq       uint64
	kind      opKind
	cmd       string
	want      GameState
	cancel    context.CancelFunc
	done      chan struct{}
	aborted   bool // stop cancelled it
	preempted bool // a queued command cancelled a watch or ponder poll
}

type opResult struct {
	seq    uint64
	err    error
	move   string
	ponder string
	obs    *target.Observation
}

type progressEvent struct {
	seq uint64
	ev  timing.Event
}

// opFunc runs off the Run goroutine. It must only touch the target, its arguments and
// report.
type opFunc func(ctx context.Context, report func(timing.Event)) opResult

func (c *Connector) dispatch(kind opKind, cmd string, ceiling time.Duration, fn opFunc) *operation {
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithTimeout(context.Background(), ceiling)
	op := &operation{seq: seq, kind: kind, cmd: cmd, cancel: cancel, done: make(chan struct{})}
	c.op = op

	report := func(ev timing.Event) {
		select {
		case c.progress <- progressEvent{seq: seq, ev: ev}:
		default:
		}
	}
	c.logger.Debug("op_dispatch", zap.Stringer("kind", kind), zap.Uint64("seq", seq), zap.String("command", cmd))
	go func() {
		defer close(op.done)
		defer cancel()
		res := fn(ctx, report)
		res.seq = seq
		c.results <- res
	}()
	return op
}

func (c *Connector) onProgress(p progressEvent) {
	if c.op == nil || p.seq != c.op.seq {
		return
	}
	c.clock.Mark(p.ev)
	if c.State() == StateComputing && c.searchRequested {
		now := c.cfg.Now()
		if now.Sub(c.lastInfo) >= c.cfg.InfoInterval {
			c.lastInfo = now
			c.emitLines(uci.Info{Time: c.clock.Elapsed(timing.Thinking), Setup: c.clock.Elapsed(timing.Setup)}.Lines())
		}
	}
}

func (c *Connector) drainProgress(seq uint64) {
	for {
		select {
		case p := <-c.progress:
			if p.seq == seq {
				c.clock.Mark(p.ev)
			}
		default:
			return
		}
	}
}

// complete routes a finished operation to its handler, then resumes the backlog.
func (c *Connector) complete(res opResult) {
	op := c.op
	if op == nil || res.seq != op.seq {
		return
	}
	c.drainProgress(op.seq)
	c.op = nil
	c.logger.Debug("op_complete", zap.Stringer("kind", op.kind), zap.Uint64("seq", op.seq), zap.Error(res.err))

	switch op.kind {
	case opStartup:
		c.completeStartup(res)
	case opRecover:
		c.completeRecover(res)
	case opSetup:
		c.completeSetup(op, res)
	case opOpponent:
		c.completeOpponent(op, res)
	case opOption:
		c.completeOption(op, res)
	case opSearch:
		c.completeSearch(op, res)
	case opWatch:
		c.completeWatch(op, res)
	case opPonder:
		c.completePonder(op, res)
	}
	if c.State().Terminal() {
		return
	}
	c.drain()
	c.maybeWatch()
}

// bootTarget is the Start plus NavigateToGame sequence shared by startup and recovery.
func (c *Connector) bootTarget(ctx context.Context, report func(timing.Event)) opResult {
	report(timing.EventSetupProgress)
	if err := c.target.Start(ctx); err != nil {
		return opResult{err: err}
	}
	report(timing.EventSetupProgress)
	if err := c.target.NavigateToGame(ctx); err != nil {
		return opResult{err: err}
	}
	return opResult{}
}

func (c *Connector) startup() {
	c.dispatch(opStartup, "startup", c.caps.SetupCeiling(), c.bootTarget)
}

func (c *Connector) completeStartup(res opResult) {
	if res.err != nil {
		c.enterError(faultFrom("startup", res.err, res.obs))
		return
	}
	c.becomeReady()
}

// becomeReady finishes Initializing: fresh game, then the held queue in arrival order.
func (c *Connector) becomeReady() {
	c.game = NewGameState()
	c.closeCycle(timing.Setup)
	c.setState(StateGameReady)
	if c.readyPending {
		c.readyPending = false
		c.emit(uci.ReadyOK)
	}
	if len(c.queue) > 0 {
		c.logger.Debug("queue_replay", zap.Int("commands", len(c.queue)))
		c.backlog = append(c.queue, c.backlog...)
		c.queue = nil
	}
}

// enterError records the fault and dispatches the single recovery attempt.
func (c *Connector) enterError(fault *Error) {
	c.fault = fault
	fields := []zap.Field{
		zap.Stringer("kind", fault.Kind),
		zap.String("command", fault.Command),
		zap.Stringer("state", c.State()),
		zap.Error(fault.Cause),
	}
	if fault.Observation != nil {
		fields = append(fields, zap.String("observed", fault.Observation.Placement), zap.Bool("thinking", fault.Observation.Thinking))
	}
	c.logger.Error("target_fault", fields...)
	c.emitInfo("error %s", fault.Error())

	if c.searchRequested || c.ponderGo || c.goPending {
		c.emit(uci.BestMove(uci.NullMove, ""))
	}
	for _, cmd := range c.backlog {
		c.rejectDropped(cmd)
	}
	c.backlog = nil
	c.clearSearch()
	c.clearPonder()
	c.clearHeld()
	c.goPending = false
	c.stopPending = false
	c.game = c.game.unknown()

	c.setState(StateError)
	c.dispatch(opRecover, "recover", c.caps.SetupCeiling(), c.bootTarget)
}

func (c *Connector) rejectDropped(cmd uci.Command) {
	if cmd.Name == uci.CmdIsReady {
		c.readyPending = true
		return
	}
	c.emitInfo("dropped %q after target fault", cmd.String())
	if cmd.Name == uci.CmdGo {
		c.emit(uci.BestMove(uci.NullMove, ""))
	}
}

func (c *Connector) completeRecover(res opResult) {
	if res.err != nil {
		critical := &Error{Kind: KindCriticalFailure, Command: "recover", Cause: res.err, Observation: res.obs}
		if c.fault != nil {
			critical.Message = "after " + c.fault.Kind.String()
		}
		c.fault = critical
		c.critical = true
		c.logger.Error("critical_failure", zap.Error(critical))
		c.emitInfo("critical failure: %s; shutting down", critical.Error())
		c.terminate("recover")
		return
	}
	c.logger.Info("target_recovered")
	c.setState(StateInitializing)
	c.becomeReady()
}

func (c *Connector) terminate(cause string) {
	if c.State().Terminal() {
		return
	}
	c.logger.Info("connector_terminate", zap.String("cause", cause), zap.Stringer("from", c.State()))
	c.queue = nil
	c.backlog = nil
	c.setState(StateTerminating)
}

// shutdown cancels in-flight work and releases the target within ShutdownTimeout.
func (c *Connector) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	clean := true
	if op := c.op; op != nil {
		c.target.RequestCancel()
		op.cancel()
		select {
		case <-op.done:
		case <-ctx.Done():
			clean = false
			c.logger.Warn("op_abandoned", zap.Stringer("kind", op.kind), zap.Uint64("seq", op.seq))
		}
		c.op = nil
	}

	done := make(chan error, 1)
	go func() { done <- c.target.Shutdown(ctx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			clean = false
			c.logger.Warn("target_shutdown_error", zap.Error(err))
		}
	case <-ctx.Done():
		clean = false
		c.logger.Warn("target_shutdown_timeout", zap.Duration("timeout", c.cfg.ShutdownTimeout))
	}

	c.endedAt = c.cfg.Now()
	c.cleanShutdown = clean
	if clean {
		c.emitInfo("shutdown complete")
	} else {
		c.emitInfo("shutdown complete; target did not stop cleanly, resources released")
	}
	c.notify(c.State())
	c.logger.Info("connector_stop", zap.Int("moves", len(c.game.moves)), zap.Bool("critical", c.critical), zap.Bool("clean", clean))
	if c.critical {
		return c.fault
	}
	return nil
}
