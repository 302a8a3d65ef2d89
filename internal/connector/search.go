package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/timing"
	"github.com/park285/retrouci/internal/uci"
)

// detach returns a copy whose board can be used off the Run goroutine.
func (g GameState) detach() GameState {
	if g.game != nil {
		g.game = g.game.Clone()
	}
	return g
}

// startSearch dispatches the wait for the program's move. With preMove set, the
// predicted opponent move is entered first.
func (c *Connector) startSearch(cmd string, preMove string) {
	base := c.game
	if preMove != "" {
		next, err := c.game.Play(preMove)
		if err != nil {
			c.enterError(&Error{Kind: KindTargetFault, Command: cmd, Cause: err})
			return
		}
		base = next
		c.game = next
	}
	c.lastInfo = time.Time{}
	board := base.detach()
	c.dispatch(opSearch, cmd, c.caps.MoveCeiling(), func(ctx context.Context, report func(timing.Event)) opResult {
		if preMove != "" {
			report(timing.EventSetupProgress)
			if err := c.target.ApplyMove(ctx, preMove); err != nil {
				return opResult{err: err}
			}
			report(timing.EventMoveEntered)
		}
		return c.awaitMove(ctx, board, c.cfg.PollInterval, report)
	})
}

// awaitMove polls the target until it shows a move on top of board. A move reported
// directly wins; otherwise the placement must change and then hold still for
// StableSamples polls before it is diffed against the legal moves.
func (c *Connector) awaitMove(ctx context.Context, board GameState, interval time.Duration, report func(timing.Event)) opResult {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last   target.Observation
		seen   string
		stable int
	)
	from := board.Placement()
	for {
		obs, err := c.target.QueryState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return opResult{err: err, obs: observed(last)}
		}
		last = obs
		if obs.Thinking {
			report(timing.EventEngineThinking)
		}

		if obs.Move != "" {
			if _, err := board.Play(obs.Move); err != nil {
				return opResult{err: fmt.Errorf("target reported %s: %w", obs.Move, err), obs: observed(obs)}
			}
			return opResult{move: obs.Move, ponder: validPonder(board, obs.Move, obs.PonderMove), obs: observed(obs)}
		}

		if obs.Placement != "" && obs.Placement != from && !obs.Thinking {
			if obs.Placement == seen {
				stable++
			} else {
				seen, stable = obs.Placement, 1
			}
			if stable >= c.cfg.StableSamples {
				mv, err := board.InferMove(obs.Placement)
				if err != nil {
					return opResult{err: err, obs: observed(obs)}
				}
				return opResult{move: mv, ponder: validPonder(board, mv, obs.PonderMove), obs: observed(obs)}
			}
		} else {
			seen, stable = "", 0
		}

		select {
		case <-ctx.Done():
			return opResult{err: ctx.Err(), obs: observed(last)}
		case <-ticker.C:
		}
	}
}

func observed(o target.Observation) *target.Observation {
	if o.Placement == "" && o.Move == "" && !o.Thinking {
		return nil
	}
	return &o
}

// validPonder drops a ponder move that is not legal after mv.
func validPonder(board GameState, mv, ponder string) string {
	if ponder == "" {
		return ""
	}
	after, err := board.Play(mv)
	if err != nil {
		return ""
	}
	if _, err := after.Play(ponder); err != nil {
		return ""
	}
	return ponder
}

func (c *Connector) completeSearch(op *operation, res opResult) {
	if res.err != nil {
		c.enterError(faultFrom(op.cmd, res.err, res.obs))
		return
	}
	next, err := c.game.Play(res.move)
	if err != nil {
		c.enterError(faultFrom(op.cmd, fmt.Errorf("%w: %v", errUnrecognisedBoard, err), res.obs))
		return
	}
	c.game = next
	c.clock.Mark(timing.EventMoveObserved)
	c.logger.Info("engine_move",
		zap.String("move", res.move),
		zap.String("ponder", res.ponder),
		zap.Int("ply", len(next.moves)),
		zap.Duration("thinking", c.clock.Elapsed(timing.Thinking)),
		zap.Duration("setup", c.clock.Elapsed(timing.Setup)),
	)
	c.notify(c.State())

	if !c.searchRequested {
		c.heldMove, c.heldPonder = res.move, res.ponder
		c.clearSearch()
		c.setState(StateObserving)
		return
	}
	c.reportMove(res.move, res.ponder)
}

// reportMove answers the outstanding go and picks the next state.
func (c *Connector) reportMove(mv, ponder string) {
	pv := []string{mv}
	if ponder != "" {
		pv = append(pv, ponder)
	}
	c.emitLines(uci.Info{Time: c.clock.Elapsed(timing.Thinking), Setup: c.clock.Elapsed(timing.Setup), PV: pv}.Lines())

	pondering := c.caps.Ponder && c.ponderOn && ponder != "" && !c.stopIssued
	if !pondering {
		ponder = ""
	}
	c.emit(uci.BestMove(mv, ponder))
	c.clearSearch()
	c.clearHeld()
	if pondering {
		c.ponderPredicted = ponder
		c.setState(StatePondering)
		return
	}
	c.setState(StateObserving)
}

// maybeWatch keeps one poll running while the connector is otherwise idle: in Observing
// it looks for a move the program makes before the GUI asks for one, in Pondering it
// checks that the target still holds the game.
func (c *Connector) maybeWatch() {
	if c.op != nil || len(c.backlog) > 0 || !c.game.Known() {
		return
	}
	switch c.State() {
	case StateObserving:
		c.watchForMove()
	case StatePondering:
		c.watchPondering()
	}
}

func (c *Connector) watchForMove() {
	if c.cfg.WatchInterval <= 0 || c.heldMove != "" {
		return
	}
	if !c.engineToMove(c.game) || c.game.Over() {
		return
	}
	board := c.game.detach()
	c.dispatch(opWatch, "watch", c.caps.MoveCeiling(), func(ctx context.Context, report func(timing.Event)) opResult {
		return c.awaitMove(ctx, board, c.cfg.WatchInterval, report)
	})
}

func (c *Connector) watchPondering() {
	placement := c.game.Placement()
	c.dispatch(opPonder, "ponder", c.caps.MoveCeiling(), func(ctx context.Context, report func(timing.Event)) opResult {
		return c.holdStill(ctx, placement, c.cfg.PollInterval, report)
	})
}

// holdStill polls until ctx ends. The program is waiting for the opponent, so a failed
// read or a board that settles away from placement is a fault.
func (c *Connector) holdStill(ctx context.Context, placement string, interval time.Duration, report func(timing.Event)) opResult {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	drift := 0
	for {
		obs, err := c.target.QueryState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return opResult{err: err}
		}
		if obs.Thinking {
			report(timing.EventEngineThinking)
		}
		if obs.Placement != "" && obs.Placement != placement && !obs.Thinking {
			drift++
			if drift >= c.cfg.StableSamples {
				return opResult{err: fmt.Errorf("%w: board changed while pondering", errUnrecognisedBoard), obs: observed(obs)}
			}
		} else {
			drift = 0
		}

		select {
		case <-ctx.Done():
			return opResult{err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// idleEnd reports whether a watch or ponder poll ended without anything to act on.
func idleEnd(op *operation, res opResult) bool {
	return op.preempted || errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled)
}

func (c *Connector) completeWatch(op *operation, res opResult) {
	if res.err != nil {
		if idleEnd(op, res) {
			return
		}
		c.enterError(faultFrom(op.cmd, res.err, res.obs))
		return
	}
	next, err := c.game.Play(res.move)
	if err != nil {
		c.enterError(faultFrom(op.cmd, fmt.Errorf("%w: %v", errUnrecognisedBoard, err), res.obs))
		return
	}
	c.game = next
	c.clock.Mark(timing.EventMoveObserved)
	c.heldMove, c.heldPonder = res.move, res.ponder
	c.logger.Info("engine_move_unrequested", zap.String("move", res.move))
	c.notify(c.State())
}

func (c *Connector) completePonder(op *operation, res opResult) {
	if res.err == nil || idleEnd(op, res) {
		return
	}
	c.enterError(faultFrom(op.cmd, res.err, res.obs))
}
