package connector

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/timing"
	"github.com/park285/retrouci/internal/uci"
)

// setupPlan is the cheapest target sequence from the believed game to the wanted one.
type setupPlan struct {
	NewGame bool
	FEN     string
	Moves   []string
}

func (p setupPlan) empty() bool { return !p.NewGame && p.FEN == "" && len(p.Moves) == 0 }

// planSetup prefers entering the missing moves, then a new game plus replay, and only
// then an arbitrary position.
func planSetup(cur, want GameState, fresh bool) setupPlan {
	if !fresh && cur.Known() && cur.Extends(want) {
		return setupPlan{Moves: cur.Delta(want)}
	}
	if !want.Arbitrary() {
		return setupPlan{NewGame: true, Moves: want.Moves()}
	}
	return setupPlan{FEN: want.FEN()}
}

func (c *Connector) runPlan(plan setupPlan) opFunc {
	return func(ctx context.Context, report func(timing.Event)) opResult {
		if plan.NewGame {
			report(timing.EventSetupProgress)
			if err := c.target.NavigateToGame(ctx); err != nil {
				return opResult{err: err}
			}
		}
		if plan.FEN != "" {
			report(timing.EventSetupProgress)
			if err := c.target.SetArbitraryState(ctx, plan.FEN); err != nil {
				return opResult{err: err}
			}
		}
		for _, mv := range plan.Moves {
			report(timing.EventSetupProgress)
			if err := c.target.ApplyMove(ctx, mv); err != nil {
				return opResult{err: err}
			}
		}
		return opResult{}
	}
}

func (c *Connector) startSetup(cmd uci.Command, want GameState, fresh bool) {
	plan := planSetup(c.game, want, fresh)
	c.pendingGame = want
	if plan.empty() {
		c.game = want
		c.setupDone = true
		return
	}
	c.logger.Debug("setup_plan",
		zap.Bool("new_game", plan.NewGame),
		zap.Bool("arbitrary", plan.FEN != ""),
		zap.Int("moves", len(plan.Moves)),
	)
	op := c.dispatch(opSetup, cmd.String(), c.caps.SetupCeiling(), c.runPlan(plan))
	op.want = want
}

func (c *Connector) completeSetup(op *operation, res opResult) {
	if op.aborted {
		// stop already moved us to GameReady and marked the board unknown
		if c.readyPending {
			c.readyPending = false
			c.emit(uci.ReadyOK)
		}
		return
	}
	if res.err != nil {
		c.enterError(faultFrom(op.cmd, res.err, res.obs))
		return
	}
	c.game = op.want
	c.setupDone = true
	switch {
	case c.stopPending:
		c.leaveConfiguringForStop()
		if c.readyPending {
			c.readyPending = false
			c.emit(uci.ReadyOK)
		}
	case c.readyPending:
		c.readyPending = false
		c.emit(uci.ReadyOK)
		c.finishConfiguring(uci.Command{Name: uci.CmdIsReady}, c.goPending)
	case c.goPending:
		c.finishConfiguring(uci.Command{Name: uci.CmdGo}, true)
	}
}

// finishConfiguring leaves Configuring for Computing when the program is on move, and
// for Observing otherwise. A search nobody asked for yet holds its move until go.
func (c *Connector) finishConfiguring(cmd uci.Command, requested bool) {
	c.goPending = false
	c.setupDone = false
	if c.engineToMove(c.game) && !c.game.Over() {
		c.closeCycle(timing.Thinking)
		c.searchRequested = requested
		c.stopIssued = false
		c.setState(StateComputing)
		c.startSearch(cmd.String(), "")
		return
	}
	c.closeCycle(timing.Setup)
	c.setState(StateObserving)
	if requested {
		c.emit(uci.BestMove(uci.NullMove, ""))
	}
}

// startOpponentMove enters the GUI's move and opens a new timing cycle.
func (c *Connector) startOpponentMove(cmd uci.Command, want GameState, mv string) {
	c.closeCycle(timing.Setup)
	op := c.dispatch(opOpponent, cmd.String(), c.caps.SetupCeiling(), func(ctx context.Context, report func(timing.Event)) opResult {
		report(timing.EventSetupProgress)
		return opResult{err: c.target.ApplyMove(ctx, mv)}
	})
	op.want = want
}

func (c *Connector) startOpponentPosition(cmd uci.Command, want GameState) {
	c.closeCycle(timing.Setup)
	op := c.dispatch(opOpponent, cmd.String(), c.caps.SetupCeiling(), c.runPlan(setupPlan{FEN: want.FEN()}))
	op.want = want
}

func (c *Connector) completeOpponent(op *operation, res opResult) {
	if res.err != nil {
		c.enterError(faultFrom(op.cmd, res.err, res.obs))
		return
	}
	c.game = op.want
	if c.engineToMove(c.game) {
		c.clock.Mark(timing.EventMoveEntered)
	}
	c.notify(c.State())
}
