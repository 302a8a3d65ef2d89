package connector

import (
	"context"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/timing"
	"github.com/park285/retrouci/internal/uci"
)

// Connector-level options, printed ahead of the target's own.
const (
	optionPonder      = "Ponder"
	optionEngineColor = "EngineColor"
)

var knownCommands = commandSet(
	uci.CmdUCI, uci.CmdIsReady, uci.CmdNewGame, uci.CmdPosition, uci.CmdSetOption,
	uci.CmdGo, uci.CmdStop, uci.CmdPonderHit, uci.CmdQuit,
)

// handle admits one inbound command. A non-nil return is a rejection that has already
// been reported to the GUI; the state is unchanged and the target was not touched.
func (c *Connector) handle(cmd uci.Command) error {
	st := c.State()
	if st.Terminal() {
		c.logger.Debug("command_ignored", zap.String("command", cmd.Name))
		return nil
	}
	if cmd.Name == uci.CmdQuit {
		c.terminate(uci.CmdQuit)
		return nil
	}
	if st == StateInitializing {
		c.queue = append(c.queue, cmd)
		return nil
	}
	if len(c.backlog) > 0 && !c.jumpsBacklog(cmd) {
		c.backlog = append(c.backlog, cmd)
		return nil
	}
	err := c.process(cmd)
	if c.op == nil {
		c.drain()
		c.maybeWatch()
	}
	return err
}

// jumpsBacklog: stop acts at once unless a go it could refer to is still queued.
func (c *Connector) jumpsBacklog(cmd uci.Command) bool {
	if cmd.Name != uci.CmdStop {
		return false
	}
	for _, q := range c.backlog {
		if q.Name == uci.CmdGo {
			return false
		}
	}
	return true
}

// wait parks cmd until the in-flight operation finishes. A watch or ponder poll is
// cancelled instead of waited out.
func (c *Connector) wait(cmd uci.Command) {
	c.backlog = append(c.backlog, cmd)
	c.preempt()
}

func (c *Connector) preempt() {
	op := c.op
	if op == nil || op.preempted || (op.kind != opWatch && op.kind != opPonder) {
		return
	}
	op.preempted = true
	op.cancel()
}

func (c *Connector) drain() {
	for c.op == nil && len(c.backlog) > 0 {
		st := c.State()
		if st.Terminal() || st == StateInitializing {
			return
		}
		cmd := c.backlog[0]
		c.backlog = c.backlog[1:]
		_ = c.process(cmd)
	}
}

func (c *Connector) process(cmd uci.Command) error {
	st := c.State()
	if !st.Allows(cmd.Name) {
		if !knownCommands[cmd.Name] {
			return c.reject(cmd, protocolRejection(cmd.Name, "unknown command"))
		}
		return c.reject(cmd, protocolRejection(cmd.Name, "not accepted while %s", st))
	}
	var err *Error
	switch cmd.Name {
	case uci.CmdUCI:
		c.cmdUCI()
	case uci.CmdIsReady:
		c.cmdIsReady(cmd)
	case uci.CmdNewGame:
		c.cmdNewGame(cmd)
	case uci.CmdPosition:
		err = c.cmdPosition(cmd)
	case uci.CmdSetOption:
		err = c.cmdSetOption(cmd)
	case uci.CmdGo:
		err = c.cmdGo(cmd)
	case uci.CmdStop:
		c.cmdStop(cmd)
	case uci.CmdPonderHit:
		err = c.cmdPonderHit(cmd)
	}
	if err != nil {
		return c.reject(cmd, err)
	}
	return nil
}

func (c *Connector) reject(cmd uci.Command, err *Error) error {
	c.logger.Warn("command_rejected",
		zap.Stringer("kind", err.Kind),
		zap.String("command", cmd.String()),
		zap.Stringer("state", c.State()),
		zap.String("reason", err.Message),
	)
	c.emitInfo("%s rejected: %s", cmd.Name, err.Message)
	if cmd.Name == uci.CmdGo {
		c.emit(uci.BestMove(uci.NullMove, ""))
	}
	return err
}

func (c *Connector) cmdUCI() {
	c.emit(uci.IDName(c.info.Name))
	c.emit(uci.IDAuthor(c.info.Author))
	for _, spec := range c.optionSpecs() {
		c.emit(spec.String())
	}
	c.emit(uci.UCIOK)
}

func (c *Connector) optionSpecs() []uci.OptionSpec {
	var out []uci.OptionSpec
	if c.caps.Ponder {
		out = append(out, uci.OptionSpec{Name: optionPonder, Type: "check", Default: "false"})
	}
	out = append(out, uci.OptionSpec{
		Name:    optionEngineColor,
		Type:    "combo",
		Default: strings.ToLower(c.engineColor.Name()),
		Vars:    []string{"white", "black"},
	})
	for _, o := range c.info.Options {
		out = append(out, uci.OptionSpec{Name: o.Name, Type: o.Type, Default: o.Default, Min: o.Min, Max: o.Max, Vars: o.Vars})
	}
	return out
}

func (c *Connector) cmdIsReady(cmd uci.Command) {
	switch {
	case c.State() == StateError:
		c.readyPending = true
	case c.State() == StateConfiguring && !c.setupDone:
		c.readyPending = true
	case c.State() == StateConfiguring:
		c.emit(uci.ReadyOK)
		c.finishConfiguring(cmd, false)
	case c.op != nil && c.op.kind != opSearch && c.op.kind != opWatch && c.op.kind != opPonder:
		c.wait(cmd)
	default:
		c.emit(uci.ReadyOK)
	}
}

func (c *Connector) cmdNewGame(cmd uci.Command) {
	if c.op != nil {
		c.wait(cmd)
		return
	}
	c.clearHeld()
	c.clearSearch()
	c.clearPonder()
	c.enterConfiguring()
	c.startSetup(cmd, NewGameState(), true)
}

func (c *Connector) cmdPosition(cmd uci.Command) *Error {
	pos, err := uci.ParsePosition(cmd.Args)
	if err != nil {
		return protocolRejection(cmd.Name, "%v", err)
	}
	if !pos.IsStart() && !c.caps.Supports(target.FeatureArbitraryPosition) {
		return capabilityRejection(cmd.Name, "target cannot set up an arbitrary position")
	}
	want, err := GameStateFromPosition(pos)
	if err != nil {
		return protocolRejection(cmd.Name, "%v", err)
	}

	switch c.State() {
	case StateGameReady:
		if c.op != nil {
			c.wait(cmd)
			return nil
		}
		c.enterConfiguring()
		c.startSetup(cmd, want, false)
	case StateConfiguring:
		if c.op != nil {
			c.wait(cmd)
			return nil
		}
		c.setupDone = false
		c.startSetup(cmd, want, false)
	case StatePondering:
		return c.storePonderPosition(cmd, want)
	case StateObserving:
		return c.observePosition(cmd, want)
	}
	return nil
}

func (c *Connector) enterConfiguring() {
	c.setupDone = false
	c.goPending = false
	c.stopPending = false
	c.setState(StateConfiguring)
}

// observePosition handles the GUI reporting the opponent's move.
func (c *Connector) observePosition(cmd uci.Command, want GameState) *Error {
	if c.op != nil && c.op.kind != opWatch {
		c.wait(cmd)
		return nil
	}
	cur := c.game
	if cur.Known() {
		if cur.Equal(want) {
			return nil
		}
		// the GUI has not yet seen the move the program made on its own
		if c.heldMove != "" && want.Extends(cur) && len(cur.moves) == len(want.moves)+1 {
			return nil
		}
		if cur.Extends(want) && len(want.moves) == len(cur.moves)+1 && !c.engineToMove(cur) {
			if c.op != nil {
				c.wait(cmd)
				return nil
			}
			c.clearHeld()
			c.startOpponentMove(cmd, want, want.moves[len(want.moves)-1])
			return nil
		}
	}
	if !c.caps.Supports(target.FeatureArbitraryPosition) {
		return capabilityRejection(cmd.Name, "position is not one opponent move beyond the game and the target cannot set an arbitrary position")
	}
	if c.op != nil {
		c.wait(cmd)
		return nil
	}
	c.clearHeld()
	c.startOpponentPosition(cmd, want)
	return nil
}

func (c *Connector) storePonderPosition(cmd uci.Command, want GameState) *Error {
	if !c.game.Extends(want) || len(want.moves) != len(c.game.moves)+1 {
		return protocolRejection(cmd.Name, "pondering expects the game plus the predicted move")
	}
	stored := cmd
	c.ponderPosition = &stored
	return nil
}

func (c *Connector) cmdSetOption(cmd uci.Command) *Error {
	opt, err := uci.ParseSetOption(cmd.Args)
	if err != nil {
		return protocolRejection(cmd.Name, "%v", err)
	}
	switch {
	case strings.EqualFold(opt.Name, optionPonder):
		if !c.caps.Supports(target.FeaturePonder) {
			return capabilityRejection(cmd.Name, "target cannot ponder")
		}
		switch strings.ToLower(opt.Value) {
		case "true":
			c.ponderOn = true
		case "false":
			c.ponderOn = false
		default:
			return protocolRejection(cmd.Name, "Ponder expects true or false")
		}
		return nil
	case strings.EqualFold(opt.Name, optionEngineColor):
		switch strings.ToLower(opt.Value) {
		case "white":
			c.engineColor = nchess.White
		case "black":
			c.engineColor = nchess.Black
		default:
			return protocolRejection(cmd.Name, "EngineColor expects white or black")
		}
		c.logger.Info("engine_color", zap.String("color", c.engineColor.Name()))
		return nil
	}

	declared, ok := c.declaredOption(opt.Name)
	if !ok {
		return capabilityRejection(cmd.Name, "target does not declare option %q", opt.Name)
	}
	setter, ok := c.target.(target.OptionSetter)
	if !ok {
		return capabilityRejection(cmd.Name, "target cannot change option %q", declared.Name)
	}
	if c.op != nil {
		c.wait(cmd)
		return nil
	}
	name, value := declared.Name, opt.Value
	c.dispatch(opOption, cmd.String(), c.caps.SetupCeiling(), func(ctx context.Context, report func(timing.Event)) opResult {
		report(timing.EventSetupProgress)
		return opResult{err: setter.SetOption(ctx, name, value)}
	})
	return nil
}

func (c *Connector) declaredOption(name string) (target.Option, bool) {
	for _, o := range c.info.Options {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return target.Option{}, false
}

func (c *Connector) completeOption(op *operation, res opResult) {
	if res.err != nil {
		c.enterError(faultFrom(op.cmd, res.err, res.obs))
	}
}

func (c *Connector) cmdGo(cmd uci.Command) *Error {
	params, err := uci.ParseGo(cmd.Args)
	if err != nil {
		return protocolRejection(cmd.Name, "%v", err)
	}
	c.logger.Debug("go_params",
		zap.Bool("ponder", params.Ponder),
		zap.Bool("infinite", params.Infinite),
		zap.Duration("wtime", params.WTime),
		zap.Duration("btime", params.BTime),
		zap.Duration("movetime", params.MoveTime),
		zap.Int("depth", params.Depth),
	)

	switch c.State() {
	case StateConfiguring:
		if params.Ponder {
			return capabilityRejection(cmd.Name, "nothing to ponder on")
		}
		if c.op != nil {
			if !c.engineToMove(c.pendingGame) {
				return capabilityRejection(cmd.Name, "%s to move; the program plays %s", c.pendingGame.SideToMove().Name(), c.engineColor.Name())
			}
			c.goPending = true
			return nil
		}
		if !c.engineToMove(c.game) {
			return capabilityRejection(cmd.Name, "%s to move; the program plays %s", c.game.SideToMove().Name(), c.engineColor.Name())
		}
		c.finishConfiguring(cmd, true)
	case StateComputing:
		c.searchRequested = true
	case StatePondering:
		if params.Ponder {
			c.ponderGo = true
			return nil
		}
		c.abandonPonder(cmd)
	case StateObserving:
		if params.Ponder {
			return capabilityRejection(cmd.Name, "no ponder move outstanding")
		}
		if c.heldMove != "" {
			c.searchRequested = true
			c.setState(StateComputing)
			c.reportMove(c.heldMove, c.heldPonder)
			return nil
		}
		// 상대 수 입력이 끝나야 차례를 판단할 수 있다
		if c.op != nil {
			c.wait(cmd)
			return nil
		}
		if !c.game.Known() || !c.engineToMove(c.game) {
			return capabilityRejection(cmd.Name, "%s to move; the program plays %s", c.game.SideToMove().Name(), c.engineColor.Name())
		}
		c.searchRequested = true
		c.setState(StateComputing)
		c.startSearch(cmd.String(), "")
	}
	return nil
}

// abandonPonder: a plain go while pondering means the GUI gave up on the prediction.
// The stored position is replayed from Observing, followed by the go itself.
func (c *Connector) abandonPonder(cmd uci.Command) {
	replay := []uci.Command{}
	if c.ponderPosition != nil {
		replay = append(replay, *c.ponderPosition)
	}
	replay = append(replay, cmd)
	c.clearPonder()
	c.setState(StateObserving)
	c.backlog = append(replay, c.backlog...)
}

func (c *Connector) cmdStop(cmd uci.Command) {
	switch c.State() {
	case StateConfiguring:
		c.stopConfiguring()
	case StateComputing:
		if c.stopIssued {
			return
		}
		c.stopIssued = true
		if c.caps.Supports(target.FeatureStopMidCompute) && c.target.RequestCancel() {
			c.logger.Debug("stop_forwarded")
			return
		}
		c.emitInfo("stop acknowledged; the program will finish its move")
	case StatePondering:
		wasSearching := c.ponderGo
		c.clearPonder()
		c.setState(StateObserving)
		if wasSearching {
			c.emit(uci.BestMove(uci.NullMove, ""))
		}
	case StateObserving:
		// nothing to stop
	}
}

func (c *Connector) stopConfiguring() {
	if c.op == nil {
		c.leaveConfiguringForStop()
		return
	}
	if c.caps.Supports(target.FeatureStopMidCompute) && c.target.RequestCancel() {
		c.op.aborted = true
		c.op.cancel()
		c.game = c.game.unknown()
		c.leaveConfiguringForStop()
		return
	}
	c.stopPending = true
	c.emitInfo("stop acknowledged; setup finishes first")
}

func (c *Connector) leaveConfiguringForStop() {
	c.stopPending = false
	c.closeCycle(timing.Setup)
	c.setState(StateGameReady)
	if c.goPending {
		c.goPending = false
		c.emit(uci.BestMove(uci.NullMove, ""))
	}
}

func (c *Connector) cmdPonderHit(cmd uci.Command) *Error {
	if c.ponderPredicted == "" {
		return protocolRejection(cmd.Name, "no ponder move outstanding")
	}
	if c.op != nil {
		c.wait(cmd)
		return nil
	}
	predicted := c.ponderPredicted
	c.clearPonder()
	c.searchRequested = true
	c.setState(StateComputing)
	c.closeCycle(timing.Setup)
	c.startSearch(cmd.String(), predicted)
	return nil
}
