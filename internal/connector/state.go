package connector

import "github.com/park285/retrouci/internal/uci"

// State is the Connector's position in the session lifecycle.
type State int32

const (
	StateInitializing State = iota
	StateGameReady
	StateConfiguring
	StateComputing
	StatePondering
	StateObserving
	StateError
	StateTerminating
)

var stateNames = [...]string{
	StateInitializing: "initializing",
	StateGameReady:    "game_ready",
	StateConfiguring:  "configuring",
	StateComputing:    "computing",
	StatePondering:    "pondering",
	StateObserving:    "observing",
	StateError:        "error",
	StateTerminating:  "terminating",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, 0, len(stateNames))
	for i := range stateNames {
		out = append(out, State(i))
	}
	return out
}

func commandSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// allowList is the first admission pass. Initializing queues instead of rejecting and
// quit is accepted everywhere outside Terminating.
var allowList = map[State]map[string]bool{
	StateInitializing: commandSet(),
	StateGameReady:    commandSet(uci.CmdUCI, uci.CmdIsReady, uci.CmdNewGame, uci.CmdPosition, uci.CmdSetOption, uci.CmdQuit),
	StateConfiguring:  commandSet(uci.CmdIsReady, uci.CmdStop, uci.CmdPosition, uci.CmdGo, uci.CmdQuit),
	StateComputing:    commandSet(uci.CmdIsReady, uci.CmdStop, uci.CmdGo, uci.CmdQuit),
	StatePondering:    commandSet(uci.CmdIsReady, uci.CmdPonderHit, uci.CmdStop, uci.CmdPosition, uci.CmdGo, uci.CmdQuit),
	StateObserving:    commandSet(uci.CmdIsReady, uci.CmdPosition, uci.CmdGo, uci.CmdStop, uci.CmdNewGame, uci.CmdQuit),
	StateError:        commandSet(uci.CmdIsReady, uci.CmdQuit),
	StateTerminating:  commandSet(),
}

// Allows reports whether name passes the allow-list for s.
func (s State) Allows(name string) bool {
	return allowList[s][name]
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool { return s == StateTerminating }
