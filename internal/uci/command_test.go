package uci

import (
	"slices"
	"testing"
	"time"
)

func TestParseSkipsBlankLines(t *testing.T) {
	if _, ok := Parse("   \t", time.Now()); ok {
		t.Fatalf("blank line should not parse")
	}
	cmd, ok := Parse("  Position startpos moves e2e4  ", time.Unix(10, 0))
	if !ok {
		t.Fatalf("expected a command")
	}
	if cmd.Name != CmdPosition || len(cmd.Args) != 3 || !cmd.At.Equal(time.Unix(10, 0)) {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.String() != "position startpos moves e2e4" {
		t.Fatalf("String() = %q", cmd.String())
	}
}

func TestParsePosition(t *testing.T) {
	cases := []struct {
		name  string
		args  []string
		fen   string
		moves []string
		fail  bool
	}{
		{name: "startpos", args: []string{"startpos"}},
		{name: "startpos moves", args: []string{"startpos", "moves", "e2e4", "E7E5"}, moves: []string{"e2e4", "e7e5"}},
		{name: "fen", args: []string{"fen", "8/8/8/8/8/8/8/K6k", "w", "-", "-", "0", "1"}, fen: "8/8/8/8/8/8/8/K6k w - - 0 1"},
		{name: "short fen", args: []string{"fen", "8/8/8/8/8/8/8/K6k", "b", "-", "-", "moves", "h1g1"}, fen: "8/8/8/8/8/8/8/K6k b - - 0 1", moves: []string{"h1g1"}},
		{name: "start fen collapses", args: []string{"fen", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR", "w", "KQkq", "-", "0", "1"}},
		{name: "promotion", args: []string{"startpos", "moves", "a7a8q"}, moves: []string{"a7a8q"}},
		{name: "empty", args: nil, fail: true},
		{name: "bad token", args: []string{"middlegame"}, fail: true},
		{name: "bad move", args: []string{"startpos", "moves", "e2e9"}, fail: true},
		{name: "missing moves keyword", args: []string{"startpos", "e2e4"}, fail: true},
		{name: "truncated fen", args: []string{"fen", "8/8/8"}, fail: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos, err := ParsePosition(tc.args)
			if tc.fail {
				if err == nil {
					t.Fatalf("expected error, got %+v", pos)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePosition: %v", err)
			}
			if pos.FEN != tc.fen {
				t.Fatalf("fen = %q, want %q", pos.FEN, tc.fen)
			}
			if len(pos.Moves) != len(tc.moves) {
				t.Fatalf("moves = %v, want %v", pos.Moves, tc.moves)
			}
			for i := range tc.moves {
				if pos.Moves[i] != tc.moves[i] {
					t.Fatalf("moves = %v, want %v", pos.Moves, tc.moves)
				}
			}
		})
	}
}

func TestPositionString(t *testing.T) {
	p := Position{Moves: []string{"e2e4", "e7e5"}}
	if got := p.String(); got != "position startpos moves e2e4 e7e5" {
		t.Fatalf("String() = %q", got)
	}
	p = Position{FEN: "8/8/8/8/8/8/8/K6k w - - 0 1"}
	if got := p.String(); got != "position fen 8/8/8/8/8/8/8/K6k w - - 0 1" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseSetOption(t *testing.T) {
	opt, err := ParseSetOption([]string{"name", "Skill", "Level", "value", "12"})
	if err != nil {
		t.Fatalf("ParseSetOption: %v", err)
	}
	if opt.Name != "Skill Level" || opt.Value != "12" {
		t.Fatalf("unexpected option: %+v", opt)
	}
	opt, err = ParseSetOption([]string{"name", "Clear", "Hash"})
	if err != nil || opt.Name != "Clear Hash" || opt.Value != "" {
		t.Fatalf("button option: %+v %v", opt, err)
	}
	if _, err := ParseSetOption([]string{"value", "3"}); err == nil {
		t.Fatalf("expected error without name")
	}
}

func TestParseGo(t *testing.T) {
	p, err := ParseGo([]string{"ponder", "wtime", "60000", "btime", "59000", "winc", "1000", "movestogo", "40", "searchmoves", "e2e4"})
	if err != nil {
		t.Fatalf("ParseGo: %v", err)
	}
	if !p.Ponder || p.WTime != time.Minute || p.BTime != 59*time.Second || p.WInc != time.Second || p.MovesToGo != 40 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if _, err := ParseGo([]string{"movetime"}); err == nil {
		t.Fatalf("expected error for movetime without value")
	}
	if _, err := ParseGo([]string{"depth", "x"}); err == nil {
		t.Fatalf("expected error for non-numeric depth")
	}
}

func TestResponses(t *testing.T) {
	if got := BestMove("e2e4", "e7e5"); got != "bestmove e2e4 ponder e7e5" {
		t.Fatalf("BestMove = %q", got)
	}
	if got := BestMove("", ""); got != "bestmove 0000" {
		t.Fatalf("BestMove(empty) = %q", got)
	}
	info := Info{Time: 1500 * time.Millisecond, Setup: 320 * time.Millisecond}
	if got := info.Lines(); !slices.Equal(got, []string{"info time 1500", "info string setup 320ms"}) {
		t.Fatalf("Info = %q", got)
	}
	// setup time must never trail a pv, which runs to the end of its line
	info.PV = []string{"e2e4", "e7e5"}
	if got := info.Lines(); !slices.Equal(got, []string{"info time 1500 pv e2e4 e7e5", "info string setup 320ms"}) {
		t.Fatalf("Info with pv = %q", got)
	}
	if got := (Info{Time: 40 * time.Millisecond, PV: []string{"d2d4"}}).Lines(); !slices.Equal(got, []string{"info time 40 pv d2d4"}) {
		t.Fatalf("Info without setup = %q", got)
	}
	lo, hi := 1, 8
	spin := OptionSpec{Name: "Level", Type: "spin", Default: "3", Min: &lo, Max: &hi}
	if got := spin.String(); got != "option name Level type spin default 3 min 1 max 8" {
		t.Fatalf("spin = %q", got)
	}
	combo := OptionSpec{Name: "EngineColor", Type: "combo", Default: "white", Vars: []string{"white", "black"}}
	if got := combo.String(); got != "option name EngineColor type combo default white var white var black" {
		t.Fatalf("combo = %q", got)
	}
	if got := InfoString("rejected %s", "go"); got != "info string rejected go" {
		t.Fatalf("InfoString = %q", got)
	}
}
