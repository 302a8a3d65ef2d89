package uci

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command names accepted from the GUI.
const (
	CmdUCI       = "uci"
	CmdIsReady   = "isready"
	CmdNewGame   = "ucinewgame"
	CmdPosition  = "position"
	CmdSetOption = "setoption"
	CmdGo        = "go"
	CmdStop      = "stop"
	CmdPonderHit = "ponderhit"
	CmdQuit      = "quit"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Command is one inbound UCI command. It is never mutated after Parse.
type Command struct {
	Name string
	Args []string
	At   time.Time
}

// NewCommand builds a command stamped with the current time.
func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: append([]string(nil), args...), At: time.Now()}
}

// Parse splits a raw line into a command. Blank lines report ok=false.
func Parse(line string, at time.Time) (Command, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(parts[0]), Args: parts[1:], At: at}, true
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Position is the argument of a position command.
type Position struct {
	FEN   string // empty for startpos
	Moves []string
}

var errEmptyPosition = errors.New("position: expected startpos or fen")

// ParsePosition parses `startpos|fen <FEN> [moves m1 m2 ...]`.
func ParsePosition(args []string) (Position, error) {
	if len(args) == 0 {
		return Position{}, errEmptyPosition
	}
	var (
		pos  Position
		rest []string
	)
	switch strings.ToLower(args[0]) {
	case "startpos":
		rest = args[1:]
	case "fen":
		i := 1
		for i < len(args) && !strings.EqualFold(args[i], "moves") {
			i++
		}
		fields := args[1:i]
		if len(fields) < 4 || len(fields) > 6 {
			return Position{}, fmt.Errorf("position: fen needs 4-6 fields, got %d", len(fields))
		}
		pos.FEN = normalizeFEN(fields)
		if pos.FEN == StartFEN {
			pos.FEN = ""
		}
		rest = args[i:]
	default:
		return Position{}, fmt.Errorf("position: unexpected token %q", args[0])
	}

	if len(rest) == 0 {
		return pos, nil
	}
	if !strings.EqualFold(rest[0], "moves") {
		return Position{}, fmt.Errorf("position: unexpected token %q", rest[0])
	}
	for _, mv := range rest[1:] {
		mv = strings.ToLower(strings.TrimSpace(mv))
		if !looksLikeMove(mv) {
			return Position{}, fmt.Errorf("position: malformed move %q", mv)
		}
		pos.Moves = append(pos.Moves, mv)
	}
	return pos, nil
}

// normalizeFEN fills in the optional halfmove and fullmove counters.
func normalizeFEN(fields []string) string {
	out := append([]string(nil), fields...)
	if len(out) == 4 {
		out = append(out, "0")
	}
	if len(out) == 5 {
		out = append(out, "1")
	}
	return strings.Join(out, " ")
}

func looksLikeMove(mv string) bool {
	if len(mv) != 4 && len(mv) != 5 {
		return false
	}
	for i := 0; i < 4; i += 2 {
		if mv[i] < 'a' || mv[i] > 'h' || mv[i+1] < '1' || mv[i+1] > '8' {
			return false
		}
	}
	if len(mv) == 5 && !strings.ContainsRune("qrbn", rune(mv[4])) {
		return false
	}
	return true
}

// IsStart reports whether the position starts from the standard initial position.
func (p Position) IsStart() bool { return p.FEN == "" }

func (p Position) String() string {
	var sb strings.Builder
	if p.IsStart() {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(p.FEN)
	}
	if len(p.Moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(p.Moves, " "))
	}
	return sb.String()
}

// SetOption is the argument of a setoption command.
type SetOption struct {
	Name  string
	Value string
}

// ParseSetOption parses `name <tokens...> [value <tokens...>]`. Names may contain spaces.
func ParseSetOption(args []string) (SetOption, error) {
	if len(args) < 2 || !strings.EqualFold(args[0], "name") {
		return SetOption{}, errors.New("setoption: expected name")
	}
	var name, value []string
	inValue := false
	for _, tok := range args[1:] {
		if !inValue && strings.EqualFold(tok, "value") {
			inValue = true
			continue
		}
		if inValue {
			value = append(value, tok)
		} else {
			name = append(name, tok)
		}
	}
	if len(name) == 0 {
		return SetOption{}, errors.New("setoption: empty name")
	}
	return SetOption{Name: strings.Join(name, " "), Value: strings.Join(value, " ")}, nil
}

// GoParams holds the parsed arguments of a go command. Legacy programs keep their own
// level, so the limits are informational.
type GoParams struct {
	Ponder    bool
	Infinite  bool
	WTime     time.Duration
	BTime     time.Duration
	WInc      time.Duration
	BInc      time.Duration
	MoveTime  time.Duration
	MovesToGo int
	Depth     int
	Nodes     int
}

// ParseGo parses go arguments. Unknown tokens are ignored.
func ParseGo(args []string) (GoParams, error) {
	var p GoParams
	for i := 0; i < len(args); i++ {
		tok := strings.ToLower(args[i])
		switch tok {
		case "ponder":
			p.Ponder = true
		case "infinite":
			p.Infinite = true
		case "wtime", "btime", "winc", "binc", "movetime":
			ms, err := intArg(args, i)
			if err != nil {
				return GoParams{}, err
			}
			d := time.Duration(ms) * time.Millisecond
			switch tok {
			case "wtime":
				p.WTime = d
			case "btime":
				p.BTime = d
			case "winc":
				p.WInc = d
			case "binc":
				p.BInc = d
			default:
				p.MoveTime = d
			}
			i++
		case "movestogo", "depth", "nodes", "mate":
			n, err := intArg(args, i)
			if err != nil {
				return GoParams{}, err
			}
			switch tok {
			case "movestogo":
				p.MovesToGo = n
			case "depth":
				p.Depth = n
			case "nodes":
				p.Nodes = n
			}
			i++
		}
	}
	return p, nil
}

func intArg(args []string, i int) (int, error) {
	if i+1 >= len(args) {
		return 0, fmt.Errorf("go: %s needs a value", args[i])
	}
	n, err := strconv.Atoi(args[i+1])
	if err != nil {
		return 0, fmt.Errorf("go: %s: %w", args[i], err)
	}
	return n, nil
}
