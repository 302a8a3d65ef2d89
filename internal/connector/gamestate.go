package connector

import (
	"fmt"
	"slices"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/retrouci/internal/uci"
)

// GameState is the Connector's belief about the board. Values are immutable: Play and
// friends return a new state.
type GameState struct {
	startFEN string // empty means the standard start
	moves    []string
	game     *nchess.Game
	known    bool
}

// NewGameState returns the standard initial position.
func NewGameState() GameState {
	return GameState{game: nchess.NewGame(), known: true}
}

// GameStateFromPosition replays a parsed position command.
func GameStateFromPosition(p uci.Position) (GameState, error) {
	return buildGameState(p.FEN, p.Moves)
}

func buildGameState(fen string, moves []string) (GameState, error) {
	var game *nchess.Game
	if fen == "" {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(fen)
		if err != nil {
			return GameState{}, fmt.Errorf("invalid fen: %w", err)
		}
		game = nchess.NewGame(opt)
	}
	for i, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return GameState{}, fmt.Errorf("illegal move %d (%s): %w", i+1, mv, err)
		}
	}
	return GameState{startFEN: fen, moves: slices.Clone(moves), game: game, known: true}, nil
}

// Known is false after an aborted setup left the target somewhere unknown.
func (g GameState) Known() bool { return g.known && g.game != nil }

func (g GameState) unknown() GameState {
	g.known = false
	return g
}

// Arbitrary reports whether the game starts from a non-standard FEN.
func (g GameState) Arbitrary() bool { return g.startFEN != "" }

func (g GameState) StartFEN() string {
	if g.startFEN == "" {
		return uci.StartFEN
	}
	return g.startFEN
}

func (g GameState) Moves() []string { return slices.Clone(g.moves) }

func (g GameState) FEN() string {
	if g.game == nil {
		return ""
	}
	return g.game.FEN()
}

// Placement is the piece-placement field of the current FEN.
func (g GameState) Placement() string {
	return placementOf(g.FEN())
}

func (g GameState) SideToMove() nchess.Color {
	if g.game == nil {
		return nchess.White
	}
	return g.game.Position().Turn()
}

// Position renders the state as a position command.
func (g GameState) Position() uci.Position {
	return uci.Position{FEN: g.startFEN, Moves: g.Moves()}
}

// Over reports whether the side to move has no legal move.
func (g GameState) Over() bool {
	return g.game == nil || len(g.game.ValidMoves()) == 0
}

// Play returns the state after mv. The receiver is not modified.
func (g GameState) Play(mv string) (GameState, error) {
	if g.game == nil {
		return GameState{}, fmt.Errorf("play %s: no game", mv)
	}
	next := g.game.Clone()
	if err := next.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
		return GameState{}, fmt.Errorf("play %s: %w", mv, err)
	}
	moves := append(slices.Clone(g.moves), mv)
	return GameState{startFEN: g.startFEN, moves: moves, game: next, known: g.known}, nil
}

// Equal compares origin and move list.
func (g GameState) Equal(o GameState) bool {
	return g.startFEN == o.startFEN && slices.Equal(g.moves, o.moves)
}

// Extends reports whether o is g followed by zero or more moves.
func (g GameState) Extends(o GameState) bool {
	if g.startFEN != o.startFEN || len(o.moves) < len(g.moves) {
		return false
	}
	return slices.Equal(g.moves, o.moves[:len(g.moves)])
}

// Delta returns the moves o adds on top of g. Callers check Extends first.
func (g GameState) Delta(o GameState) []string {
	return slices.Clone(o.moves[len(g.moves):])
}

// SAN renders the move list in standard algebraic notation.
func (g GameState) SAN() []string {
	replay, err := buildGameState(g.startFEN, nil)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(g.moves))
	for _, mv := range g.moves {
		pos := replay.game.Position()
		if err := replay.game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			break
		}
		history := replay.game.Moves()
		out = append(out, nchess.AlgebraicNotation{}.Encode(pos, history[len(history)-1]))
	}
	return out
}

// InferMove finds the single legal move that turns the current board into placement.
func (g GameState) InferMove(placement string) (string, error) {
	if g.game == nil {
		return "", errUnrecognisedBoard
	}
	before, err := squaresOf(g.Placement())
	if err != nil {
		return "", err
	}
	after, err := squaresOf(placement)
	if err != nil {
		return "", err
	}
	changed := 0
	for sq := nchess.A1; sq <= nchess.H8; sq++ {
		if before[sq] != after[sq] {
			changed++
		}
	}
	// a move touches two squares, en passant three, castling four
	if changed < 2 || changed > 4 {
		return "", fmt.Errorf("%w: %d squares changed", errUnrecognisedBoard, changed)
	}

	pos := g.game.Position()
	var found []string
	for _, mv := range g.game.ValidMoves() {
		next := g.game.Clone()
		if err := next.Move(&mv, nil); err != nil {
			continue
		}
		if placementOf(next.FEN()) == placement {
			found = append(found, nchess.UCINotation{}.Encode(pos, &mv))
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", errUnrecognisedBoard
	default:
		slices.Sort(found)
		return "", fmt.Errorf("%w: ambiguous %v", errUnrecognisedBoard, found)
	}
}

func placementOf(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// squaresOf reads a FEN placement field into occupied squares.
func squaresOf(placement string) (map[nchess.Square]nchess.Piece, error) {
	var b nchess.Board
	if err := b.UnmarshalText([]byte(placement)); err != nil {
		return nil, fmt.Errorf("placement %q: %w", placement, err)
	}
	return b.SquareMap(), nil
}
