// Package board is the position tracker shared by the bundled target drivers. It plays
// the part of a legacy program's internal board, so it is mutable and not goroutine safe.
package board

import (
	"fmt"
	"slices"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Board wraps a corentings game with UCI move strings.
type Board struct {
	game *nchess.Game
}

func New() *Board {
	return &Board{game: nchess.NewGame()}
}

// FromFEN sets up an arbitrary position.
func FromFEN(fen string) (*Board, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid fen: %w", err)
	}
	return &Board{game: nchess.NewGame(opt)}, nil
}

// Play applies a move in UCI notation.
func (b *Board) Play(mv string) error {
	if err := b.game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("play %s: %w", mv, err)
	}
	return nil
}

func (b *Board) FEN() string { return b.game.FEN() }

// Placement is the piece-placement field of the FEN.
func (b *Board) Placement() string {
	fen := b.game.FEN()
	if i := strings.IndexByte(fen, ' '); i >= 0 {
		return fen[:i]
	}
	return fen
}

func (b *Board) Turn() nchess.Color { return b.game.Position().Turn() }

// Over reports whether the side to move has no legal move.
func (b *Board) Over() bool { return len(b.game.ValidMoves()) == 0 }

// Legal lists the legal moves in sorted UCI notation.
func (b *Board) Legal() []string {
	pos := b.game.Position()
	moves := b.game.ValidMoves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, nchess.UCINotation{}.Encode(pos, &mv))
	}
	slices.Sort(out)
	return out
}

// IsLegal reports whether mv can be played now.
func (b *Board) IsLegal(mv string) bool {
	_, found := slices.BinarySearch(b.Legal(), mv)
	return found
}

// Clone copies the board.
func (b *Board) Clone() *Board {
	return &Board{game: b.game.Clone()}
}

// ParseColor accepts white/black (any case) and w/b.
func ParseColor(s string) (nchess.Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w", "":
		return nchess.White, nil
	case "black", "b":
		return nchess.Black, nil
	}
	return nchess.NoColor, fmt.Errorf("unknown colour %q", s)
}
