package board

import (
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestBoardPlayAndLegal(t *testing.T) {
	b := New()
	if got := len(b.Legal()); got != 20 {
		t.Fatalf("start position has 20 moves, got %d", got)
	}
	if first := b.Legal()[0]; first != "a2a3" {
		t.Fatalf("sorted first move = %s", first)
	}
	if err := b.Play("e2e4"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if b.Turn() != nchess.Black {
		t.Fatalf("black should be to move")
	}
	if b.Placement() != "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR" {
		t.Fatalf("placement = %s", b.Placement())
	}
	if err := b.Play("e2e4"); err == nil {
		t.Fatalf("illegal move accepted")
	}
	if !b.IsLegal("e7e5") || b.IsLegal("e7e4") {
		t.Fatalf("IsLegal is wrong")
	}
}

func TestBoardCloneIsIndependent(t *testing.T) {
	b := New()
	c := b.Clone()
	if err := c.Play("d2d4"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if b.Turn() != nchess.White {
		t.Fatalf("original changed by clone")
	}
}

func TestFromFENAndOver(t *testing.T) {
	// black is stalemated
	b, err := FromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if !b.Over() {
		t.Fatalf("stalemate should have no legal moves")
	}
	if _, err := FromFEN("not a fen"); err == nil {
		t.Fatalf("bad fen accepted")
	}
}

func TestParseColor(t *testing.T) {
	for in, want := range map[string]nchess.Color{"white": nchess.White, "Black": nchess.Black, "b": nchess.Black, "": nchess.White} {
		got, err := ParseColor(in)
		if err != nil || got != want {
			t.Fatalf("ParseColor(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseColor("green"); err == nil {
		t.Fatalf("unknown colour accepted")
	}
}
