package archive

import (
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// classifyOpening names the deepest ECO opening the game's moves reach.
func classifyOpening(game *nchess.Game) (code, title string, ok bool) {
	if game == nil || len(game.Moves()) == 0 {
		return "", "", false
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	eco := ecoBook.Find(game.Moves())
	if eco == nil {
		return "", "", false
	}
	return eco.Code(), eco.Title(), true
}
