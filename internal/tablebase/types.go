// Package tablebase queries an external perfect-play endgame oracle over
// HTTP and serves results through a dedup + LRU cache stack.
package tablebase

import "errors"

// Errors surfaced by the oracle stack. The orchestrator treats ErrSchema
// and ErrTimeout the same as ErrUnavailable: the move stands, feedback
// degrades to "quality unknown".
var (
	ErrUnavailable  = errors.New("tablebase unavailable")
	ErrTimeout      = errors.New("tablebase timeout")
	ErrInvalidQuery = errors.New("tablebase rejected query")
	ErrSchema       = errors.New("tablebase response failed schema validation")
)

// Category is the oracle's coarse outcome classification, always from the
// perspective of the side to move in the position it describes.
type Category string

const (
	CategoryWin         Category = "win"
	CategoryCursedWin   Category = "cursed-win"
	CategoryDraw        Category = "draw"
	CategoryBlessedLoss Category = "blessed-loss"
	CategoryLoss        Category = "loss"
)

// Valid reports whether c is a known category value.
func (c Category) Valid() bool {
	switch c {
	case CategoryWin, CategoryCursedWin, CategoryDraw, CategoryBlessedLoss, CategoryLoss:
		return true
	}
	return false
}

// WDL returns the signed win/draw/loss code for the category:
// +2 win, +1 cursed win, 0 draw, -1 blessed loss, -2 loss.
func (c Category) WDL() int {
	switch c {
	case CategoryWin:
		return 2
	case CategoryCursedWin:
		return 1
	case CategoryBlessedLoss:
		return -1
	case CategoryLoss:
		return -2
	default:
		return 0
	}
}

// Result is a decoded oracle response for one position. WDL and Category
// are from the side to move's perspective in the queried position. DTZ and
// DTM are nil when the oracle does not know them (DTM is only available
// for small material counts). Immutable once fetched.
type Result struct {
	WDL      int        `json:"wdl"`
	Category Category   `json:"category"`
	DTZ      *int       `json:"dtz"`
	DTM      *int       `json:"dtm"`
	Moves    []MoveEval `json:"moves"`
}

// MoveEval is the oracle's evaluation of one legal move. Its WDL, Category,
// DTZ and DTM describe the *resulting* position and are therefore from the
// opponent's perspective; eval.Format flips them exactly once.
type MoveEval struct {
	SAN      string   `json:"san"`
	UCI      string   `json:"uci"`
	WDL      int      `json:"wdl"`
	Category Category `json:"category"`
	DTZ      *int     `json:"dtz"`
	DTM      *int     `json:"dtm"`
}
