// Package eval turns raw oracle results into perspective-correct
// evaluations and grades played moves against them.
//
// Sign conventions are interpreted here and nowhere else. The oracle
// reports every value from the perspective of the side to move in the
// position a value describes; chaining two perspective-aware components
// must never double-invert, so Format applies the flip for per-move
// evaluations exactly once and ForOpponent is the only other place a
// sign changes.
package eval

import (
	"sort"

	"github.com/freeeve/endgametrainer/internal/tablebase"
)

// Formatted is a perspective-corrected evaluation of one position.
// All fields are relative to Mover, the side to move in the evaluated
// position. TopMoves are Mover's legal moves ordered strongest first.
type Formatted struct {
	Mover        byte               `json:"mover"` // 'w' or 'b'
	WDLFromMover int                `json:"wdl"`
	Category     tablebase.Category `json:"category"`
	DTZ          *int               `json:"dtz"`
	DTM          *int               `json:"dtm"`
	TopMoves     []RankedMove       `json:"top_moves"`
}

// RankedMove is one legal move with its evaluation re-expressed from the
// mover's perspective.
type RankedMove struct {
	SAN      string             `json:"san"`
	UCI      string             `json:"uci"`
	WDL      int                `json:"wdl"`
	Category tablebase.Category `json:"category"`
	DTZ      *int               `json:"dtz"`
	DTM      *int               `json:"dtm"`
}

// Format converts a raw oracle result for a position into a Formatted
// evaluation for sideToMove, the side to move in that position.
//
// The oracle's top-level fields are already from sideToMove's perspective
// and pass through unchanged. Each move's fields describe the resulting
// position, where the opponent is to move, so those are negated — once —
// to express them for the mover.
func Format(res *tablebase.Result, sideToMove byte) Formatted {
	f := Formatted{
		Mover:        sideToMove,
		WDLFromMover: res.WDL,
		Category:     res.Category,
		DTZ:          res.DTZ,
		DTM:          res.DTM,
		TopMoves:     make([]RankedMove, 0, len(res.Moves)),
	}

	for _, mv := range res.Moves {
		f.TopMoves = append(f.TopMoves, RankedMove{
			SAN:      mv.SAN,
			UCI:      mv.UCI,
			WDL:      -mv.WDL,
			Category: flipCategory(mv.Category),
			DTZ:      negate(mv.DTZ),
			DTM:      negate(mv.DTM),
		})
	}

	sortMoves(f.TopMoves)
	return f
}

// ForOpponent returns the same position's evaluation from the other
// side's point of view. TopMoves are dropped: they belong to the mover.
func (f Formatted) ForOpponent() Formatted {
	return Formatted{
		Mover:        otherSide(f.Mover),
		WDLFromMover: -f.WDLFromMover,
		Category:     flipCategory(f.Category),
		DTZ:          negate(f.DTZ),
		DTM:          negate(f.DTM),
	}
}

// Best returns the strongest move, or nil for a terminal position.
func (f Formatted) Best() *RankedMove {
	if len(f.TopMoves) == 0 {
		return nil
	}
	return &f.TopMoves[0]
}

// sortMoves orders moves by objective strength for the mover: wins first
// by fastest conversion, then draws, then losses by slowest loss (best
// defense). Distance comparisons use absolute values with category as the
// primary key; a more negative raw DTZ can denote a *faster* win, so raw
// signed comparison would rank moves backwards.
func sortMoves(moves []RankedMove) {
	sort.SliceStable(moves, func(i, j int) bool {
		ri, rj := categoryRank(moves[i].Category), categoryRank(moves[j].Category)
		if ri != rj {
			return ri > rj
		}
		di, dj := distance(moves[i]), distance(moves[j])
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		}
		if moves[i].WDL > 0 {
			return *di < *dj // winning: fastest first
		}
		if moves[i].WDL < 0 {
			return *di > *dj // losing: slowest first
		}
		return false
	})
}

// distance returns |DTM| when known, else |DTZ|, else nil.
func distance(m RankedMove) *int {
	if m.DTM != nil {
		v := abs(*m.DTM)
		return &v
	}
	if m.DTZ != nil {
		v := abs(*m.DTZ)
		return &v
	}
	return nil
}

// categoryRank orders categories from the mover's best to worst.
func categoryRank(c tablebase.Category) int {
	switch c {
	case tablebase.CategoryWin:
		return 4
	case tablebase.CategoryCursedWin:
		return 3
	case tablebase.CategoryDraw:
		return 2
	case tablebase.CategoryBlessedLoss:
		return 1
	default:
		return 0
	}
}

func flipCategory(c tablebase.Category) tablebase.Category {
	switch c {
	case tablebase.CategoryWin:
		return tablebase.CategoryLoss
	case tablebase.CategoryCursedWin:
		return tablebase.CategoryBlessedLoss
	case tablebase.CategoryBlessedLoss:
		return tablebase.CategoryCursedWin
	case tablebase.CategoryLoss:
		return tablebase.CategoryWin
	default:
		return tablebase.CategoryDraw
	}
}

func negate(v *int) *int {
	if v == nil {
		return nil
	}
	n := -*v
	return &n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func otherSide(side byte) byte {
	if side == 'w' {
		return 'b'
	}
	return 'w'
}
