package trainer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/endgametrainer/internal/fen"
)

// ErrIllegalMove is returned when a move cannot be played in the current
// position. User-correctable, never retried by the trainer.
var ErrIllegalMove = errors.New("illegal move")

// GameResult describes why a game ended.
type GameResult string

const (
	ResultOngoing              GameResult = ""
	ResultCheckmate            GameResult = "checkmate"
	ResultStalemate            GameResult = "stalemate"
	ResultInsufficientMaterial GameResult = "insufficient-material"
)

// Applied is the outcome of applying one move.
type Applied struct {
	UCI      string
	FENAfter string
	GameOver bool
	Result   GameResult
	// Replies are the legal moves in the resulting position, in UCI.
	Replies []string
}

// Engine adapts the off-the-shelf legality engine (freeeve/pgn) to the
// trainer's applyMove contract. It is stateless; every call re-derives
// the position from the FEN it is given.
type Engine struct{}

// NewEngine returns the legality engine adapter.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply plays a move (SAN or UCI) on a position and reports the result.
// Unknown or illegal moves fail with ErrIllegalMove.
func (e *Engine) Apply(fenStr, move string) (*Applied, error) {
	pos, err := gameState(fenStr)
	if err != nil {
		return nil, err
	}

	mv, err := resolveMove(pos, move)
	if err != nil {
		return nil, err
	}

	uci := moveToUCI(mv)
	if err := pgn.ApplyMove(pos, mv); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIllegalMove, move, err)
	}

	replies := pgn.GenerateLegalMoves(pos)
	applied := &Applied{
		UCI:      uci,
		FENAfter: pos.ToFEN(),
		Replies:  make([]string, 0, len(replies)),
	}
	for _, r := range replies {
		applied.Replies = append(applied.Replies, moveToUCI(r))
	}

	switch {
	case len(replies) == 0 && pos.IsInCheck():
		applied.GameOver = true
		applied.Result = ResultCheckmate
	case len(replies) == 0:
		applied.GameOver = true
		applied.Result = ResultStalemate
	case insufficientMaterial(pos):
		applied.GameOver = true
		applied.Result = ResultInsufficientMaterial
	}

	return applied, nil
}

// LegalMoves lists the legal moves of a position in UCI.
func (e *Engine) LegalMoves(fenStr string) ([]string, error) {
	pos, err := gameState(fenStr)
	if err != nil {
		return nil, err
	}
	moves := pgn.GenerateLegalMoves(pos)
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, moveToUCI(mv))
	}
	return out, nil
}

// gameState parses a FEN into a position via the engine's packed
// representation, validating the string on the way.
func gameState(fenStr string) (*pgn.GameState, error) {
	if _, err := fen.Normalize(fenStr); err != nil {
		return nil, err
	}
	packedStr, err := pgn.PackedPositionFromFEN(fenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fen.ErrInvalidPosition, err)
	}
	packed, err := pgn.ParsePackedPosition(packedStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fen.ErrInvalidPosition, err)
	}
	pos := packed.Unpack()
	if pos == nil {
		return nil, fmt.Errorf("%w: unpack failed", fen.ErrInvalidPosition)
	}
	return pos, nil
}

// resolveMove accepts SAN ("Kd2", "e8=Q+") or UCI ("e2d2", "e7e8q").
func resolveMove(pos *pgn.GameState, move string) (pgn.Mv, error) {
	if looksLikeUCI(move) {
		want := strings.ToLower(move)
		for _, mv := range pgn.GenerateLegalMoves(pos) {
			if moveToUCI(mv) == want {
				return mv, nil
			}
		}
		return pgn.Mv{}, fmt.Errorf("%w: %s", ErrIllegalMove, move)
	}

	mv, err := pgn.ParseSAN(pos, move)
	if err != nil {
		return pgn.Mv{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, move, err)
	}
	return mv, nil
}

func looksLikeUCI(move string) bool {
	if len(move) != 4 && len(move) != 5 {
		return false
	}
	m := strings.ToLower(move)
	if m[0] < 'a' || m[0] > 'h' || m[2] < 'a' || m[2] > 'h' {
		return false
	}
	if m[1] < '1' || m[1] > '8' || m[3] < '1' || m[3] > '8' {
		return false
	}
	if len(m) == 5 && !strings.ContainsRune("qrbn", rune(m[4])) {
		return false
	}
	return true
}

// moveToUCI renders a move in UCI notation (e.g. "e2e4", "e7e8q").
func moveToUCI(mv pgn.Mv) string {
	files := "abcdefgh"
	ranks := "12345678"

	uci := string(files[mv.From%8]) + string(ranks[mv.From/8]) +
		string(files[mv.To%8]) + string(ranks[mv.To/8])

	switch mv.Promo {
	case pgn.PromoQueen:
		uci += "q"
	case pgn.PromoRook:
		uci += "r"
	case pgn.PromoBishop:
		uci += "b"
	case pgn.PromoKnight:
		uci += "n"
	}
	return uci
}

// insufficientMaterial reports bare kings or king vs king plus one minor.
func insufficientMaterial(pos *pgn.GameState) bool {
	minors := 0
	for sq := 0; sq < 64; sq++ {
		switch pos.PieceAt(pgn.Square(sq)) {
		case 0, 'K', 'k':
		case 'N', 'n', 'B', 'b':
			minors++
			if minors > 1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
