// Package fen canonicalizes FEN strings into cache keys.
//
// Tablebase results depend only on piece placement, side to move, castling
// rights and the en-passant target. The halfmove clock and fullmove number
// change on every ply without affecting the oracle's answer, so two FENs
// that differ only in those counters must map to the same key.
package fen

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPosition is returned for FEN strings that do not have the
// six space-separated fields of a well-formed position.
var ErrInvalidPosition = errors.New("invalid position")

// Key is a normalized position key: the first four FEN fields re-joined.
type Key string

// Normalize strips the halfmove clock and fullmove number from a FEN.
// Malformed input fails with ErrInvalidPosition rather than being
// silently truncated.
func Normalize(raw string) (Key, error) {
	fields := strings.Fields(raw)
	if len(fields) != 6 {
		return "", fmt.Errorf("%w: expected 6 fields, got %d", ErrInvalidPosition, len(fields))
	}
	if err := validate(fields); err != nil {
		return "", err
	}
	return Key(strings.Join(fields[:4], " ")), nil
}

// SideToMove returns 'w' or 'b' for a valid FEN.
func SideToMove(raw string) (byte, error) {
	fields := strings.Fields(raw)
	if len(fields) != 6 {
		return 0, fmt.Errorf("%w: expected 6 fields, got %d", ErrInvalidPosition, len(fields))
	}
	if fields[1] != "w" && fields[1] != "b" {
		return 0, fmt.Errorf("%w: bad side-to-move field %q", ErrInvalidPosition, fields[1])
	}
	return fields[1][0], nil
}

func validate(fields []string) error {
	// Board field: 8 ranks, each summing to 8 squares.
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return fmt.Errorf("%w: expected 8 ranks, got %d", ErrInvalidPosition, len(ranks))
	}
	for _, rank := range ranks {
		squares := 0
		for _, c := range rank {
			switch {
			case c >= '1' && c <= '8':
				squares += int(c - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", c):
				squares++
			default:
				return fmt.Errorf("%w: bad piece char %q", ErrInvalidPosition, c)
			}
		}
		if squares != 8 {
			return fmt.Errorf("%w: rank %q covers %d squares", ErrInvalidPosition, rank, squares)
		}
	}

	if fields[1] != "w" && fields[1] != "b" {
		return fmt.Errorf("%w: bad side-to-move field %q", ErrInvalidPosition, fields[1])
	}

	if fields[2] != "-" {
		for _, c := range fields[2] {
			if !strings.ContainsRune("KQkq", c) {
				return fmt.Errorf("%w: bad castling field %q", ErrInvalidPosition, fields[2])
			}
		}
	}

	if fields[3] != "-" {
		ep := fields[3]
		if len(ep) != 2 || ep[0] < 'a' || ep[0] > 'h' || (ep[1] != '3' && ep[1] != '6') {
			return fmt.Errorf("%w: bad en-passant field %q", ErrInvalidPosition, ep)
		}
	}

	return nil
}
