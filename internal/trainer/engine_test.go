package trainer

import (
	"errors"
	"strings"
	"testing"
)

// KRK: White Ke6, Ra1 vs Black Ke8, white to move.
const krkFEN = "4k3/8/4K3/8/8/8/8/R7 w - - 0 1"

func TestApplyUCI(t *testing.T) {
	e := NewEngine()
	applied, err := e.Apply(krkFEN, "a1b1")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.UCI != "a1b1" {
		t.Errorf("uci = %q, want a1b1", applied.UCI)
	}
	if applied.GameOver {
		t.Error("game should be ongoing")
	}
	if !strings.HasPrefix(applied.FENAfter, "4k3/8/4K3/8/8/8/8/1R6 b") {
		t.Errorf("unexpected fen after: %q", applied.FENAfter)
	}
	if len(applied.Replies) == 0 {
		t.Error("expected legal replies for black")
	}
}

func TestApplySAN(t *testing.T) {
	e := NewEngine()
	applied, err := e.Apply(krkFEN, "Rb1")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.UCI != "a1b1" {
		t.Errorf("uci = %q, want a1b1", applied.UCI)
	}
}

func TestApplyIllegalMove(t *testing.T) {
	e := NewEngine()
	for _, move := range []string{"a1a9", "e2e4", "Qh5", "zzzz", ""} {
		if _, err := e.Apply(krkFEN, move); !errors.Is(err, ErrIllegalMove) {
			t.Errorf("Apply(%q) err = %v, want ErrIllegalMove", move, err)
		}
	}
}

func TestApplyCheckmate(t *testing.T) {
	// White Kg6, Ra1 vs Black Kg8: Ra8 is mate.
	e := NewEngine()
	applied, err := e.Apply("6k1/8/6K1/8/8/8/8/R7 w - - 0 1", "a1a8")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.GameOver || applied.Result != ResultCheckmate {
		t.Errorf("got over=%v result=%q, want checkmate", applied.GameOver, applied.Result)
	}
	if len(applied.Replies) != 0 {
		t.Errorf("expected no replies after mate, got %v", applied.Replies)
	}
}

func TestApplyStalemate(t *testing.T) {
	// White Kf6, Qg5 vs Black Kh8: Qg6 stalemates.
	e := NewEngine()
	applied, err := e.Apply("7k/8/5K2/6Q1/8/8/8/8 w - - 0 1", "g5g6")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.GameOver || applied.Result != ResultStalemate {
		t.Errorf("got over=%v result=%q, want stalemate", applied.GameOver, applied.Result)
	}
}

func TestApplyInsufficientMaterial(t *testing.T) {
	// White Ka1 vs Black Kc3, ra2: Kxa2 leaves bare kings.
	e := NewEngine()
	applied, err := e.Apply("8/8/8/8/8/2k5/r7/K7 w - - 0 1", "a1a2")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !applied.GameOver || applied.Result != ResultInsufficientMaterial {
		t.Errorf("got over=%v result=%q, want insufficient-material", applied.GameOver, applied.Result)
	}
}

func TestApplyBadFEN(t *testing.T) {
	e := NewEngine()
	if _, err := e.Apply("not a position", "e2e4"); err == nil {
		t.Fatal("expected error for invalid FEN")
	}
}

func TestLegalMoves(t *testing.T) {
	e := NewEngine()
	moves, err := e.LegalMoves(krkFEN)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	want := map[string]bool{"a1b1": false, "a1a8": false, "e6d6": false}
	for _, mv := range moves {
		if _, ok := want[mv]; ok {
			want[mv] = true
		}
	}
	for mv, seen := range want {
		if !seen {
			t.Errorf("legal move %s missing from %v", mv, moves)
		}
	}
}

func TestLooksLikeUCI(t *testing.T) {
	tests := []struct {
		move string
		want bool
	}{
		{"e2e4", true},
		{"a1h8", true},
		{"e7e8q", true},
		{"E2E4", true},
		{"Rb1", false},
		{"O-O", false},
		{"e2e9", false},
		{"e7e8k", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksLikeUCI(tt.move); got != tt.want {
			t.Errorf("looksLikeUCI(%q) = %v, want %v", tt.move, got, tt.want)
		}
	}
}
