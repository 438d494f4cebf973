package httpapi

import (
	"net/http"

	"github.com/freeeve/endgametrainer/internal/eval"
	"github.com/freeeve/endgametrainer/internal/fen"
)

// evalPosition serves a cache peek, formatted for the side to move of
// the queried position. It never hits the oracle: positions only enter
// the cache through session play, and a miss is a 404.
func (h *Handler) evalPosition(w http.ResponseWriter, r *http.Request) {
	fenStr := r.URL.Query().Get("fen")
	if fenStr == "" {
		http.Error(w, "missing fen parameter", http.StatusBadRequest)
		return
	}

	side, err := fen.SideToMove(fenStr)
	if err != nil {
		writeError(w, err)
		return
	}

	res, ok := h.evaluator.Peek(fenStr)
	if !ok {
		http.Error(w, "no cached evaluation for position", http.StatusNotFound)
		return
	}

	writeJSON(w, eval.Format(res, side))
}

func (h *Handler) listDrills(w http.ResponseWriter, r *http.Request) {
	theme := r.URL.Query().Get("theme")
	if theme != "" {
		writeJSON(w, h.library.ByTheme(theme))
		return
	}
	writeJSON(w, h.library.All())
}
