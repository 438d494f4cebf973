package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freeeve/endgametrainer/internal/drills"
	"github.com/freeeve/endgametrainer/internal/fen"
)

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var drill *drills.Drill
	fenStr, side := req.FEN, req.Side

	// No explicit position: deal a drill, optionally theme-restricted.
	if fenStr == "" {
		d, err := h.library.Random(req.Theme)
		if err != nil {
			writeError(w, err)
			return
		}
		drill = &d
		fenStr, side = d.FEN, d.Side
	}
	if side == "" {
		side = "w"
	}
	if side != "w" && side != "b" {
		writeError(w, fmt.Errorf("%w: bad side %q", fen.ErrInvalidPosition, side))
		return
	}

	s, err := h.registry.Create(fenStr, side[0])
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, sessionResponse{Snapshot: s.Snapshot(), Drill: drill})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.Snapshot())
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Move == "" {
		http.Error(w, "missing move", http.StatusBadRequest)
		return
	}

	out, err := s.HandlePlayerMove(r.Context(), req.Move)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out)
}

func (h *Handler) resolveBlunder(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req blunderRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var retry bool
	switch req.Action {
	case "retry":
		retry = true
	case "continue":
	default:
		http.Error(w, "action must be retry or continue", http.StatusBadRequest)
		return
	}

	if err := s.ResolveBlunder(retry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.Snapshot())
}

func (h *Handler) cancelReply(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.CancelPendingReply()
	writeJSON(w, s.Snapshot())
}

func (h *Handler) takeBack(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.TakeBack(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.Snapshot())
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Side != "w" && req.Side != "b" {
		writeError(w, fmt.Errorf("%w: bad side %q", fen.ErrInvalidPosition, req.Side))
		return
	}

	if err := s.Reset(req.FEN, req.Side[0]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.Snapshot())
}
