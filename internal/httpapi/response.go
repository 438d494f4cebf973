package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/freeeve/endgametrainer/internal/drills"
	"github.com/freeeve/endgametrainer/internal/fen"
	"github.com/freeeve/endgametrainer/internal/tablebase"
	"github.com/freeeve/endgametrainer/internal/trainer"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
	// Don't call http.Error after setting headers - it causes "superfluous WriteHeader"
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes and emits a JSON
// error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, trainer.ErrSessionNotFound),
		errors.Is(err, drills.ErrNoDrills):
		status = http.StatusNotFound
	case errors.Is(err, trainer.ErrIllegalMove),
		errors.Is(err, fen.ErrInvalidPosition),
		errors.Is(err, tablebase.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, trainer.ErrInvalidTurn):
		status = http.StatusConflict
	case errors.Is(err, tablebase.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, tablebase.ErrUnavailable),
		errors.Is(err, tablebase.ErrSchema):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type createSessionRequest struct {
	FEN   string `json:"fen,omitempty"`
	Side  string `json:"side,omitempty"`
	Theme string `json:"theme,omitempty"`
}

type moveRequest struct {
	Move string `json:"move"`
}

type blunderRequest struct {
	// "retry" restores the position, "continue" keeps the move.
	Action string `json:"action"`
}

type resetRequest struct {
	FEN  string `json:"fen"`
	Side string `json:"side"`
}

type sessionResponse struct {
	trainer.Snapshot
	Drill *drills.Drill `json:"drill,omitempty"`
}

type statsResponse struct {
	Sessions  int                      `json:"sessions"`
	Drills    int                      `json:"drills"`
	Evaluator tablebase.EvaluatorStats `json:"evaluator"`
}
