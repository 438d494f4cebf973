// Package httpapi exposes the trainer over HTTP: session lifecycle,
// move submission, cached evaluation lookups and a websocket event feed.
package httpapi

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/freeeve/endgametrainer/internal/drills"
	"github.com/freeeve/endgametrainer/internal/tablebase"
	"github.com/freeeve/endgametrainer/internal/trainer"
)

// Evaluator is the oracle surface the API needs: a synchronous cache
// peek for lookups plus counters. Fetches happen only through sessions.
type Evaluator interface {
	Peek(fenStr string) (*tablebase.Result, bool)
	Stats() tablebase.EvaluatorStats
}

// Handler wires the registry, oracle stack and drill library into routes.
type Handler struct {
	registry  *trainer.Registry
	evaluator Evaluator
	library   *drills.Library
	log       zerolog.Logger
}

// NewRouter builds the HTTP handler. The drill library may be empty.
func NewRouter(log zerolog.Logger, registry *trainer.Registry, evaluator Evaluator, library *drills.Library) http.Handler {
	h := &Handler{
		registry:  registry,
		evaluator: evaluator,
		library:   library,
		log:       log,
	}

	r := chi.NewRouter()
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(AccessLog(log))

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/session", h.createSession)
		r.Route("/session/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Post("/move", h.move)
			r.Post("/blunder", h.resolveBlunder)
			r.Post("/cancel-reply", h.cancelReply)
			r.Post("/takeback", h.takeBack)
			r.Post("/reset", h.reset)
			r.Get("/events", h.events)
		})

		r.Get("/eval", h.evalPosition)
		r.Get("/drills", h.listDrills)
		r.Get("/stats", h.stats)
	})

	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/", pprof.Index)
		r.Get("/cmdline", pprof.Cmdline)
		r.Get("/profile", pprof.Profile)
		r.Get("/symbol", pprof.Symbol)
		r.Get("/trace", pprof.Trace)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statsResponse{
		Sessions:  h.registry.Len(),
		Drills:    h.library.Count(),
		Evaluator: h.evaluator.Stats(),
	})
}
