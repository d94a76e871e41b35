// Package www is the local status surface: a small JSON API plus an SSE
// stream, so a host application or debugging session can inspect and
// drive the tracking engine over HTTP.
package www

import (
	"net/http"

	"guesttrack/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		eventHub: NewEventHub(),
	}

	h.eventHub.Start()
	h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// SSE stream of status change notifications
	r.Get("/events", h.eventHub.HandleSSE)

	r.Route("/api", func(r chi.Router) {
		r.Get("/orders", h.apiListOrders)
		r.Get("/tracked", h.apiListTracked)
		r.Post("/orders/{orderID}/track", h.apiTrackOrder)
		r.Delete("/orders/{orderID}", h.apiUntrackOrder)
	})

	return r, func() {
		h.eventHub.Stop()
	}
}
