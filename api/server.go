/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:         Request logging
  2. Recoverer:      Panic recovery (500 instead of crash)
  3. RequestID:      Unique ID per request for tracing
  4. CORS:           Cross-origin requests for frontend
  5. RequireSession: Bearer-token auth on everything except /api/sessions

ROUTE GROUPS:
  /api/sessions       Session issuance (public)
  /api/programs/*     Programs, finances, items, change batches
  /api/therapies/*    Therapy catalog
  /api/reset          Database reset (dev only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Session issuance is the only public endpoint
		r.Post("/sessions", h.CreateSession)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)

			// Program routes
			r.Route("/programs", func(r chi.Router) {
				r.Get("/", h.ListPrograms)
				r.Post("/", h.CreateProgram)
				r.Get("/{id}", h.GetProgram)
				r.Put("/{id}/status", h.UpdateProgramStatus)
				r.Get("/{id}/items", h.ListItems)

				// The two-phase change protocol
				r.Post("/{id}/changes/preview", h.PreviewChanges)
				r.Post("/{id}/changes/apply", h.ApplyChanges)

				// Locked finances
				r.Get("/{id}/finances", h.GetFinances)
				r.Put("/{id}/finances", h.UpdateFinances)
			})

			// Therapy catalog routes
			r.Route("/therapies", func(r chi.Router) {
				r.Get("/", h.ListTherapies)
				r.Post("/", h.CreateTherapy)
				r.Put("/{id}", h.UpdateTherapy)
			})

			// Scenario routes (dev/demo)
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})

			// Dev only
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Program Change Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Program Change Engine API</h1>
<p>Open a session with <code>POST /api/sessions</code>, then pass the token as a bearer header.</p>
<h2>API Endpoints</h2>
<ul>
<li><code>/api/programs</code> - Programs, finances, change batches</li>
<li><code>/api/therapies</code> - Therapy catalog</li>
</ul>
</body>
</html>`))
	})

	return r
}
