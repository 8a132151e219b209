package handler

import "net/http"

// Handlers groups the route handlers of the server
type Handlers struct {
	Threads *ThreadHandler
	Stream  *StreamHandler
	Models  *ModelsHandler
	Health  *HealthHandler
}

// RegisterRoutes mounts every route on mux (Go 1.22+ method patterns).
// requireAuth wraps the routes that act on a user's data. Resume stays
// public: stream IDs are random UUIDs known only to the requesting client.
func RegisterRoutes(mux *http.ServeMux, h Handlers, requireAuth func(http.Handler) http.Handler) {
	auth := func(fn http.HandlerFunc) http.Handler {
		return requireAuth(fn)
	}

	mux.HandleFunc("GET /health", h.Health.Health)

	// Streaming chat
	mux.Handle("POST /chat", auth(h.Stream.Chat))
	mux.HandleFunc("POST /chat/resume", h.Stream.Resume)

	mux.Handle("GET /api/models", auth(h.Models.ListModels))

	// Threads
	mux.Handle("GET /api/threads", auth(h.Threads.ListThreads))
	mux.Handle("GET /api/threads/{id}", auth(h.Threads.GetThread))
	mux.Handle("PATCH /api/threads/{id}", auth(h.Threads.UpdateThread))
	mux.Handle("DELETE /api/threads/{id}", auth(h.Threads.DeleteThread))
	mux.Handle("GET /api/threads/{id}/messages", auth(h.Threads.ListMessages))
	mux.Handle("POST /api/threads/{id}/messages", auth(h.Threads.SendMessage))
	mux.Handle("POST /api/threads/{id}/branch", auth(h.Threads.Branch))
	mux.Handle("POST /api/threads/{id}/stop", auth(h.Threads.Stop))
	mux.Handle("POST /api/threads/{id}/summary", auth(h.Threads.Summary))

	// Messages
	mux.Handle("POST /api/messages/{id}/edit", auth(h.Threads.EditMessage))
	mux.Handle("POST /api/messages/{id}/retry", auth(h.Threads.RetryMessage))
	mux.Handle("POST /api/messages/{id}/error", auth(h.Threads.ReportError))
	mux.Handle("DELETE /api/messages/{id}", auth(h.Threads.DeleteMessage))
}
