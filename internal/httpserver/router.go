package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"matchtalk/internal/config"
	"matchtalk/internal/domain"
	"matchtalk/internal/registry"
	"matchtalk/internal/security"
	"matchtalk/internal/service"
	"matchtalk/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes and middleware.
// The REST routes under /api are the synchronous fallback to the realtime
// channel at /ws/messages; both surfaces drive the same services.
func NewRouter(
	cfg *config.Config,
	reg *registry.Registry,
	tokens *security.TokenVerifier,
	users domain.UserRepository,
	convSvc *service.ConversationService,
	msgSvc *service.MessageService,
	typing *service.TypingBroadcaster,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "matchtalk messaging API",
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// API routes. The request timeout applies here only; the realtime
	// route below holds its connection open far longer than any sane
	// request deadline.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokens, users))

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleCreateConversation(convSvc))
				r.Get("/", handleListConversations(convSvc))
				r.Get("/{conversationID}", handleGetConversation(convSvc))
				r.Post("/{conversationID}/archive", handleArchiveConversation(convSvc))
				r.Post("/{conversationID}/read", handleMarkConversationRead(msgSvc))
				r.Get("/{conversationID}/messages", handleListMessages(msgSvc))
				r.Post("/{conversationID}/messages", handleCreateMessage(msgSvc))
			})
		})
	})

	// Realtime channel
	r.Get("/ws/messages", ws.MakeHandler(reg, tokens, users, msgSvc, typing, cfg.CORSOrigins))

	return r
}
