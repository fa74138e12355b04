package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/dtroode/faceid-server/internal/api/http/handler"
	"github.com/dtroode/faceid-server/internal/api/http/middleware"
	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/model"
)

// Options tunes request handling.
type Options struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

// Router wires HTTP handlers and middleware for the identity API.
type Router struct {
	identityService handler.IdentityService
	authService     AuthService
	contextManager  model.ContextManager
	logger          *logger.Logger
	opts            Options
}

// AuthService combines admin login with token validation.
type AuthService interface {
	handler.AuthService
	middleware.TokenAuthenticator
}

// New creates new Router instance.
func New(
	identityService handler.IdentityService,
	authService AuthService,
	contextManager model.ContextManager,
	logger *logger.Logger,
	opts Options,
) *Router {
	return &Router{
		identityService: identityService,
		authService:     authService,
		contextManager:  contextManager,
		logger:          logger,
		opts:            opts,
	}
}

// Register builds the route tree.
//
// Enrollment, identification, login and health are public. Listing,
// lookup, deletion and image retrieval require an admin bearer token.
func (r *Router) Register() http.Handler {
	logging := middleware.NewLogging(r.logger)
	authenticate := middleware.NewAuthenticate(r.authService, r.contextManager, r.logger)

	identity := handler.NewIdentity(r.identityService, r.opts.MaxUploadBytes, r.logger)
	auth := handler.NewAuth(r.authService, r.logger)

	origins := r.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(logging.Handle)
	mux.Use(chimw.Recoverer)
	if r.opts.RequestTimeout > 0 {
		mux.Use(chimw.Timeout(r.opts.RequestTimeout))
	}
	mux.Use(corsHandler.Handler)

	mux.Get("/health", identity.Health)
	mux.Post("/admin/login", auth.Login)
	mux.Post("/identify", identity.Identify)

	mux.Route("/identities", func(rt chi.Router) {
		rt.Post("/", identity.Enroll)

		rt.Group(func(rt chi.Router) {
			rt.Use(authenticate.Handle)
			rt.Get("/", identity.List)
			rt.Get("/{externalID}", identity.Lookup)
			rt.Delete("/{externalID}", identity.Delete)
		})
	})

	mux.Group(func(rt chi.Router) {
		rt.Use(authenticate.Handle)
		rt.Get("/images/{ref}", identity.Image)
	})

	return mux
}
