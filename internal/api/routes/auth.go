package routes

import (
	"time"

	"Postwing/internal/api/handlers/auth"
	"Postwing/internal/api/middleware"
	"Postwing/internal/atproto/oauth"
	"Postwing/internal/config"
	"Postwing/internal/core/sessions"
	"Postwing/internal/core/users"

	"github.com/go-chi/chi/v5"
)

// RegisterAuthRoutes registers the authentication endpoints with
// dedicated, stricter rate limits: login and callback admit 10 req/min
// per IP to blunt credential probing and state exhaustion.
func RegisterAuthRoutes(r chi.Router, cfg *config.Config, authClient *oauth.Client,
	store sessions.Store, userSvc users.UserService, sessionAuth *middleware.SessionAuth) {

	loginLimiter := middleware.NewRateLimiter(10, 1*time.Minute)
	logoutLimiter := middleware.NewRateLimiter(10, 1*time.Minute)

	loginHandler := auth.NewLoginHandler(authClient)
	callbackHandler := auth.NewCallbackHandler(authClient)
	logoutHandler := auth.NewLogoutHandler(store)
	profileHandler := auth.NewProfileHandler(userSvc)
	metadataHandler := auth.NewMetadataHandler(cfg)

	// Public client metadata; the authorization server fetches this.
	r.Get("/oauth/client-metadata.json", metadataHandler.HandleClientMetadata)

	r.With(loginLimiter.Middleware).Get("/auth/login", loginHandler.HandleLogin)
	r.With(loginLimiter.Middleware).Post("/auth/callback", callbackHandler.HandleCallback)

	r.With(logoutLimiter.Middleware, sessionAuth.RequireAuth).Post("/auth/logout", logoutHandler.HandleLogout)
	r.With(sessionAuth.RequireAuth).Get("/auth/profile", profileHandler.HandleProfile)
}
