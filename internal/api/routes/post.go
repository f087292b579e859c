package routes

import (
	"Postwing/internal/api/handlers/post"
	"Postwing/internal/api/middleware"
	"Postwing/internal/core/posts"

	"github.com/go-chi/chi/v5"
)

// RegisterPostRoutes registers the scheduled-post CRUD endpoints. All of
// them require an authenticated session.
func RegisterPostRoutes(r chi.Router, svc posts.Service, sessionAuth *middleware.SessionAuth) {
	createHandler := post.NewCreateHandler(svc)
	listHandler := post.NewListHandler(svc)
	getHandler := post.NewGetHandler(svc)
	updateHandler := post.NewUpdateHandler(svc)
	deleteHandler := post.NewDeleteHandler(svc)

	r.Route("/posts", func(r chi.Router) {
		r.Use(sessionAuth.RequireAuth)

		r.Post("/", createHandler.HandleCreate)
		r.Get("/", listHandler.HandleList)
		r.Get("/{id}", getHandler.HandleGet)
		r.Put("/{id}", updateHandler.HandleUpdate)
		r.Delete("/{id}", deleteHandler.HandleDelete)
	})
}
