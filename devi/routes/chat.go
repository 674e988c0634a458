package routes

import (
	"devi/devi/config"
	"devi/devi/controllers"
	"devi/devi/middlewares"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

var errNoUser = errors.New("unauthorized")

func ChatRoutes(ctrl *controllers.ChatController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.AuthMiddleware(cfg))

		// GET /chat/history : the caller's stored messages, oldest first
		gr.Get("/history", handleJSON(func(r *http.Request) (any, int, error) {
			userID, ok := middlewares.UserID(r.Context())
			if !ok {
				return nil, http.StatusUnauthorized, errNoUser
			}
			entries, err := ctrl.History(r.Context(), userID)
			if err != nil {
				return nil, statusFor(err), err
			}
			return entries, http.StatusOK, nil
		}))

		// DELETE /chat/history : forget the caller's conversation
		gr.Delete("/history", handleJSON(func(r *http.Request) (any, int, error) {
			userID, ok := middlewares.UserID(r.Context())
			if !ok {
				return nil, http.StatusUnauthorized, errNoUser
			}
			n, err := ctrl.ClearHistory(r.Context(), userID)
			if err != nil {
				return nil, statusFor(err), err
			}
			return map[string]int64{"deleted": n}, http.StatusOK, nil
		}))

		// GET /chat/exchanges/{id} : the archived batch answered with that response id
		gr.Get("/exchanges/{id}", handleJSON(func(r *http.Request) (any, int, error) {
			userID, ok := middlewares.UserID(r.Context())
			if !ok {
				return nil, http.StatusUnauthorized, errNoUser
			}
			obj, err := ctrl.Exchange(r.Context(), userID, chi.URLParam(r, "id"))
			if err != nil {
				return nil, statusFor(err), err
			}
			return obj, http.StatusOK, nil
		}))
	})
	return r
}
