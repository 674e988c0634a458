// devi/routes/auth.go
package routes

import (
	"devi/devi/controllers"
	"devi/devi/utils/types"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func AuthRoutes(ctrl *controllers.AuthController) chi.Router {
	r := chi.NewRouter()
	r.Post("/login", handleJSON(func(r *http.Request) (any, int, error) {
		var req types.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		token, err := ctrl.Login(r.Context(), req.UserID)
		if err != nil {
			return nil, statusFor(err), err
		}
		return types.LoginResponse{Token: token}, http.StatusOK, nil
	}))
	return r
}
