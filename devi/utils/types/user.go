// devi/utils/types/user.go
package types

type LoginRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}
