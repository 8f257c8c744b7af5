package dto

import "time"

// RegisterRequest carries the identity's curve25519 public key, base64
// encoded, next to its credentials.
type RegisterRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=50"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8,max=72"`
	PublicKey string `json:"publicKey" binding:"required,base64"`
}

type TokenResponse struct {
	UID            string    `json:"uid"`
	Token          string    `json:"token"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}
