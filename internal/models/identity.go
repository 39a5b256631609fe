package models

import "time"

// Identity maps an opaque owner id (from the bearer credential) to the
// device's published permanent public key.
type Identity struct {
	OwnerID   string    `json:"owner_id"`
	PublicKey string    `json:"public_key"` // PEM
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
