package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eldtechnologies/voicerelay/internal/api/middleware"
	"github.com/eldtechnologies/voicerelay/internal/crypto"
	"github.com/eldtechnologies/voicerelay/internal/metrics"
	"github.com/eldtechnologies/voicerelay/internal/store"
)

// RegisterPublicKeyRequest represents the key registration request body.
type RegisterPublicKeyRequest struct {
	PublicKey string `json:"public_key"` // PEM
}

// RegisterPublicKeyResponse represents the key registration response.
type RegisterPublicKeyResponse struct {
	Status string `json:"status"`
}

// GetPublicKeyResponse carries the owner's published permanent key.
type GetPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// RegisterPublicKey handles the device publishing its permanent public
// key. Idempotent upsert.
func (h *Handler) RegisterPublicKey(w http.ResponseWriter, r *http.Request) {
	cred := middleware.GetCredential(r.Context())
	if cred == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req RegisterPublicKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}
	if _, err := crypto.ParsePublicKeyPEM(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid public_key: must be a PEM-encoded RSA public key")
		return
	}

	if _, err := h.store.RegisterPublicKey(r.Context(), cred.OwnerID, req.PublicKey); err != nil {
		h.internalError(w, "register_public_key", err)
		return
	}

	metrics.KeysRegistered.Inc()
	h.JSON(w, http.StatusOK, RegisterPublicKeyResponse{Status: "registered"})
}

// GetPublicKey returns the owner's permanent public key so an agent can
// seal Work Orders for them.
func (h *Handler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	cred := middleware.GetCredential(r.Context())
	if cred == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	publicKey, err := h.store.GetPublicKey(r.Context(), cred.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "no public key registered for this identity")
			return
		}
		h.internalError(w, "get_public_key", err)
		return
	}

	h.JSON(w, http.StatusOK, GetPublicKeyResponse{PublicKey: publicKey})
}
