package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/voicerelay/internal/store"
)

// Blob size bounds enforced before persistence. This is the only
// content-shape validation the relay performs; it never parses or
// interprets the ciphertext.
const (
	MinBlobBytes = 100
	MaxBlobBytes = 1 << 20 // 1 MiB
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  store.Store
	redis  *store.RedisStore // optional: notification queue
	logger zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil in development.
func NewHandler(s store.Store, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{store: s, redis: redis, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// internalError logs the storage failure and returns an opaque 500.
// Client-fault errors and internal faults are never conflated, and
// storage details never reach the caller.
func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error().Err(err).Str("op", op).Msg("internal error")
	h.Error(w, http.StatusInternalServerError, "internal server error")
}
