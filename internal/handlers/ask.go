package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/eldtechnologies/voicerelay/internal/api/middleware"
	"github.com/eldtechnologies/voicerelay/internal/metrics"
)

// AskRequest is an agent submitting a sealed Work Order for the owner's
// device. The blob is opaque; the optional size field is advisory and
// only used for logging.
type AskRequest struct {
	EncryptedBlob          string `json:"encrypted_blob"`
	EncryptedBlobSizeBytes int    `json:"encrypted_blob_size_bytes,omitempty"`
}

// AskResponse acknowledges an accepted Work Order.
type AskResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// Ask stores an encrypted Work Order and queues a push notification.
// The only validation permitted here is blob size bounds; parsing the
// ciphertext would break the zero-knowledge contract.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	cred := middleware.GetCredential(r.Context())
	if cred == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.MessagesRejected.WithLabelValues("bad_request").Inc()
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	size := len(req.EncryptedBlob)
	if size < MinBlobBytes {
		metrics.MessagesRejected.WithLabelValues("too_small").Inc()
		h.Error(w, http.StatusBadRequest, fmt.Sprintf("encrypted_blob must be at least %d bytes", MinBlobBytes))
		return
	}
	if size > MaxBlobBytes {
		metrics.MessagesRejected.WithLabelValues("too_large").Inc()
		h.Error(w, http.StatusBadRequest, fmt.Sprintf("encrypted_blob must be at most %d bytes", MaxBlobBytes))
		return
	}

	msg, err := h.store.SubmitMessage(r.Context(), cred.OwnerID, req.EncryptedBlob)
	if err != nil {
		h.internalError(w, "submit_message", err)
		return
	}

	metrics.MessagesAccepted.Inc()
	metrics.BlobSizeBytes.Observe(float64(size))

	h.logger.Info().
		Str("owner_id", cred.OwnerID).
		Str("message_id", msg.MessageID).
		Int("blob_size_bytes", size).
		Msg("work order accepted")

	// Push notification is best-effort: delivery is the device's pull.
	if h.redis != nil {
		if err := h.redis.NotifyQueued(r.Context(), cred.OwnerID, msg.MessageID); err != nil {
			h.logger.Warn().Err(err).Str("message_id", msg.MessageID).Msg("notify enqueue failed")
		} else {
			metrics.NotificationsQueued.Inc()
		}
	}

	h.JSON(w, http.StatusOK, AskResponse{Status: "accepted", MessageID: msg.MessageID})
}
