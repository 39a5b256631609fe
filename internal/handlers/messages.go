package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/voicerelay/internal/api/middleware"
	"github.com/eldtechnologies/voicerelay/internal/metrics"
	"github.com/eldtechnologies/voicerelay/internal/models"
	"github.com/eldtechnologies/voicerelay/internal/store"
)

// MessagesResponse is the device's view of its stored ciphertext.
type MessagesResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse represents one stored message in API responses.
type MessageResponse struct {
	MessageID     string `json:"message_id"`
	EncryptedBlob string `json:"encrypted_blob"`
	CreatedAt     string `json:"created_at"`
	Status        string `json:"status"`
}

// FetchMessages returns every stored message for the owner. No
// read-once semantics: the device deduplicates by message id.
func (h *Handler) FetchMessages(w http.ResponseWriter, r *http.Request) {
	cred := middleware.GetCredential(r.Context())
	if cred == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	msgs, err := h.store.FetchMessages(r.Context(), cred.OwnerID)
	if err != nil {
		h.internalError(w, "fetch_messages", err)
		return
	}

	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = MessageResponse{
			MessageID:     m.MessageID,
			EncryptedBlob: m.EncryptedBlob,
			CreatedAt:     m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Status:        string(m.Status),
		}
	}

	metrics.MessagesFetched.Add(float64(len(out)))
	h.JSON(w, http.StatusOK, MessagesResponse{Messages: out})
}

// AckMessage marks a message delivered once the device has persisted it
// locally. Purely informational for the relay; fetch stays idempotent.
func (h *Handler) AckMessage(w http.ResponseWriter, r *http.Request) {
	cred := middleware.GetCredential(r.Context())
	if cred == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	messageID := chi.URLParam(r, "id")
	if err := h.store.MarkDelivered(r.Context(), cred.OwnerID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "message not found")
			return
		}
		h.internalError(w, "mark_delivered", err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": string(models.StatusDelivered)})
}
