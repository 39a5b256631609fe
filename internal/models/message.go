package models

import "time"

// MessageStatus tracks relay-side delivery state. The relay never looks
// inside the blob, so this is the only state it keeps per message.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusDelivered MessageStatus = "delivered"
)

// StoredMessage is an encrypted Work Order held by the relay until the
// owner's device fetches it. The blob is opaque ciphertext; content is
// never parsed, indexed or logged.
type StoredMessage struct {
	MessageID     string        `json:"message_id"` // msg_<ULID>
	OwnerID       string        `json:"owner_id"`
	EncryptedBlob string        `json:"encrypted_blob"`
	SizeBytes     int           `json:"size_bytes"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        MessageStatus `json:"status"`
}
