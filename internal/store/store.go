package store

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/voicerelay/internal/models"
)

// ErrNotFound is returned when an owner has no registered key or a
// message id does not exist for the owner.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary for the relay. The relay core is
// storage-agnostic: MemoryStore for development, SQLiteStore for a
// single node, PostgresStore for production. Each method is a single
// logical operation and must be atomic per owner row.
type Store interface {
	Close()
	Ping(ctx context.Context) error

	// Identity operations
	RegisterPublicKey(ctx context.Context, ownerID, publicKey string) (*models.Identity, error)
	GetPublicKey(ctx context.Context, ownerID string) (string, error)

	// Message operations. The blob is opaque ciphertext; implementations
	// must never parse or log its content.
	SubmitMessage(ctx context.Context, ownerID, encryptedBlob string) (*models.StoredMessage, error)
	FetchMessages(ctx context.Context, ownerID string) ([]models.StoredMessage, error)
	MarkDelivered(ctx context.Context, ownerID, messageID string) error

	// PurgeExpired deletes messages created before the cutoff and
	// returns how many were removed. Retention is a relay policy knob,
	// not a protocol guarantee.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewMessageID generates a time-ordered message identifier.
func NewMessageID() string {
	return "msg_" + ulid.Make().String()
}
