package store

import (
	"context"
	"sync"
	"time"

	"github.com/eldtechnologies/voicerelay/internal/models"
)

// MemoryStore is the default development store: a map guarded by
// per-owner locking. Swappable for SQLite or Postgres without touching
// the handlers.
type MemoryStore struct {
	mu     sync.Mutex
	owners map[string]*ownerState
}

type ownerState struct {
	mu        sync.Mutex
	identity  *models.Identity
	messages  []models.StoredMessage
	messageIx map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[string]*ownerState)}
}

func (s *MemoryStore) owner(ownerID string) *ownerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[ownerID]
	if !ok {
		o = &ownerState{messageIx: make(map[string]int)}
		s.owners[ownerID] = o
	}
	return o
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// RegisterPublicKey upserts the owner's public key. Idempotent.
func (s *MemoryStore) RegisterPublicKey(ctx context.Context, ownerID, publicKey string) (*models.Identity, error) {
	o := s.owner(ownerID)
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()
	if o.identity == nil {
		o.identity = &models.Identity{OwnerID: ownerID, PublicKey: publicKey, CreatedAt: now, UpdatedAt: now}
	} else {
		o.identity.PublicKey = publicKey
		o.identity.UpdatedAt = now
	}
	ident := *o.identity
	return &ident, nil
}

func (s *MemoryStore) GetPublicKey(ctx context.Context, ownerID string) (string, error) {
	o := s.owner(ownerID)
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.identity == nil {
		return "", ErrNotFound
	}
	return o.identity.PublicKey, nil
}

func (s *MemoryStore) SubmitMessage(ctx context.Context, ownerID, encryptedBlob string) (*models.StoredMessage, error) {
	o := s.owner(ownerID)
	o.mu.Lock()
	defer o.mu.Unlock()

	msg := models.StoredMessage{
		MessageID:     NewMessageID(),
		OwnerID:       ownerID,
		EncryptedBlob: encryptedBlob,
		SizeBytes:     len(encryptedBlob),
		CreatedAt:     time.Now().UTC(),
		Status:        models.StatusQueued,
	}
	o.messages = append(o.messages, msg)
	o.messageIx[msg.MessageID] = len(o.messages) - 1
	return &msg, nil
}

func (s *MemoryStore) FetchMessages(ctx context.Context, ownerID string) ([]models.StoredMessage, error) {
	o := s.owner(ownerID)
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]models.StoredMessage, len(o.messages))
	copy(out, o.messages)
	return out, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, ownerID, messageID string) error {
	o := s.owner(ownerID)
	o.mu.Lock()
	defer o.mu.Unlock()

	ix, ok := o.messageIx[messageID]
	if !ok {
		return ErrNotFound
	}
	o.messages[ix].Status = models.StatusDelivered
	return nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	owners := make([]*ownerState, 0, len(s.owners))
	for _, o := range s.owners {
		owners = append(owners, o)
	}
	s.mu.Unlock()

	var purged int64
	for _, o := range owners {
		o.mu.Lock()
		kept := o.messages[:0]
		for _, m := range o.messages {
			if m.CreatedAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, m)
		}
		o.messages = kept
		o.messageIx = make(map[string]int, len(kept))
		for i, m := range kept {
			o.messageIx[m.MessageID] = i
		}
		o.mu.Unlock()
	}
	return purged, nil
}
