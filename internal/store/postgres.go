package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/voicerelay/internal/models"
)

// PostgresStore backs the relay with a PostgreSQL connection pool.
// Row-level locking in Postgres gives each operation the per-owner
// atomicity the contract requires.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		owner_id TEXT PRIMARY KEY,
		public_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		encrypted_blob TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		status TEXT NOT NULL DEFAULT 'queued'
	);

	CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages(owner_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RegisterPublicKey upserts the owner's public key. Idempotent.
func (s *PostgresStore) RegisterPublicKey(ctx context.Context, ownerID, publicKey string) (*models.Identity, error) {
	ident := &models.Identity{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO identities (owner_id, public_key)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET public_key = EXCLUDED.public_key, updated_at = now()
		RETURNING public_key, created_at, updated_at
	`, ownerID, publicKey).Scan(&ident.PublicKey, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ident, nil
}

func (s *PostgresStore) GetPublicKey(ctx context.Context, ownerID string) (string, error) {
	var publicKey string
	err := s.pool.QueryRow(ctx, `
		SELECT public_key FROM identities WHERE owner_id = $1
	`, ownerID).Scan(&publicKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return publicKey, nil
}

func (s *PostgresStore) SubmitMessage(ctx context.Context, ownerID, encryptedBlob string) (*models.StoredMessage, error) {
	msg := &models.StoredMessage{
		MessageID:     NewMessageID(),
		OwnerID:       ownerID,
		EncryptedBlob: encryptedBlob,
		SizeBytes:     len(encryptedBlob),
		Status:        models.StatusQueued,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (message_id, owner_id, encrypted_blob, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.MessageID, msg.OwnerID, msg.EncryptedBlob, msg.SizeBytes, string(msg.Status)).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PostgresStore) FetchMessages(ctx context.Context, ownerID string) ([]models.StoredMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, owner_id, encrypted_blob, size_bytes, created_at, status
		FROM messages WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.StoredMessage
	for rows.Next() {
		var msg models.StoredMessage
		var status string
		if err := rows.Scan(&msg.MessageID, &msg.OwnerID, &msg.EncryptedBlob, &msg.SizeBytes, &msg.CreatedAt, &status); err != nil {
			return nil, err
		}
		msg.Status = models.MessageStatus(status)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, ownerID, messageID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = 'delivered' WHERE owner_id = $1 AND message_id = $2
	`, ownerID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
