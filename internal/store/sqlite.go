package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/voicerelay/internal/models"
)

// SQLiteStore backs the relay with a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/relay.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		owner_id TEXT PRIMARY KEY,
		public_key TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		encrypted_blob TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'queued'
	);

	CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages(owner_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RegisterPublicKey upserts the owner's public key. Idempotent.
func (s *SQLiteStore) RegisterPublicKey(ctx context.Context, ownerID, publicKey string) (*models.Identity, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (owner_id, public_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET public_key = excluded.public_key, updated_at = excluded.updated_at
	`, ownerID, publicKey, now, now)
	if err != nil {
		return nil, err
	}

	ident := &models.Identity{OwnerID: ownerID}
	err = s.db.QueryRowContext(ctx, `
		SELECT public_key, created_at, updated_at FROM identities WHERE owner_id = ?
	`, ownerID).Scan(&ident.PublicKey, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ident, nil
}

func (s *SQLiteStore) GetPublicKey(ctx context.Context, ownerID string) (string, error) {
	var publicKey string
	err := s.db.QueryRowContext(ctx, `
		SELECT public_key FROM identities WHERE owner_id = ?
	`, ownerID).Scan(&publicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return publicKey, nil
}

func (s *SQLiteStore) SubmitMessage(ctx context.Context, ownerID, encryptedBlob string) (*models.StoredMessage, error) {
	msg := &models.StoredMessage{
		MessageID:     NewMessageID(),
		OwnerID:       ownerID,
		EncryptedBlob: encryptedBlob,
		SizeBytes:     len(encryptedBlob),
		CreatedAt:     time.Now().UTC(),
		Status:        models.StatusQueued,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, owner_id, encrypted_blob, size_bytes, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.MessageID, msg.OwnerID, msg.EncryptedBlob, msg.SizeBytes, msg.CreatedAt, string(msg.Status))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) FetchMessages(ctx context.Context, ownerID string) ([]models.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, owner_id, encrypted_blob, size_bytes, created_at, status
		FROM messages WHERE owner_id = ?
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

func (s *SQLiteStore) MarkDelivered(ctx context.Context, ownerID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'delivered' WHERE owner_id = ? AND message_id = ?
	`, ownerID, messageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
