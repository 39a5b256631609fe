package voicerelay

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eldtechnologies/voicerelay/internal/crypto"
	"github.com/eldtechnologies/voicerelay/internal/workorder"
)

// Status is the client-side lifecycle state of a fetched message.
//
//	ENCRYPTED -> DECRYPTED -> REPLIED
//	     \            \
//	      +-> ERROR <--+        (ERROR and REPLIED are terminal)
type Status string

const (
	StatusEncrypted Status = "ENCRYPTED"
	StatusDecrypted Status = "DECRYPTED"
	StatusReplied   Status = "REPLIED"
	StatusError     Status = "ERROR"
)

var (
	// ErrTerminalState means a transition was attempted on a REPLIED or
	// ERROR record. Programming-contract violation, surfaced loudly.
	ErrTerminalState = errors.New("message is in a terminal state")

	// ErrInvalidTransition means the record is not in the state the
	// requested transition starts from.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Record is one message as the device tracks it, from fetch to reply.
// Mutated only through Inbox transitions.
type Record struct {
	ID            string    `json:"id"`
	EncryptedBlob string    `json:"encrypted_blob"`
	Topic         string    `json:"topic"` // known only after decrypt
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`

	envelope *workorder.Envelope
}

// Reply is the prepared outcome of a reply transition: the sealed
// payload plus the fully resolved instructions. Actually transmitting
// it to the destination is the caller's job.
type Reply struct {
	EncryptedBlob string
	Destination   string
	Method        string
}

// Inbox holds the device's message records and drives their lifecycle.
// Distinct messages may be processed concurrently; each transition is
// serialized by the inbox lock.
type Inbox struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{records: make(map[string]*Record)}
}

// Ingest adds fetched messages, skipping ids already present. Fetch has
// no read-once semantics, so dedup happens here. Returns the number of
// new records.
func (in *Inbox) Ingest(msgs []FetchedMessage) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if _, ok := in.records[m.MessageID]; ok {
			continue
		}
		created, err := time.Parse(time.RFC3339, m.CreatedAt)
		if err != nil {
			created = time.Now().UTC()
		}
		in.records[m.MessageID] = &Record{
			ID:            m.MessageID,
			EncryptedBlob: m.EncryptedBlob,
			Status:        StatusEncrypted,
			CreatedAt:     created,
		}
		in.order = append(in.order, m.MessageID)
		added++
	}
	return added
}

// Get returns a copy of the record, or nil if unknown.
func (in *Inbox) Get(id string) *Record {
	in.mu.Lock()
	defer in.mu.Unlock()
	rec, ok := in.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	cp.envelope = nil
	return &cp
}

// List returns copies of all records in ingest order.
func (in *Inbox) List() []Record {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Record, 0, len(in.order))
	for _, id := range in.order {
		cp := *in.records[id]
		cp.envelope = nil
		out = append(out, cp)
	}
	return out
}

// Remove deletes a record (user-triggered discard).
func (in *Inbox) Remove(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.records[id]; !ok {
		return
	}
	delete(in.records, id)
	for i, v := range in.order {
		if v == id {
			in.order = append(in.order[:i], in.order[i+1:]...)
			break
		}
	}
}

// Decrypt advances ENCRYPTED -> DECRYPTED using the permanent private
// key and returns the opened Work Order. A cryptographic or protocol
// failure moves the record to ERROR instead: terminal, never retried,
// because such failures are not transient.
func (in *Inbox) Decrypt(id string, priv *rsa.PrivateKey) (*workorder.Envelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	rec, ok := in.records[id]
	if !ok {
		return nil, fmt.Errorf("unknown message %q", id)
	}
	if rec.Status == StatusReplied || rec.Status == StatusError {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, rec.Status)
	}
	if rec.Status != StatusEncrypted {
		return nil, fmt.Errorf("%w: decrypt from %s", ErrInvalidTransition, rec.Status)
	}

	blob, err := crypto.ParseBlob(rec.EncryptedBlob)
	if err != nil {
		rec.Status = StatusError
		return nil, err
	}
	env, err := workorder.Open(blob, priv)
	if err != nil {
		rec.Status = StatusError
		return nil, err
	}

	rec.Status = StatusDecrypted
	rec.Topic = env.Topic
	rec.envelope = env
	return env, nil
}

// PrepareReply advances DECRYPTED -> REPLIED. The transition only
// happens when the quota admits one more reply and the plaintext seals
// cleanly under the envelope's one-time reply key; the quota is
// consumed exactly once, and a persistence failure blocks the reply
// rather than allowing an unmetered send.
func (in *Inbox) PrepareReply(id, plaintext string, quota *QuotaTracker, limit int, now time.Time) (*Reply, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	rec, ok := in.records[id]
	if !ok {
		return nil, fmt.Errorf("unknown message %q", id)
	}
	if rec.Status == StatusReplied || rec.Status == StatusError {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, rec.Status)
	}
	if rec.Status != StatusDecrypted || rec.envelope == nil {
		return nil, fmt.Errorf("%w: reply from %s", ErrInvalidTransition, rec.Status)
	}

	// Fail fast before the asymmetric work; the authoritative
	// check-and-consume happens atomically below.
	if exceeded, err := quota.IsExceeded(limit, now); err != nil {
		return nil, err
	} else if exceeded {
		return nil, ErrQuotaExceeded
	}

	replyPub, err := crypto.ParsePublicKeyPEM(rec.envelope.ReplyInstructions.ReplyPublicKey)
	if err != nil {
		// Already validated at decrypt time; failing here means the
		// record was corrupted in memory.
		rec.Status = StatusError
		return nil, err
	}
	blob, err := crypto.Encrypt([]byte(plaintext), replyPub)
	if err != nil {
		return nil, err
	}

	if _, err := quota.Consume(limit, now); err != nil {
		return nil, err
	}

	rec.Status = StatusReplied
	method := rec.envelope.ReplyInstructions.Method
	if method == "" {
		method = "POST"
	}
	return &Reply{
		EncryptedBlob: blob.Encode(),
		Destination:   rec.envelope.ReplyInstructions.Destination,
		Method:        method,
	}, nil
}
