package voicerelay

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/eldtechnologies/voicerelay/internal/crypto"
)

// sealTestOrder seals a Work Order for the device key and returns the
// fetched-message form plus the agent's Ask for opening the reply.
func sealTestOrder(t *testing.T, device *crypto.KeyPair, id, prompt string) (FetchedMessage, *Ask) {
	t.Helper()
	ask, err := NewAsk("test", prompt, "https://agent.example.com/reply")
	if err != nil {
		t.Fatal(err)
	}
	devicePEM, err := crypto.PublicKeyPEM(device.Public)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := ask.Seal(devicePEM)
	if err != nil {
		t.Fatal(err)
	}
	return FetchedMessage{
		MessageID:     id,
		EncryptedBlob: blob,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Status:        "queued",
	}, ask
}

func testDeviceKey(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestIngestDeduplicates(t *testing.T) {
	device := testDeviceKey(t)
	msg, _ := sealTestOrder(t, device, "msg_1", "hello")

	in := NewInbox()
	if added := in.Ingest([]FetchedMessage{msg}); added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}
	// Fetch has no read-once semantics; a second fetch returns the same
	// message and must not create a duplicate record.
	if added := in.Ingest([]FetchedMessage{msg}); added != 0 {
		t.Fatalf("expected 0 added on re-ingest, got %d", added)
	}
	if got := len(in.List()); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
	if in.Get("msg_1").Status != StatusEncrypted {
		t.Fatal("fresh record should be ENCRYPTED")
	}
}

func TestIngestMalformedTimestamp(t *testing.T) {
	device := testDeviceKey(t)
	msg, _ := sealTestOrder(t, device, "msg_1", "hello")
	msg.CreatedAt = "not-a-timestamp"

	in := NewInbox()
	in.Ingest([]FetchedMessage{msg})

	rec := in.Get("msg_1")
	if rec.CreatedAt.IsZero() {
		t.Fatal("malformed relay timestamp must fall back to ingest time")
	}
}

func TestDecryptTransition(t *testing.T) {
	device := testDeviceKey(t)
	msg, _ := sealTestOrder(t, device, "msg_1", "what time works?")

	in := NewInbox()
	in.Ingest([]FetchedMessage{msg})

	env, err := in.Decrypt("msg_1", device.Private)
	if err != nil {
		t.Fatal(err)
	}
	if env.Prompt != "what time works?" {
		t.Fatalf("unexpected prompt %q", env.Prompt)
	}

	rec := in.Get("msg_1")
	if rec.Status != StatusDecrypted {
		t.Fatalf("expected DECRYPTED, got %s", rec.Status)
	}
	if rec.Topic != "test" {
		t.Fatalf("topic should be set after decrypt, got %q", rec.Topic)
	}

	// Decrypting an already-decrypted record is a contract violation
	if _, err := in.Decrypt("msg_1", device.Private); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDecryptFailureIsTerminal(t *testing.T) {
	device := testDeviceKey(t)
	wrong := testDeviceKey(t)
	msg, _ := sealTestOrder(t, device, "msg_1", "hello")

	in := NewInbox()
	in.Ingest([]FetchedMessage{msg})

	if _, err := in.Decrypt("msg_1", wrong.Private); !errors.Is(err, crypto.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
	if in.Get("msg_1").Status != StatusError {
		t.Fatal("failed decrypt should move record to ERROR")
	}

	// ERROR is terminal: no retry even with the right key
	if _, err := in.Decrypt("msg_1", device.Private); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
	quota := newTestQuota(t)
	if _, err := in.PrepareReply("msg_1", "late answer", quota, DefaultReplyLimit, time.Now()); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestReplyTransition(t *testing.T) {
	device := testDeviceKey(t)
	msg, ask := sealTestOrder(t, device, "msg_1", "ping")

	in := NewInbox()
	in.Ingest([]FetchedMessage{msg})
	if _, err := in.Decrypt("msg_1", device.Private); err != nil {
		t.Fatal(err)
	}

	quota := newTestQuota(t)
	reply, err := in.PrepareReply("msg_1", "pong", quota, DefaultReplyLimit, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if reply.Destination != "https://agent.example.com/reply" || reply.Method != "POST" {
		t.Fatalf("unexpected reply instructions: %+v", reply)
	}

	// Quota consumed exactly once
	rec, _ := quota.CheckAndRoll(time.Now())
	if rec.MessagesUsed != 1 {
		t.Fatalf("expected 1 used, got %d", rec.MessagesUsed)
	}

	// Agent decrypts with the ephemeral key
	plaintext, err := ask.OpenReply(reply.EncryptedBlob)
	if err != nil {
		t.Fatal(err)
	}
	if plaintext != "pong" {
		t.Fatalf("expected 'pong', got %q", plaintext)
	}

	// REPLIED is terminal
	if _, err := in.PrepareReply("msg_1", "again", quota, DefaultReplyLimit, time.Now()); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestReplyRequiresDecrypt(t *testing.T) {
	device := testDeviceKey(t)
	msg, _ := sealTestOrder(t, device, "msg_1", "hello")

	in := NewInbox()
	in.Ingest([]FetchedMessage{msg})

	quota := newTestQuota(t)
	if _, err := in.PrepareReply("msg_1", "answer", quota, DefaultReplyLimit, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestReplyBlockedByQuota(t *testing.T) {
	device := testDeviceKey(t)
	msg, _ := sealTestOrder(t, device, "msg_1", "hello")

	in := NewInbox()
	in.Ingest([]FetchedMessage{msg})
	if _, err := in.Decrypt("msg_1", device.Private); err != nil {
		t.Fatal(err)
	}

	quota, err := NewQuotaTracker(filepath.Join(t.TempDir(), "usage.json"))
	if err != nil {
		t.Fatal(err)
	}
	quota.rec.MessagesUsed = DefaultReplyLimit

	if _, err := in.PrepareReply("msg_1", "answer", quota, DefaultReplyLimit, time.Now()); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// Blocked reply leaves the record repliable once the window rolls
	if in.Get("msg_1").Status != StatusDecrypted {
		t.Fatal("blocked reply must not change record state")
	}
	rec, _ := quota.CheckAndRoll(time.Now())
	if rec.MessagesUsed != DefaultReplyLimit {
		t.Fatalf("blocked reply must not consume quota, got %d", rec.MessagesUsed)
	}
}

func TestEphemeralReplyKeySingleUse(t *testing.T) {
	device := testDeviceKey(t)
	msg, ask := sealTestOrder(t, device, "msg_1", "hello")

	in := NewInbox()
	in.Ingest([]FetchedMessage{msg})
	if _, err := in.Decrypt("msg_1", device.Private); err != nil {
		t.Fatal(err)
	}

	quota := newTestQuota(t)
	reply, err := in.PrepareReply("msg_1", "world", quota, DefaultReplyLimit, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ask.OpenReply(reply.EncryptedBlob); err != nil {
		t.Fatal(err)
	}
	if _, err := ask.OpenReply(reply.EncryptedBlob); !errors.Is(err, ErrEphemeralKeyConsumed) {
		t.Fatalf("expected ErrEphemeralKeyConsumed, got %v", err)
	}
}

func TestEphemeralKeysNeverCollide(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		ask, err := NewAsk("t", "p", "https://a.example/r")
		if err != nil {
			t.Fatal(err)
		}
		key := ask.Envelope.ReplyInstructions.ReplyPublicKey
		if seen[key] {
			t.Fatal("two independent ephemeral pairs collided")
		}
		seen[key] = true
	}
}
