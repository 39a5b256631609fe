package voicerelay

import (
	"crypto/rsa"
	"errors"
	"sync"

	"github.com/eldtechnologies/voicerelay/internal/crypto"
	"github.com/eldtechnologies/voicerelay/internal/workorder"
)

// ErrEphemeralKeyConsumed means the one-time reply key was already used.
// An ephemeral pair decrypts at most one reply; a second open is a
// caller-contract violation, not something to paper over.
var ErrEphemeralKeyConsumed = errors.New("ephemeral reply key already consumed")

// Ask is an outbound request under construction on the agent side. It
// holds the ephemeral private half that will decrypt the single reply;
// that key exists only in this process and is dropped after one use.
type Ask struct {
	Envelope *workorder.Envelope

	mu        sync.Mutex
	replyPriv *rsa.PrivateKey
}

// NewAsk builds a Work Order with a fresh ephemeral reply key pair.
// destination is where the device will deliver the encrypted reply.
func NewAsk(topic, prompt, destination string) (*Ask, error) {
	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	replyPEM, err := crypto.PublicKeyPEM(eph.Public)
	if err != nil {
		return nil, err
	}

	return &Ask{
		Envelope: &workorder.Envelope{
			Topic:  topic,
			Prompt: prompt,
			ReplyInstructions: workorder.ReplyInstructions{
				Destination:    destination,
				Method:         "POST",
				ReplyPublicKey: replyPEM,
			},
		},
		replyPriv: eph.Private,
	}, nil
}

// Seal encrypts the Work Order with the recipient's permanent public
// key and returns the transportable blob for /agent/ask.
func (a *Ask) Seal(recipientPublicKeyPEM string) (string, error) {
	pub, err := crypto.ParsePublicKeyPEM(recipientPublicKeyPEM)
	if err != nil {
		return "", err
	}
	blob, err := a.Envelope.Seal(pub)
	if err != nil {
		return "", err
	}
	return blob.Encode(), nil
}

// OpenReply decrypts the device's reply with the ephemeral private key,
// then discards the key. Exactly one open per Ask; subsequent calls
// return ErrEphemeralKeyConsumed even if the first decrypt failed.
func (a *Ask) OpenReply(encryptedBlob string) (string, error) {
	a.mu.Lock()
	priv := a.replyPriv
	a.replyPriv = nil
	a.mu.Unlock()

	if priv == nil {
		return "", ErrEphemeralKeyConsumed
	}

	blob, err := crypto.ParseBlob(encryptedBlob)
	if err != nil {
		return "", err
	}
	plaintext, err := crypto.Decrypt(blob, priv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
