// Package workorder defines the Work Order envelope: the plaintext
// structure an agent seals for the device, carrying a prompt plus the
// instructions for returning the encrypted reply. The relay never sees
// any of this; it only handles the sealed form.
package workorder

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/eldtechnologies/voicerelay/internal/crypto"
)

// ErrMalformedEnvelope indicates a decrypted payload that is not a valid
// Work Order. Protocol violation from the agent side; the client must
// reject it before acting on any reply instructions.
var ErrMalformedEnvelope = errors.New("malformed work order envelope")

// ReplyInstructions tells the device where and how to deliver the
// encrypted reply. Opaque to the relay.
type ReplyInstructions struct {
	Destination    string `json:"destination"`      // URL the reply is POSTed to
	Method         string `json:"method,omitempty"` // defaults to POST
	ReplyPublicKey string `json:"reply_public_key"` // one-time ephemeral key, PEM
}

// Envelope is the plaintext Work Order. Immutable once constructed.
type Envelope struct {
	Topic             string            `json:"topic"`
	Prompt            string            `json:"prompt"`
	ReplyInstructions ReplyInstructions `json:"reply_instructions"`
}

// Marshal produces the canonical encoding used as encryption input.
// Field order follows struct order, so the same envelope always
// serializes to the same bytes.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes and validates a Work Order. Missing or misshapen
// required fields fail with ErrMalformedEnvelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) validate() error {
	if e.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrMalformedEnvelope)
	}
	if e.ReplyInstructions.Destination == "" {
		return fmt.Errorf("%w: reply_instructions.destination is required", ErrMalformedEnvelope)
	}
	// Well-formedness only. Resolving or probing the destination is the
	// caller's job, after the user has agreed to reply.
	u, err := url.ParseRequestURI(e.ReplyInstructions.Destination)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: reply_instructions.destination is not a valid URL", ErrMalformedEnvelope)
	}
	if e.ReplyInstructions.ReplyPublicKey == "" {
		return fmt.Errorf("%w: reply_instructions.reply_public_key is required", ErrMalformedEnvelope)
	}
	if _, err := crypto.ParsePublicKeyPEM(e.ReplyInstructions.ReplyPublicKey); err != nil {
		return fmt.Errorf("%w: reply_instructions.reply_public_key: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// Seal encrypts the envelope for the holder of the recipient key.
func (e *Envelope) Seal(recipient *rsa.PublicKey) (*crypto.EncryptedBlob, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	plaintext, err := e.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(plaintext, recipient)
}

// Open decrypts a sealed envelope and validates its shape. Decryption
// failures surface as crypto.ErrDecryption, shape failures as
// ErrMalformedEnvelope.
func Open(blob *crypto.EncryptedBlob, priv *rsa.PrivateKey) (*Envelope, error) {
	plaintext, err := crypto.Decrypt(blob, priv)
	if err != nil {
		return nil, err
	}
	return Unmarshal(plaintext)
}
