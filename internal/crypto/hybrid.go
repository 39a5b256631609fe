// Package crypto implements the hybrid encryption scheme used for Work
// Orders and replies: a fresh AES-256 key per message, sealed with
// AES-256-GCM, the key itself wrapped under the recipient's RSA-2048
// public key with OAEP-SHA256. The relay only ever sees the encoded blob.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// KeyBits is the fixed RSA modulus size. Wrapped key length on the
	// wire depends on it, so it is not negotiable per message.
	KeyBits = 2048

	wrappedKeySize = KeyBits / 8
	aesKeySize     = 32
	ivSize         = 12
	tagSize        = 16

	minWireSize = wrappedKeySize + ivSize + tagSize
)

var (
	// ErrKeyGeneration indicates the randomness source failed. Fatal,
	// never retried automatically.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrDecryption covers every decrypt failure: unwrap, format and
	// authentication errors all collapse into it so callers cannot
	// distinguish which step failed.
	ErrDecryption = errors.New("decryption failed")

	// ErrMalformedBlob indicates the wire encoding could not be parsed.
	ErrMalformedBlob = errors.New("malformed encrypted blob")
)

// KeyPair is an RSA key pair. The private half never leaves the device
// that generated it.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair produces a fresh RSA-2048 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// EncryptedBlob is the parsed wire form of an encrypted payload.
type EncryptedBlob struct {
	WrappedKey []byte // RSA-OAEP wrapped AES key, 256 bytes
	IV         []byte // 12-byte GCM nonce
	Ciphertext []byte
	Tag        []byte // 16-byte GCM tag
}

// Encode serializes the blob as base64(wrapped_key || iv || ciphertext || tag),
// the single transportable string stored by the relay.
func (b *EncryptedBlob) Encode() string {
	wire := make([]byte, 0, len(b.WrappedKey)+len(b.IV)+len(b.Ciphertext)+len(b.Tag))
	wire = append(wire, b.WrappedKey...)
	wire = append(wire, b.IV...)
	wire = append(wire, b.Ciphertext...)
	wire = append(wire, b.Tag...)
	return base64.StdEncoding.EncodeToString(wire)
}

// ParseBlob decodes the wire form back into its parts.
func ParseBlob(encoded string) (*EncryptedBlob, error) {
	wire, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrMalformedBlob)
	}
	if len(wire) < minWireSize {
		return nil, fmt.Errorf("%w: %d bytes, minimum %d", ErrMalformedBlob, len(wire), minWireSize)
	}
	return &EncryptedBlob{
		WrappedKey: wire[:wrappedKeySize],
		IV:         wire[wrappedKeySize : wrappedKeySize+ivSize],
		Ciphertext: wire[wrappedKeySize+ivSize : len(wire)-tagSize],
		Tag:        wire[len(wire)-tagSize:],
	}, nil
}

// Encrypt seals plaintext for the holder of the matching private key.
// A fresh AES key and nonce are drawn on every call, so two encryptions
// of the same plaintext never produce the same blob.
func Encrypt(plaintext []byte, pub *rsa.PublicKey) (*EncryptedBlob, error) {
	aesKey := make([]byte, aesKeySize)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	if err != nil {
		return nil, err
	}

	return &EncryptedBlob{
		WrappedKey: wrapped,
		IV:         iv,
		Ciphertext: sealed[:len(sealed)-tagSize],
		Tag:        sealed[len(sealed)-tagSize:],
	}, nil
}

// Decrypt unwraps the AES key with the private key, then authenticates
// and decrypts the payload. Any failure returns ErrDecryption with no
// indication of which step failed.
func Decrypt(blob *EncryptedBlob, priv *rsa.PrivateKey) ([]byte, error) {
	if blob == nil || len(blob.WrappedKey) != wrappedKeySize || len(blob.IV) != ivSize || len(blob.Tag) != tagSize {
		return nil, ErrDecryption
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, blob.WrappedKey, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	if len(aesKey) != aesKeySize {
		return nil, ErrDecryption
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, ErrDecryption
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryption
	}

	sealed := make([]byte, 0, len(blob.Ciphertext)+tagSize)
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.Tag...)

	plaintext, err := gcm.Open(nil, blob.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
