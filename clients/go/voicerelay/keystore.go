package voicerelay

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/eldtechnologies/voicerelay/internal/crypto"
)

const (
	keystoreInfo = "voicerelay-keystore-v1"
	saltSize     = 16

	saltFile     = "keystore.salt"
	identityFile = "identity.key"
	inboxFile    = "inbox.bin"
	usageFile    = "usage.json"
)

// ErrKeystoreSealed means a stored record could not be opened with the
// derived key: wrong device secret or tampered file.
var ErrKeystoreSealed = errors.New("keystore record cannot be opened")

// Keystore is the device-local protected store. The permanent private
// key and the inbox are sealed at rest with ChaCha20-Poly1305 under a
// key derived from an app-supplied device secret (backed by the
// platform keychain). Usage lives beside them so Wipe removes all
// identity state together.
type Keystore struct {
	dir  string
	aead cipher.AEAD
}

// OpenKeystore opens or initializes the keystore at dir. The same
// device secret must be supplied on every open.
func OpenKeystore(dir string, deviceSecret []byte) (*Keystore, error) {
	if len(deviceSecret) == 0 {
		return nil, errors.New("device secret is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	saltPath := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt = make([]byte, saltSize)
		if _, rerr := rand.Read(salt); rerr != nil {
			return nil, fmt.Errorf("%w: %v", crypto.ErrKeyGeneration, rerr)
		}
		if werr := os.WriteFile(saltPath, salt, 0o600); werr != nil {
			return nil, werr
		}
	} else if err != nil {
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, deviceSecret, salt, []byte(keystoreInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	return &Keystore{dir: dir, aead: aead}, nil
}

// EnsureKeyPair loads the permanent key pair, generating and sealing a
// fresh one on first use. The private half never leaves this directory.
func (k *Keystore) EnsureKeyPair() (*crypto.KeyPair, error) {
	path := filepath.Join(k.dir, identityFile)

	sealed, err := os.ReadFile(path)
	switch {
	case err == nil:
		pemBytes, err := k.open(sealed)
		if err != nil {
			return nil, err
		}
		priv, err := crypto.ParsePrivateKeyPEM(string(pemBytes))
		if err != nil {
			return nil, err
		}
		return &crypto.KeyPair{Public: &priv.PublicKey, Private: priv}, nil

	case os.IsNotExist(err):
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		pemStr, err := crypto.PrivateKeyPEM(kp.Private)
		if err != nil {
			return nil, err
		}
		sealed, err := k.seal([]byte(pemStr))
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, sealed, 0o600); err != nil {
			return nil, err
		}
		return kp, nil

	default:
		return nil, err
	}
}

// SaveInbox seals the inbox records to disk. Topics are derived from
// plaintext, so the whole snapshot is sealed, not just the blobs.
func (k *Keystore) SaveInbox(in *Inbox) error {
	data, err := json.Marshal(in.List())
	if err != nil {
		return err
	}
	sealed, err := k.seal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(k.dir, inboxFile), sealed, 0o600)
}

// LoadInbox restores a sealed inbox snapshot, or returns an empty inbox
// if none was saved. Decrypted envelopes are not retained across
// restarts, so DECRYPTED records resume as ENCRYPTED and are decrypted
// again on next access; terminal records keep their status.
func (k *Keystore) LoadInbox() (*Inbox, error) {
	sealed, err := os.ReadFile(filepath.Join(k.dir, inboxFile))
	if os.IsNotExist(err) {
		return NewInbox(), nil
	}
	if err != nil {
		return nil, err
	}
	data, err := k.open(sealed)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	in := NewInbox()
	for i := range records {
		rec := records[i]
		if rec.Status == StatusDecrypted {
			rec.Status = StatusEncrypted
			rec.Topic = ""
		}
		in.records[rec.ID] = &rec
		in.order = append(in.order, rec.ID)
	}
	return in, nil
}

// UsagePath is where the quota tracker persists its record. Plain JSON:
// the counter is not a secret, but it is wiped with everything else.
func (k *Keystore) UsagePath() string {
	return filepath.Join(k.dir, usageFile)
}

// Wipe removes the key pair, inbox, usage record and salt together.
// Logout semantics: nothing identity-bound survives.
func (k *Keystore) Wipe() error {
	var firstErr error
	for _, name := range []string{identityFile, inboxFile, usageFile, saltFile} {
		err := os.Remove(filepath.Join(k.dir, name))
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (k *Keystore) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrKeyGeneration, err)
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *Keystore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < k.aead.NonceSize() {
		return nil, ErrKeystoreSealed
	}
	nonce := sealed[:k.aead.NonceSize()]
	plaintext, err := k.aead.Open(nil, nonce, sealed[k.aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrKeystoreSealed
	}
	return plaintext, nil
}
