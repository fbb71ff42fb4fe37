// Package storage provides the durable identity store: a whole-file
// mapping from identity key to record, loaded in full before every
// operation and rewritten in full after any mutation. Records can
// optionally be encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/reivaJAQM/bioaccess/pkg/logging"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// Store is a file-backed identity store. There is no cross-process
// locking: concurrent writers follow last-write-wins, an accepted
// limitation at the population sizes this system targets.
type Store struct {
	path              string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewStore creates a store backed by the given file. The file is not
// created until the first save.
func NewStore(path string, encryptionEnabled bool) (*Store, error) {
	s := &Store{
		path:              path,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		s.encryptionKey = key
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return s, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity []byte
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity = append(identity, machineID...)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity = append(identity, hostname...)
	}
	identity = append(identity, fmt.Sprintf("%d", os.Getuid())...)
	identity = append(identity, "bioaccess-v1-salt"...)

	hash := sha256.Sum256(identity)
	copy(key[:], hash[:])

	return key, nil
}

// Load reads the full store from disk. A missing or unparsable file is
// treated as an empty store, never as an error: the store fails open to
// empty rather than refusing to start on corrupt data.
func (s *Store) Load() *Records {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warnf("Failed to read identity store %s, treating as empty: %v", s.path, err)
		}
		return NewRecords()
	}

	if s.encryptionEnabled {
		data, err = s.decrypt(data)
		if err != nil {
			logging.Warnf("Failed to decrypt identity store %s, treating as empty: %v", s.path, err)
			return NewRecords()
		}
	}

	records := NewRecords()
	if err := json.Unmarshal(data, records); err != nil {
		logging.Warnf("Corrupt identity store %s, treating as empty: %v", s.path, err)
		return NewRecords()
	}
	return records
}

// Save rewrites the full store. The data is written to a temporary file
// and renamed into place so a crash mid-write cannot leave a truncated
// store behind.
func (s *Store) Save(records *Records) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity store: %w", err)
	}

	if s.encryptionEnabled {
		data, err = s.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt identity store: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".bioaccess-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write identity store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set store permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace identity store: %w", err)
	}

	logging.Debugf("Saved identity store (%d records)", records.Len())
	return nil
}

// Exists checks if an identity key is enrolled.
func (s *Store) Exists(id string) bool {
	return s.Load().Exists(id)
}

// Get returns the record for an identity key.
func (s *Store) Get(id string) (Record, bool) {
	return s.Load().Get(id)
}

// Put inserts or replaces a record and persists the store immediately.
func (s *Store) Put(rec Record) error {
	records := s.Load()
	records.Put(rec)
	return s.Save(records)
}

// encrypt encrypts data using NaCl secretbox.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	encrypted := secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey)
	return encrypted, nil
}

// decrypt decrypts data using NaCl secretbox.
func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
