// Package credential_store persists login credentials for "remember me":
// the username, a one-way fingerprint of the password, and optionally the
// last session cookie value for silent session restoration. The raw
// password is never written to disk.
package credential_store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kydzhou/go-jwxt-client/filelock"
)

const (
	CREDENTIALS_VERSION = 1
	CREDENTIALS_MAGIC   = "JWXT_SAVED_CREDENTIALS"
)

// ErrNoCredentials is returned by Load when no credentials file exists.
var ErrNoCredentials = fmt.Errorf("no saved credentials")

// SavedCredentials is the on-disk record. SessionCookie may be empty: it is
// cleared on logout and on detected expiry while the username and
// fingerprint are preserved so the user need not retype credentials.
type SavedCredentials struct {
	Username            string    `json:"username"`
	PasswordFingerprint string    `json:"password_fingerprint"`
	SessionCookie       string    `json:"session_cookie,omitempty"`
	SavedAt             time.Time `json:"saved_at"`
}

type jsonHeader struct {
	Version int    `json:"version"`
	Magic   string `json:"magic"`
}

type jsonCredentialsFile struct {
	Header      jsonHeader       `json:"header"`
	Credentials SavedCredentials `json:"credentials"`
}

func (hdr *jsonHeader) validate() error {
	if hdr.Version != CREDENTIALS_VERSION {
		return fmt.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.Magic != CREDENTIALS_MAGIC {
		return fmt.Errorf("invalid magic: %s", hdr.Magic)
	}
	return nil
}

// Store reads and writes the credentials file at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store backed by the given file path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}
	if path == "." || path == ".." || path[len(path)-1] == '/' {
		return nil, fmt.Errorf("invalid filename: %s", path)
	}
	return &Store{path: path}, nil
}

// Save writes creds to disk with SavedAt set to now. The file is written
// atomically with mode 0600 and guarded by a file lock.
func (s *Store) Save(creds SavedCredentials) error {
	creds.SavedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	doc := jsonCredentialsFile{
		Header:      jsonHeader{Version: CREDENTIALS_VERSION, Magic: CREDENTIALS_MAGIC},
		Credentials: creds,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	return filelock.WithLock(s.path, func() error {
		tmp := s.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("failed to write credentials file: %w", err)
		}
		return os.Rename(tmp, s.path)
	})
}

// Load reads the saved credentials. Returns ErrNoCredentials when the file
// does not exist.
func (s *Store) Load() (SavedCredentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SavedCredentials{}, ErrNoCredentials
		}
		return SavedCredentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var doc jsonCredentialsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return SavedCredentials{}, fmt.Errorf("failed to decode credentials file: %w", err)
	}
	if err := doc.Header.validate(); err != nil {
		return SavedCredentials{}, fmt.Errorf("invalid credentials header: %w", err)
	}
	return doc.Credentials, nil
}

// ClearSessionCookie drops only the persisted session cookie value,
// preserving the username and password fingerprint. Called on logout and on
// detected session expiry. A missing file is a no-op.
func (s *Store) ClearSessionCookie() error {
	creds, err := s.Load()
	if err != nil {
		if err == ErrNoCredentials {
			return nil
		}
		return err
	}
	if creds.SessionCookie == "" {
		return nil
	}
	creds.SessionCookie = ""
	return s.Save(creds)
}

// Clear removes the credentials file entirely.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
