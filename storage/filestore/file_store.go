package filestore

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
	"github.com/jrsteele09/site-attendance/storage"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltFile   = ".salt"
	saltLength = 16
)

var namespacePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var _ storage.Store = (*Store)(nil)

// Store persists each namespace as a JSON document under a data folder.
// When a passphrase is configured every value is sealed with XChaCha20-Poly1305.
type Store struct {
	folder     string
	passphrase string
	aead       cipherAEAD
	lock       sync.Mutex
}

type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

type fileEntry struct {
	Value  json.RawMessage `json:"value,omitempty"`
	Sealed []byte          `json:"sealed,omitempty"`
}

type Option func(*Store)

// WithPassphrase enables sealing of stored values. The key is derived with argon2id.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		s.passphrase = passphrase
	}
}

// New opens (creating if needed) a store rooted at folder.
func New(folder string, options ...Option) (*Store, error) {
	if folder == "" {
		return nil, errors.New("[filestore New] folder is required")
	}
	s := &Store{folder: folder}
	for _, opt := range options {
		opt(s)
	}

	if err := os.MkdirAll(folder, 0o700); err != nil {
		return nil, errors.Wrap(err, "[filestore New] MkdirAll")
	}

	if s.passphrase != "" {
		salt, err := s.loadSalt()
		if err != nil {
			return nil, err
		}
		key := argon2.IDKey([]byte(s.passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, errors.Wrap(err, "[filestore New] chacha20poly1305.NewX")
		}
		s.aead = aead
	}
	return s, nil
}

func (s *Store) Get(namespace, key string, v any) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	entries, err := s.read(namespace)
	if err != nil {
		return err
	}
	entry, ok := entries[key]
	if !ok {
		return storage.ErrNotFound
	}

	raw := []byte(entry.Value)
	if entry.Sealed != nil {
		if raw, err = s.open(namespace, key, entry.Sealed); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return appErrors.Wrapf(appErrors.ErrStorage, "decode %s/%s: %v", namespace, key, err)
	}
	return nil
}

func (s *Store) Set(namespace, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "Store.Set Marshal")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	entries, err := s.read(namespace)
	if err != nil {
		return err
	}

	if s.aead != nil {
		entries[key] = fileEntry{Sealed: s.seal(namespace, key, raw)}
	} else {
		entries[key] = fileEntry{Value: raw}
	}
	return s.write(namespace, entries)
}

func (s *Store) Delete(namespace, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	entries, err := s.read(namespace)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.write(namespace, entries)
}

func (s *Store) Clear(namespace string) error {
	if !namespacePattern.MatchString(namespace) {
		return appErrors.Wrapf(appErrors.ErrStorage, "invalid namespace %q", namespace)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := os.Remove(s.path(namespace)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "Store.Clear Remove")
	}
	return nil
}

func (s *Store) path(namespace string) string {
	return filepath.Join(s.folder, namespace+".json")
}

func (s *Store) read(namespace string) (map[string]fileEntry, error) {
	if !namespacePattern.MatchString(namespace) {
		return nil, appErrors.Wrapf(appErrors.ErrStorage, "invalid namespace %q", namespace)
	}

	entries := make(map[string]fileEntry)
	data, err := os.ReadFile(s.path(namespace))
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Store.read ReadFile")
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, appErrors.Wrapf(appErrors.ErrStorage, "corrupt namespace %s: %v", namespace, err)
	}
	return entries, nil
}

// write replaces the namespace document atomically via a temp file and rename.
func (s *Store) write(namespace string, entries map[string]fileEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Store.write Marshal")
	}

	tmp, err := os.CreateTemp(s.folder, namespace+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "Store.write CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "Store.write Write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "Store.write Close")
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return errors.Wrap(err, "Store.write Chmod")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path(namespace)), "Store.write Rename")
}

func (s *Store) seal(namespace, key string, plaintext []byte) []byte {
	nonce := make([]byte, s.aead.NonceSize())
	_, _ = rand.Read(nonce)
	return s.aead.Seal(nonce, nonce, plaintext, []byte(namespace+"/"+key))
}

func (s *Store) open(namespace, key string, sealed []byte) ([]byte, error) {
	if s.aead == nil {
		return nil, appErrors.Wrapf(appErrors.ErrStorage, "%s/%s is sealed and no passphrase is configured", namespace, key)
	}
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, appErrors.Wrapf(appErrors.ErrStorage, "%s/%s sealed value too short", namespace, key)
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(namespace+"/"+key))
	if err != nil {
		return nil, appErrors.Wrapf(appErrors.ErrStorage, "unseal %s/%s: %v", namespace, key, err)
	}
	return plaintext, nil
}

func (s *Store) loadSalt() ([]byte, error) {
	path := filepath.Join(s.folder, saltFile)
	salt, err := os.ReadFile(path)
	switch {
	case err == nil && len(salt) == saltLength:
		return salt, nil
	case err == nil:
		// Replacing it would orphan every sealed value.
		return nil, appErrors.Wrapf(appErrors.ErrStorage, "salt file %s has %d bytes, want %d", path, len(salt), saltLength)
	case !os.IsNotExist(err):
		return nil, errors.Wrap(err, "[filestore New] read salt")
	}

	salt = make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "[filestore New] rand.Read")
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, errors.Wrap(err, "[filestore New] write salt")
	}
	return salt, nil
}
