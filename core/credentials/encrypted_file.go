package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ErrNoCredential is returned when a profile holds no value for a key.
var ErrNoCredential = errors.New("credential not found")

const (
	credentialFile = "credentials.enc"
	saltFile       = ".salt"
)

// EncryptedFileStore keeps profile secrets in one AES-GCM sealed file. The
// key is derived with argon2 from a machine identifier and a per-install salt.
type EncryptedFileStore struct {
	path   string
	sealer *sealer
	mu     sync.RWMutex
}

type vault struct {
	Profiles map[string]map[string]string `json:"profiles"`
}

func NewEncryptedFileStore(dir string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	key, err := deriveKey(dir)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return &EncryptedFileStore{
		path:   filepath.Join(dir, credentialFile),
		sealer: &sealer{key: key},
	}, nil
}

func (s *EncryptedFileStore) Get(profile, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.read()
	if err != nil {
		return "", err
	}
	if value, ok := v.Profiles[profile][key]; ok && value != "" {
		return value, nil
	}
	return "", ErrNoCredential
}

// SetAll writes several keys of a profile in one sealed write.
func (s *EncryptedFileStore) SetAll(profile string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil {
		return err
	}
	if v.Profiles[profile] == nil {
		v.Profiles[profile] = make(map[string]string)
	}
	for k, value := range values {
		v.Profiles[profile][k] = value
	}
	return s.write(v)
}

func (s *EncryptedFileStore) Set(profile, key, value string) error {
	return s.SetAll(profile, map[string]string{key: value})
}

func (s *EncryptedFileStore) Delete(profile, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil {
		return err
	}
	delete(v.Profiles[profile], key)
	return s.write(v)
}

// Clear drops every key of a profile.
func (s *EncryptedFileStore) Clear(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := v.Profiles[profile]; !ok {
		return nil
	}
	delete(v.Profiles, profile)
	return s.write(v)
}

// Keys lists the keys stored for a profile, sorted.
func (s *EncryptedFileStore) Keys(profile string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(v.Profiles[profile]))
	for k := range v.Profiles[profile] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *EncryptedFileStore) read() (*vault, error) {
	sealed, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &vault{Profiles: make(map[string]map[string]string)}, nil
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := s.sealer.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	var v vault
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if v.Profiles == nil {
		v.Profiles = make(map[string]map[string]string)
	}
	return &v, nil
}

func (s *EncryptedFileStore) write(v *vault) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return err
	}

	sealed, err := s.sealer.seal(plaintext)
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, sealed, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// sealer is AES-256-GCM with the nonce prepended to the ciphertext.
type sealer struct {
	key []byte
}

func (s *sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], nil)
}

func deriveKey(dir string) ([]byte, error) {
	salt, err := loadSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}

	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}

	return argon2.IDKey([]byte(machineIdentifier()+username), salt, 1, 64*1024, 4, 32), nil
}

func loadSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == 32 {
		return salt, nil
	}

	salt = make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, err
	}
	return salt, nil
}

func machineIdentifier() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return string(data)
		}
	}

	hostname, _ := os.Hostname()
	h := sha256.Sum256([]byte(hostname + os.Getenv("HOME") + os.Getenv("USER")))
	return hex.EncodeToString(h[:])
}
