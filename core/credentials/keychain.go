package credentials

// KeychainProvider is the platform secret store.
type KeychainProvider interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
	Available() bool
}

// Keys persisted per profile.
const (
	keyToken      = "token"
	keyAuthMethod = "auth_method"
	keyAPIBase    = "api_base"
	keyClientID   = "client_id"
	keyState      = "state"
)

var persistedKeys = []string{keyToken, keyAuthMethod, keyAPIBase, keyClientID, keyState}

// secretStore is the profile-scoped view the manager persists through.
type secretStore interface {
	get(key string) (string, error)
	setAll(values map[string]string) error
	clear() error
	source() Source
}

type keychainStore struct {
	kc      KeychainProvider
	service string
}

func (s *keychainStore) get(key string) (string, error) {
	v, err := s.kc.Get(s.service, key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

func (s *keychainStore) setAll(values map[string]string) error {
	for k, v := range values {
		if err := s.kc.Set(s.service, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *keychainStore) clear() error {
	for _, k := range persistedKeys {
		_ = s.kc.Delete(s.service, k)
	}
	return nil
}

func (s *keychainStore) source() Source { return SourceKeychain }

type fileStore struct {
	enc     *EncryptedFileStore
	profile string
}

func (s *fileStore) get(key string) (string, error) {
	return s.enc.Get(s.profile, key)
}

func (s *fileStore) setAll(values map[string]string) error {
	return s.enc.SetAll(s.profile, values)
}

func (s *fileStore) clear() error {
	return s.enc.Clear(s.profile)
}

func (s *fileStore) source() Source { return SourceFile }
