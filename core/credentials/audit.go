package credentials

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type CredentialAuditAction string

const (
	AuditActionAcquired  CredentialAuditAction = "acquired"
	AuditActionRefreshed CredentialAuditAction = "refreshed"
	AuditActionRejected  CredentialAuditAction = "rejected"
	AuditActionRevoked   CredentialAuditAction = "revoked"
)

type CredentialAuditEntry struct {
	ID          string                `json:"id"`
	Timestamp   time.Time             `json:"timestamp"`
	Action      CredentialAuditAction `json:"action"`
	Profile     string                `json:"profile"`
	Method      AuthMethod            `json:"method,omitempty"`
	Source      Source                `json:"source,omitempty"`
	APIBase     string                `json:"api_base,omitempty"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	PrevHash    string                `json:"prev_hash"`
	EntryHash   string                `json:"entry_hash"`
}

type CredentialAuditStorage interface {
	Append(entry *CredentialAuditEntry) error
	Load() ([]*CredentialAuditEntry, error)
}

// CredentialAuditLog is an append-only, hash-chained record of token events.
type CredentialAuditLog struct {
	mu        sync.RWMutex
	entries   []*CredentialAuditEntry
	hashChain string
	storage   CredentialAuditStorage
}

func NewCredentialAuditLog(storage CredentialAuditStorage) *CredentialAuditLog {
	log := &CredentialAuditLog{storage: storage}
	if storage != nil {
		log.loadFromStorage()
	}
	return log
}

func (l *CredentialAuditLog) loadFromStorage() {
	entries, err := l.storage.Load()
	if err != nil || len(entries) == 0 {
		return
	}
	l.entries = entries
	l.hashChain = entries[len(entries)-1].EntryHash
}

// AuditEvent describes one credential event.
type AuditEvent struct {
	Action  CredentialAuditAction
	Profile string
	Creds   *Credentials
	Source  Source
	Reason  string
}

func (l *CredentialAuditLog) Record(ev AuditEvent) *CredentialAuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &CredentialAuditEntry{
		ID:        "caud_" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    ev.Action,
		Profile:   ev.Profile,
		Source:    ev.Source,
		Reason:    ev.Reason,
		PrevHash:  l.hashChain,
	}
	if ev.Creds != nil {
		entry.Method = ev.Creds.AuthMethod
		entry.APIBase = ev.Creds.APIBase
		entry.Fingerprint = ev.Creds.Fingerprint()
	}

	entry.EntryHash = computeEntryHash(entry)
	l.hashChain = entry.EntryHash
	l.entries = append(l.entries, entry)

	if l.storage != nil {
		_ = l.storage.Append(entry)
	}

	return entry
}

func computeEntryHash(entry *CredentialAuditEntry) string {
	data := entry.ID + entry.Timestamp.Format(time.RFC3339Nano) +
		string(entry.Action) + entry.Profile + string(entry.Method) +
		string(entry.Source) + entry.APIBase + entry.Fingerprint +
		entry.Reason + entry.PrevHash

	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

var ErrTamperedLog = errors.New("audit log has been tampered with")

// Verify walks the hash chain from the first entry.
func (l *CredentialAuditLog) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := ""
	for _, entry := range l.entries {
		if entry.PrevHash != prevHash || entry.EntryHash != computeEntryHash(entry) {
			return ErrTamperedLog
		}
		prevHash = entry.EntryHash
	}
	return nil
}

type AuditQueryFilter struct {
	Action  CredentialAuditAction
	Profile string
	From    time.Time
	To      time.Time
}

func (l *CredentialAuditLog) Query(filter AuditQueryFilter) []*CredentialAuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*CredentialAuditEntry, 0)
	for _, entry := range l.entries {
		if filter.matches(entry) {
			cp := *entry
			results = append(results, &cp)
		}
	}
	return results
}

func (f AuditQueryFilter) matches(entry *CredentialAuditEntry) bool {
	if f.Action != "" && entry.Action != f.Action {
		return false
	}
	if f.Profile != "" && entry.Profile != f.Profile {
		return false
	}
	if !f.From.IsZero() && entry.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && entry.Timestamp.After(f.To) {
		return false
	}
	return true
}

func (l *CredentialAuditLog) Entries() []*CredentialAuditEntry {
	return l.Query(AuditQueryFilter{})
}

func (l *CredentialAuditLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *CredentialAuditLog) LastHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hashChain
}

// FileAuditStorage stores entries as JSON lines.
type FileAuditStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileAuditStorage(path string) (*FileAuditStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &FileAuditStorage{path: path}, nil
}

func (s *FileAuditStorage) Append(entry *CredentialAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *FileAuditStorage) Load() ([]*CredentialAuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []*CredentialAuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e CredentialAuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, scanner.Err()
}
