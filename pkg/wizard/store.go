package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lendpath/funnel/internal/utils"
)

// StorageKey is the fixed key the session blob is stored under.
const StorageKey = "loanApplicationData"

// Session is the durable client-side state of one wizard run.
type Session struct {
	SessionID   string    `json:"sessionId"`
	CurrentStep StepID    `json:"currentStep"`
	FormData    FormData  `json:"formData"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists the session blob. Load returns (nil, nil) when nothing has
// been saved yet.
type Store interface {
	Load() (*Session, error)
	Save(s *Session) error
}

// MemoryStore keeps the blob in memory. It round-trips through JSON so
// values look exactly as they would after a reload from disk.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	// Writes counts Save calls.
	Writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.blobs[StorageKey]
	if !ok {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MemoryStore) Save(s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[StorageKey] = raw
	m.Writes++
	return nil
}

// FileStore keeps a key/value JSON document on disk, the local equivalent of
// browser storage. Writes are last-writer-wins; a file lock serializes
// concurrent CLI processes.
type FileStore struct {
	path string
	lock *utils.FileLock
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create session directory: %w", err)
	}
	lock, err := utils.NewFileLock(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, lock: lock}, nil
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load() (*Session, error) {
	doc, err := f.readDoc()
	if err != nil {
		return nil, err
	}
	raw, ok := doc[StorageKey]
	if !ok {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt session blob in %s: %w", f.path, err)
	}
	return &s, nil
}

func (f *FileStore) Save(s *Session) error {
	if err := f.lock.Lock(); err != nil {
		return err
	}
	defer f.lock.Unlock()

	doc, err := f.readDoc()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	doc[StorageKey] = raw

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) readDoc() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", f.path, err)
	}
	return doc, nil
}
