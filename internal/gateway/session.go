package gateway

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/gmartinelli/pedidos/internal/domain"
)

// SessionStore persists the current session user in a single-entry slot
// so the selection survives restarts on the same device.
type SessionStore struct {
	filePath string
	mu       sync.Mutex
}

func NewSessionStore(filePath string) *SessionStore {
	return &SessionStore{filePath: filePath}
}

// Load returns the persisted session user, or (nil, nil) when no user
// has been selected yet. A corrupt slot is cleared, not propagated.
func (s *SessionStore) Load() (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		_ = os.Remove(s.filePath)
		return nil, nil
	}
	return &user, nil
}

func (s *SessionStore) Save(user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, raw, 0o644)
}

func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
