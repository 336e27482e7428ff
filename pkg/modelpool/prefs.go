package modelpool

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// prefStore persists sticky preferences as one JSON document mapping
// "group:user" to {pool_key: model_name}. Every mutation rewrites the file;
// persistence failures are logged and otherwise ignored, since an in-memory
// preference still serves the current process.
type prefStore struct {
	mu     sync.Mutex
	path   string
	prefs  map[string]map[string]string
	logger *zap.Logger
}

func newPrefStore(path string, logger *zap.Logger) *prefStore {
	s := &prefStore{
		path:   path,
		prefs:  make(map[string]map[string]string),
		logger: logger,
	}
	s.load()
	return s
}

func (s *prefStore) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("preference file unreadable, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}
	prefs := make(map[string]map[string]string)
	if err := json.Unmarshal(data, &prefs); err != nil {
		s.logger.Warn("preference file corrupt, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	s.prefs = prefs
}

func (s *prefStore) get(scopeKey, poolKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPool, ok := s.prefs[scopeKey]
	if !ok {
		return "", false
	}
	model, ok := byPool[poolKey]
	return model, ok
}

func (s *prefStore) set(scopeKey, poolKey, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPool, ok := s.prefs[scopeKey]
	if !ok {
		byPool = make(map[string]string)
		s.prefs[scopeKey] = byPool
	}
	byPool[poolKey] = model
	s.persistLocked()
}

func (s *prefStore) clear(scopeKey, poolKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPool, ok := s.prefs[scopeKey]
	if !ok {
		return
	}
	if _, ok := byPool[poolKey]; !ok {
		return
	}
	delete(byPool, poolKey)
	if len(byPool) == 0 {
		delete(s.prefs, scopeKey)
	}
	s.persistLocked()
}

func (s *prefStore) persistLocked() {
	if s.path == "" {
		return
	}
	if err := s.writeFile(); err != nil {
		s.logger.Warn("persisting preferences failed",
			zap.String("path", s.path), zap.Error(err))
	}
}

// writeFile rewrites the whole document through a temp file so a crash
// mid-write leaves the previous version intact.
func (s *prefStore) writeFile() error {
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create preference dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}
