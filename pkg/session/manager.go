// HookClaw - Telegram webhook gateway
// License: MIT

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zhaopengme/hookclaw/pkg/logger"
)

const filePrefix = "context_"

// Context is the mutable state shared by every update of one entity.
// Handlers run one at a time, so fields are not locked individually.
type Context struct {
	UserID   int64          `json:"user_id"`
	ChatData map[string]any `json:"chat_data"`
	UserData map[string]any `json:"user_data"`
	Created  time.Time      `json:"created"`
	Updated  time.Time      `json:"updated"`
}

// Touch marks the context as modified.
func (c *Context) Touch() {
	c.Updated = time.Now()
}

type Store struct {
	contexts map[int64]*Context
	mu       sync.RWMutex
	storage  string

	// held while a handler runs and while a snapshot encodes
	mutate sync.Mutex
	// orders snapshot writes so an older encoding never replaces a newer file
	save sync.Mutex
}

// NewStore creates a context store. A non-empty storage directory enables
// snapshots and loads the ones already on disk.
func NewStore(storage string) *Store {
	s := &Store{
		contexts: make(map[int64]*Context),
		storage:  storage,
	}

	if storage != "" {
		if err := os.MkdirAll(storage, 0755); err != nil {
			logger.ErrorCF("session", "Failed to create storage dir", map[string]interface{}{
				"dir":   storage,
				"error": err.Error(),
			})
			return s
		}
		if err := s.loadContexts(); err != nil {
			logger.WarnCF("session", "Failed to load context snapshots", map[string]interface{}{
				"dir":   storage,
				"error": err.Error(),
			})
		}
	}

	return s
}

// GetOrCreate returns the context of id, creating an empty one on first use.
func (s *Store) GetOrCreate(id int64) *Context {
	s.mu.RLock()
	c, ok := s.contexts[id]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have created it between the locks
	if c, ok := s.contexts[id]; ok {
		return c
	}

	now := time.Now()
	c = &Context{
		UserID:   id,
		ChatData: make(map[string]any),
		UserData: make(map[string]any),
		Created:  now,
		Updated:  now,
	}
	s.contexts[id] = c
	return c
}

func (s *Store) Get(id int64) (*Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	return c, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

func (s *Store) Persistent() bool {
	return s.storage != ""
}

// Mutate runs fn with snapshots held off. The dispatcher wraps every handler
// call in it; fn must not call Save or SaveAll.
func (s *Store) Mutate(fn func() error) error {
	s.mutate.Lock()
	defer s.mutate.Unlock()
	return fn()
}

// Save writes a snapshot of one context. Saves run one at a time from encode
// to rename, so the file always holds the latest encoding.
func (s *Store) Save(id int64) error {
	if s.storage == "" {
		return nil
	}

	s.save.Lock()
	defer s.save.Unlock()

	s.mutate.Lock()
	s.mu.RLock()
	stored, ok := s.contexts[id]
	if !ok {
		s.mu.RUnlock()
		s.mutate.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	s.mu.RUnlock()
	s.mutate.Unlock()
	if err != nil {
		return fmt.Errorf("encode context %d: %w", id, err)
	}

	contextPath := filepath.Join(s.storage, filePrefix+strconv.FormatInt(id, 10)+".json")
	tmpFile, err := os.CreateTemp(s.storage, "context-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, contextPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// SaveAll snapshots every context and returns the first error.
func (s *Store) SaveAll() error {
	if s.storage == "" {
		return nil
	}

	s.mu.RLock()
	ids := make([]int64, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := s.Save(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) loadContexts() error {
	files, err := os.ReadDir(s.storage)
	if err != nil {
		return err
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, filePrefix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.storage, name))
		if err != nil {
			continue
		}

		var c Context
		if err := json.Unmarshal(data, &c); err != nil {
			logger.WarnCF("session", "Skipping unreadable snapshot", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		if c.ChatData == nil {
			c.ChatData = make(map[string]any)
		}
		if c.UserData == nil {
			c.UserData = make(map[string]any)
		}
		s.contexts[c.UserID] = &c
	}

	return nil
}

// Strings reads a string list from a context bag. Snapshots decode lists as
// []any, so both shapes are accepted.
func Strings(bag map[string]any, key string) []string {
	switch v := bag[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
