package config

import (
	"sync"
)

// Manager holds the live configuration. Chat setting commands mutate it
// through Update, which persists the result before publishing it.
type Manager struct {
	mu   sync.RWMutex
	root string
	cfg  Config
	save func(root string, cfg Config) error
}

func NewManager(root string, cfg Config) *Manager {
	return &Manager{root: root, cfg: cfg, save: Save}
}

// Get returns a snapshot that callers may keep without locking.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.cfg)
}

// Update applies fn to a copy of the config, saves it and swaps it in.
// The live config is left untouched when saving fails.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := clone(m.cfg)
	fn(&next)
	if err := m.save(m.root, next); err != nil {
		return err
	}
	m.cfg = next
	return nil
}

func clone(c Config) Config {
	if c.SiliconFlow.Keys != nil {
		c.SiliconFlow.Keys = append([]Credential(nil), c.SiliconFlow.Keys...)
	}
	if c.Bot.Masters != nil {
		c.Bot.Masters = append([]int64(nil), c.Bot.Masters...)
	}
	return c
}
