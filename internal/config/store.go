package config

import (
	"log/slog"
	"sync"
)

// Store owns the loaded config document, serialises mutations, persists
// them atomically, and notifies subscribers when settings change (the
// scheduler uses this to start or stop without a process restart).
type Store struct {
	path string

	mu      sync.RWMutex
	cfg     *Config
	subs    map[int]func(Settings)
	nextSub int
}

// NewStore loads the document at path (defaults when missing).
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg, subs: make(map[int]func(Settings))}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Config returns a copy of the whole document.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// Settings returns a copy of the settings block.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Settings
}

// Auth returns a copy of the authentication block, verifier included.
// Callers building API responses must use the masked view instead.
func (s *Store) Auth() AuthConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Authentication
}

// UpdateSettings validates and persists a new settings block, then fans the
// change out to subscribers.
func (s *Store) UpdateSettings(next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	s.cfg.Settings = next
	cfg := *s.cfg
	subs := make([]func(Settings), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if err := Save(s.path, &cfg); err != nil {
		return Settings{}, err
	}
	for _, fn := range subs {
		fn(next)
	}
	slog.Info("settings.updated",
		"taskCronEnabled", next.TaskCronEnabled,
		"maxInactivityMinutes", next.MaxInactivityMinutes,
		"target", next.InactiveAgentNotificationTarget,
	)
	return next, nil
}

// UpdateAuth persists a new authentication block. The verifier is written
// as-is; validation and hashing happen in the auth package.
func (s *Store) UpdateAuth(next AuthConfig) error {
	s.mu.Lock()
	s.cfg.Authentication = next
	cfg := *s.cfg
	s.mu.Unlock()

	if err := Save(s.path, &cfg); err != nil {
		return err
	}
	slog.Info("settings.auth_updated", "enabled", next.Enabled, "hasPassword", next.HasPassword())
	return nil
}

// Subscribe registers fn to run after every settings change. The returned
// func unsubscribes.
func (s *Store) Subscribe(fn func(Settings)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
