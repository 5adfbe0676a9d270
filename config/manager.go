package config

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Manager owns the live document and optionally auto-saves it. The
// control surface updates the document on save-config and load-config
// (individual mixer commands do not touch it); the manager flushes it
// to disk on demand or, when it has changed, on the interval.
type Manager struct {
	path string

	mu    sync.Mutex
	file  File
	dirty bool

	stop chan struct{}
	done chan struct{}
}

// NewManager loads the document at path, falling back to Default()
// when the file does not exist. A positive auto-save interval starts
// the background flusher.
func NewManager(path string) (*Manager, error) {
	f, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		f = Default()
	} else if err != nil {
		return nil, err
	}
	m := &Manager{path: path, file: f}
	if interval := f.App.AutoSaveIntervalSeconds; interval > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.autoSave(time.Duration(interval) * time.Second)
	}
	return m, nil
}

// Path returns the config file location.
func (m *Manager) Path() string { return m.path }

// Current returns a copy of the live document.
func (m *Manager) Current() File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file
}

// Update replaces the live document and marks it dirty.
func (m *Manager) Update(f File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.file = f
	m.dirty = true
}

// Flush writes the document if it changed since the last write.
func (m *Manager) Flush() error {
	m.mu.Lock()
	f, dirty := m.file, m.dirty
	m.dirty = false
	m.mu.Unlock()

	if !dirty {
		return nil
	}
	return Save(m.path, f)
}

func (m *Manager) autoSave(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				slog.Warn("config auto-save failed", "path", m.path, "error", err)
			}
		}
	}
}

// Close stops the auto-saver and flushes one final time.
func (m *Manager) Close() error {
	if m.stop != nil {
		close(m.stop)
		<-m.done
	}
	return m.Flush()
}
