// Package settings persists the user's capture preferences across
// sessions. The store is a small JSON document owned by this engine;
// everything else about the user's profile belongs to the surrounding
// application.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// CaptureSettings is the persisted capture preference set. Created
// with defaults on first run and only ever overwritten, never deleted.
type CaptureSettings struct {
	// SelectedMicDevice is the chosen microphone's name, or nil for
	// the system default input. Names are re-resolved against a fresh
	// device snapshot at capture start.
	SelectedMicDevice *string `json:"selected_mic_device"`

	SystemAudioEnabled bool `json:"system_audio_enabled"`
}

// Defaults returns the first-run settings: default input, system
// audio off.
func Defaults() CaptureSettings {
	return CaptureSettings{}
}

// Store loads and saves capture settings. Save is fire-and-forget from
// the pipeline's perspective; a failed save surfaces to the caller of
// the settings operation but never interrupts capture.
type Store interface {
	Load() (CaptureSettings, error)
	Save(CaptureSettings) error
}

// FileStore keeps settings in one JSON file, written atomically via a
// temp file and rename so a crash mid-write never corrupts them.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates the store. The file itself is created lazily on
// first Load or Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file's location.
func (s *FileStore) Path() string { return s.path }

// Load reads the settings file, returning defaults (and creating the
// file) on first run.
func (s *FileStore) Load() (CaptureSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		def := Defaults()
		if err := s.writeLocked(def); err != nil {
			return CaptureSettings{}, err
		}
		return def, nil
	}
	if err != nil {
		return CaptureSettings{}, fmt.Errorf("read settings: %w", err)
	}

	var cs CaptureSettings
	if err := json.Unmarshal(data, &cs); err != nil {
		return CaptureSettings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return cs, nil
}

// Save overwrites the settings file.
func (s *FileStore) Save(cs CaptureSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(cs)
}

func (s *FileStore) writeLocked(cs CaptureSettings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
