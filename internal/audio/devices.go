package audio

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/settings"
)

// Direction classifies a device as an input (capture) or output
// (playback) endpoint. System-audio capture rides on monitor/loopback
// endpoints that hosts expose alongside regular inputs.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// MarshalJSON emits the direction as its string name.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// DeviceDescriptor is a read-only snapshot row from hardware
// enumeration. Only the name is ever persisted; descriptors themselves
// are valid for the snapshot they came from.
type DeviceDescriptor struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Default   bool      `json:"default,omitempty"`
}

// Enumerator takes point-in-time snapshots of the host's audio
// devices. Implementations do not watch for hot-plug; callers
// re-enumerate when they want a fresh view.
type Enumerator interface {
	Devices() ([]DeviceDescriptor, error)
	DefaultInput() (DeviceDescriptor, error)
}

// RegistryOptions configures a device registry.
type RegistryOptions struct {
	Enum  Enumerator
	Store settings.Store
	Log   zerolog.Logger
}

// Registry enumerates devices and owns the persisted capture
// selection. Selection is stored by device name and re-resolved by
// string match against a fresh snapshot at each use; a vanished name
// falls back to the default input.
type Registry struct {
	enum  Enumerator
	store settings.Store
	log   zerolog.Logger

	mu      sync.RWMutex
	current settings.CaptureSettings
}

// NewRegistry loads (or creates with defaults) the persisted capture
// settings and returns the registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	r := &Registry{
		enum:  opts.Enum,
		store: opts.Store,
		log:   opts.Log.With().Str("component", "devices").Logger(),
	}
	cur, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load capture settings: %w", err)
	}
	r.current = cur
	return r, nil
}

// Devices returns a fresh enumeration snapshot.
func (r *Registry) Devices() ([]DeviceDescriptor, error) {
	return r.enum.Devices()
}

// Settings returns a copy of the current capture settings.
func (r *Registry) Settings() settings.CaptureSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Apply replaces the capture settings wholesale and persists them.
// Used by the settings-update operation; device validity is checked at
// capture start, not here.
func (r *Registry) Apply(s settings.CaptureSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Save(s); err != nil {
		return fmt.Errorf("save capture settings: %w", err)
	}
	r.current = s
	return nil
}

// Select persists device name as the chosen microphone after checking
// it exists as an input in a fresh snapshot.
func (r *Registry) Select(name string) error {
	devices, err := r.enum.Devices()
	if err != nil {
		return err
	}
	found := false
	for _, d := range devices {
		if d.Direction == DirectionInput && d.Name == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current
	next.SelectedMicDevice = &name
	if err := r.store.Save(next); err != nil {
		return fmt.Errorf("save capture settings: %w", err)
	}
	r.current = next
	r.log.Info().Str("device", name).Msg("microphone selected")
	return nil
}

// ToggleSystemAudio persists the system-audio capture flag.
func (r *Registry) ToggleSystemAudio(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current
	next.SystemAudioEnabled = enabled
	if err := r.store.Save(next); err != nil {
		return fmt.Errorf("save capture settings: %w", err)
	}
	r.current = next
	r.log.Info().Bool("enabled", enabled).Msg("system audio toggled")
	return nil
}
