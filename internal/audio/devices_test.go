package audio

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/quietdesk/scribe-engine/internal/settings"
)

type fakeEnum struct {
	devices []DeviceDescriptor
	def     DeviceDescriptor
	defErr  error
}

func (f *fakeEnum) Devices() ([]DeviceDescriptor, error)    { return f.devices, nil }
func (f *fakeEnum) DefaultInput() (DeviceDescriptor, error) { return f.def, f.defErr }

type memStore struct {
	mu      sync.Mutex
	cur     settings.CaptureSettings
	saveErr error
	saves   int
}

func (m *memStore) Load() (settings.CaptureSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, nil
}

func (m *memStore) Save(cs settings.CaptureSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cur = cs
	m.saves++
	return nil
}

func testRegistry(t *testing.T, enum Enumerator, store settings.Store) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryOptions{Enum: enum, Store: store, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestRegistrySelect(t *testing.T) {
	enum := &fakeEnum{
		devices: []DeviceDescriptor{
			{Name: "Built-in Microphone", Direction: DirectionInput, Default: true},
			{Name: "USB Microphone", Direction: DirectionInput},
			{Name: "Speakers", Direction: DirectionOutput},
		},
		def: DeviceDescriptor{Name: "Built-in Microphone", Direction: DirectionInput, Default: true},
	}

	t.Run("persists_a_known_input", func(t *testing.T) {
		store := &memStore{}
		r := testRegistry(t, enum, store)

		if err := r.Select("USB Microphone"); err != nil {
			t.Fatalf("select: %v", err)
		}
		got := r.Settings()
		if got.SelectedMicDevice == nil || *got.SelectedMicDevice != "USB Microphone" {
			t.Errorf("selected mic = %v, want USB Microphone", got.SelectedMicDevice)
		}
		if store.saves != 1 {
			t.Errorf("saves = %d, want 1", store.saves)
		}
	})

	t.Run("unknown_name_returns_not_found", func(t *testing.T) {
		r := testRegistry(t, enum, &memStore{})
		err := r.Select("Phantom Mic")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("err = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("output_device_is_not_selectable", func(t *testing.T) {
		r := testRegistry(t, enum, &memStore{})
		if err := r.Select("Speakers"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("err = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("failed_save_keeps_previous_selection", func(t *testing.T) {
		store := &memStore{saveErr: errors.New("disk full")}
		r := testRegistry(t, enum, store)
		if err := r.Select("USB Microphone"); err == nil {
			t.Fatal("select with failing store succeeded, want error")
		}
		if r.Settings().SelectedMicDevice != nil {
			t.Error("selection changed despite failed save")
		}
	})
}

func TestRegistryResolveMic(t *testing.T) {
	t.Run("uses_persisted_name_when_present", func(t *testing.T) {
		mic := "USB Microphone"
		enum := &fakeEnum{
			devices: []DeviceDescriptor{
				{Name: "Built-in Microphone", Direction: DirectionInput, Default: true},
				{Name: "USB Microphone", Direction: DirectionInput},
			},
			def: DeviceDescriptor{Name: "Built-in Microphone", Direction: DirectionInput},
		}
		r := testRegistry(t, enum, &memStore{cur: settings.CaptureSettings{SelectedMicDevice: &mic}})

		got, err := r.ResolveMic()
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.Name != "USB Microphone" {
			t.Errorf("resolved = %q, want USB Microphone", got.Name)
		}
	})

	t.Run("vanished_name_falls_back_to_default_input", func(t *testing.T) {
		gone := "Unplugged Headset"
		enum := &fakeEnum{
			devices: []DeviceDescriptor{
				{Name: "Built-in Microphone", Direction: DirectionInput, Default: true},
			},
			def: DeviceDescriptor{Name: "Built-in Microphone", Direction: DirectionInput},
		}
		r := testRegistry(t, enum, &memStore{cur: settings.CaptureSettings{SelectedMicDevice: &gone}})

		got, err := r.ResolveMic()
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.Name != "Built-in Microphone" {
			t.Errorf("resolved = %q, want the default input", got.Name)
		}
	})

	t.Run("no_input_at_all_is_unavailable", func(t *testing.T) {
		enum := &fakeEnum{defErr: errors.New("no devices")}
		r := testRegistry(t, enum, &memStore{})
		if _, err := r.ResolveMic(); !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("err = %v, want ErrDeviceUnavailable", err)
		}
	})
}

func TestRegistryResolveSystemSource(t *testing.T) {
	t.Run("finds_monitor_endpoint", func(t *testing.T) {
		enum := &fakeEnum{
			devices: []DeviceDescriptor{
				{Name: "Built-in Microphone", Direction: DirectionInput},
				{Name: "Monitor of Built-in Audio", Direction: DirectionInput},
			},
		}
		r := testRegistry(t, enum, &memStore{})
		got, err := r.ResolveSystemSource()
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.Name != "Monitor of Built-in Audio" {
			t.Errorf("resolved = %q, want the monitor endpoint", got.Name)
		}
	})

	t.Run("no_monitor_is_unavailable", func(t *testing.T) {
		enum := &fakeEnum{
			devices: []DeviceDescriptor{
				{Name: "Built-in Microphone", Direction: DirectionInput},
			},
		}
		r := testRegistry(t, enum, &memStore{})
		if _, err := r.ResolveSystemSource(); !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("err = %v, want ErrDeviceUnavailable", err)
		}
	})
}

func TestRegistrySettings(t *testing.T) {
	t.Run("toggle_system_audio_persists", func(t *testing.T) {
		store := &memStore{}
		r := testRegistry(t, &fakeEnum{}, store)

		if err := r.ToggleSystemAudio(true); err != nil {
			t.Fatalf("toggle: %v", err)
		}
		if !r.Settings().SystemAudioEnabled {
			t.Error("system audio not enabled after toggle")
		}
		if !store.cur.SystemAudioEnabled {
			t.Error("toggle not persisted to store")
		}
	})

	t.Run("apply_replaces_wholesale", func(t *testing.T) {
		store := &memStore{}
		r := testRegistry(t, &fakeEnum{}, store)

		mic := "USB Microphone"
		if err := r.Apply(settings.CaptureSettings{SelectedMicDevice: &mic, SystemAudioEnabled: true}); err != nil {
			t.Fatalf("apply: %v", err)
		}
		got := r.Settings()
		if got.SelectedMicDevice == nil || *got.SelectedMicDevice != mic || !got.SystemAudioEnabled {
			t.Errorf("settings = %+v, want mic %q with system audio on", got, mic)
		}
	})
}
