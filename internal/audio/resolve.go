package audio

import (
	"fmt"
	"strings"
)

// monitorMarkers identify loopback/monitor endpoints across hosts.
var monitorMarkers = []string{"monitor", "loopback", "stereo mix", "what u hear"}

func looksLikeMonitor(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range monitorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ResolveMic re-resolves the persisted microphone name against a fresh
// snapshot. An unset or vanished name falls back to the default input;
// with no input device at all it reports ErrDeviceUnavailable.
func (r *Registry) ResolveMic() (DeviceDescriptor, error) {
	r.mu.RLock()
	want := r.current.SelectedMicDevice
	r.mu.RUnlock()

	if want != nil {
		devices, err := r.enum.Devices()
		if err != nil {
			return DeviceDescriptor{}, err
		}
		for _, d := range devices {
			if d.Direction == DirectionInput && d.Name == *want {
				return d, nil
			}
		}
		r.log.Warn().Str("device", *want).Msg("selected microphone not present, falling back to default input")
	}

	def, err := r.enum.DefaultInput()
	if err != nil {
		return DeviceDescriptor{}, fmt.Errorf("%w: no default input", ErrDeviceUnavailable)
	}
	return def, nil
}

// ResolveSystemSource finds a monitor/loopback endpoint for capturing
// system output. Inputs that look like monitors win; otherwise there
// is nothing this host can capture from and the caller gets
// ErrDeviceUnavailable.
func (r *Registry) ResolveSystemSource() (DeviceDescriptor, error) {
	devices, err := r.enum.Devices()
	if err != nil {
		return DeviceDescriptor{}, err
	}
	for _, d := range devices {
		if d.Direction == DirectionInput && looksLikeMonitor(d.Name) {
			return d, nil
		}
	}
	return DeviceDescriptor{}, fmt.Errorf("%w: no system-audio monitor source", ErrDeviceUnavailable)
}
