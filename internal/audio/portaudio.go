package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// DefaultFramesPerBuffer is the hardware read size requested from
// PortAudio.
const DefaultFramesPerBuffer = 1024

// maxCaptureChannels caps how many channels we ask a device for;
// anything beyond stereo is downmixed noise for speech purposes.
const maxCaptureChannels = 2

// Host owns the PortAudio runtime. Initialize it once per process and
// Close it on shutdown; sources and enumeration both go through it.
type Host struct {
	log zerolog.Logger
}

// NewHost initializes PortAudio.
func NewHost(log zerolog.Logger) (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &Host{log: log.With().Str("component", "portaudio").Logger()}, nil
}

// Close terminates the PortAudio runtime.
func (h *Host) Close() error {
	return portaudio.Terminate()
}

// Devices snapshots the host's devices. A duplex device appears once
// per direction.
func (h *Host) Devices() ([]DeviceDescriptor, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate: %v", ErrDeviceUnavailable, err)
	}
	defName := ""
	if def, err := portaudio.DefaultInputDevice(); err == nil {
		defName = def.Name
	}
	out := make([]DeviceDescriptor, 0, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels > 0 {
			out = append(out, DeviceDescriptor{
				Name:      info.Name,
				Direction: DirectionInput,
				Default:   info.Name == defName,
			})
		}
		if info.MaxOutputChannels > 0 {
			out = append(out, DeviceDescriptor{Name: info.Name, Direction: DirectionOutput})
		}
	}
	return out, nil
}

// DefaultInput returns the host's default input device.
func (h *Host) DefaultInput() (DeviceDescriptor, error) {
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		return DeviceDescriptor{}, fmt.Errorf("%w: default input: %v", ErrDeviceUnavailable, err)
	}
	return DeviceDescriptor{Name: def.Name, Direction: DirectionInput, Default: true}, nil
}

// OpenSource builds a capture source for the named device. The device
// is re-resolved and opened at Start, not here.
func (h *Host) OpenSource(device DeviceDescriptor, tag SourceTag, onFailure func(error)) *PortAudioSource {
	return &PortAudioSource{
		device:    device,
		tag:       tag,
		onFailure: onFailure,
		log: h.log.With().
			Str("device", device.Name).
			Str("source", tag.String()).
			Logger(),
		frames: make(chan Frame, 8),
	}
}

// PortAudioSource pulls frames from one PortAudio input stream on its
// own goroutine. The stream is exclusive to this source from Start
// until Stop and is released on every exit path, including device
// failure mid-capture.
type PortAudioSource struct {
	device    DeviceDescriptor
	tag       SourceTag
	onFailure func(error)
	log       zerolog.Logger

	frames  chan Frame
	dropped atomic.Int64

	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []float32
	rate    int
	chans   int
	running bool
	stopped bool
	done    chan struct{}
}

// Tag identifies which pipeline slot this source feeds.
func (s *PortAudioSource) Tag() SourceTag { return s.tag }

// DeviceName returns the device this source captures from.
func (s *PortAudioSource) DeviceName() string { return s.device.Name }

// Frames returns the raw frame stream. Closed once the source stops or
// the device fails.
func (s *PortAudioSource) Frames() <-chan Frame { return s.frames }

// DroppedFrames reports frames discarded because the pipeline was not
// reading fast enough. The device callback is never blocked.
func (s *PortAudioSource) DroppedFrames() int64 { return s.dropped.Load() }

// Start resolves the device by name, opens its stream at the device's
// native rate and launches the read loop. A missing or unopenable
// device reports ErrDeviceUnavailable.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return nil
	}

	info, err := findDevice(s.device.Name)
	if err != nil {
		return err
	}
	channels := info.MaxInputChannels
	if channels > maxCaptureChannels {
		channels = maxCaptureChannels
	}
	rate := int(info.DefaultSampleRate)
	if rate <= 0 {
		rate = EngineSampleRate
	}

	params := portaudio.HighLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = DefaultFramesPerBuffer

	s.buffer = make([]float32, DefaultFramesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, s.buffer)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrDeviceUnavailable, s.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start %q: %v", ErrDeviceUnavailable, s.device.Name, err)
	}

	s.stream = stream
	s.rate = rate
	s.chans = channels
	s.running = true
	s.done = make(chan struct{})
	go s.readLoop(ctx)

	s.log.Info().Int("rate", rate).Int("channels", channels).Msg("capture started")
	return nil
}

func (s *PortAudioSource) readLoop(ctx context.Context) {
	defer close(s.done)

	frameDur := time.Duration(DefaultFramesPerBuffer) * time.Second / time.Duration(s.rate)
	consecutiveErrs := 0

	for {
		s.mu.Lock()
		running := s.running
		stream := s.stream
		s.mu.Unlock()
		if !running || stream == nil || ctx.Err() != nil {
			return
		}

		available, err := stream.AvailableToRead()
		if err != nil || available == 0 {
			if err != nil {
				consecutiveErrs++
				if consecutiveErrs >= 50 {
					s.fail(fmt.Errorf("%w: %q stopped responding: %v", ErrDeviceUnavailable, s.device.Name, err))
					return
				}
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := stream.Read(); err != nil {
			consecutiveErrs++
			if consecutiveErrs >= 50 {
				s.fail(fmt.Errorf("%w: read %q: %v", ErrDeviceUnavailable, s.device.Name, err))
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		consecutiveErrs = 0

		samples := make([]float32, len(s.buffer))
		copy(samples, s.buffer)
		frame := Frame{
			Samples:    samples,
			SampleRate: s.rate,
			Channels:   s.chans,
			CapturedAt: time.Now().Add(-frameDur),
			Source:     s.tag,
		}
		select {
		case s.frames <- frame:
		default:
			s.dropped.Add(1)
		}
	}
}

// fail tears the source down from inside the read loop after a fatal
// device error. The pipeline keeps running on its remaining sources.
func (s *PortAudioSource) fail(err error) {
	s.log.Warn().Err(err).Msg("capture source failed")
	s.teardown(false)
	if s.onFailure != nil {
		s.onFailure(err)
	}
}

// Stop halts the read loop, releases the stream and closes the frames
// channel. Synchronous: when it returns, no further frame is emitted.
// Safe to call more than once.
func (s *PortAudioSource) Stop() error {
	s.teardown(true)
	return nil
}

func (s *PortAudioSource) teardown(wait bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	stream := s.stream
	s.stream = nil
	done := s.done
	s.mu.Unlock()

	// The loop notices running=false within one 10 ms poll.
	if wait && done != nil {
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
	if stream != nil {
		stream.Stop()
		stream.Close()
	}
	close(s.frames)
	if wasRunning {
		s.log.Info().Int64("dropped_frames", s.dropped.Load()).Msg("capture stopped")
	}
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate: %v", ErrDeviceUnavailable, err)
	}
	for _, info := range infos {
		if info.Name == name && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceUnavailable, name)
}
