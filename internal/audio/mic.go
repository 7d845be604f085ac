package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MicConfig configures the microphone input.
type MicConfig struct {
	SampleRate      int
	FramesPerBuffer int
}

// Mic captures mono 16-bit audio from the default input device.
type Mic struct {
	config MicConfig
	log    zerolog.Logger

	mu      sync.Mutex
	fn      func([]byte)
	stop    chan struct{}
	done    chan struct{}
	lastErr error
}

// NewMic creates a stopped microphone input.
func NewMic(config MicConfig) *Mic {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return &Mic{
		config: config,
		log:    log.With().Str("component", "mic").Logger(),
	}
}

// OnFrame sets the frame callback. It is called from the capture goroutine.
func (m *Mic) OnFrame(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// Start opens the default input stream and begins capturing.
func (m *Mic) Start() error {
	m.mu.Lock()
	prev := m.done
	m.mu.Unlock()

	// A previous capture goroutine may still be releasing the device.
	if prev != nil {
		<-prev
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return errors.New("mic: already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("mic: initialize portaudio: %w", err)
	}

	buf := make([]int16, m.config.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.config.SampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("mic: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("mic: start stream: %w", err)
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.lastErr = nil
	go m.capture(stream, buf, m.stop, m.done)

	m.log.Info().
		Int("sample_rate", m.config.SampleRate).
		Int("frames_per_buffer", m.config.FramesPerBuffer).
		Msg("microphone started")
	return nil
}

// Stop asks the capture goroutine to release the device. It does not wait
// for the current read to finish, so it is safe to call from the frame
// consumer.
func (m *Mic) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop == nil {
		return nil
	}
	close(m.stop)
	m.stop = nil
	return nil
}

// Err returns the error that ended the last capture, if any.
func (m *Mic) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Mic) capture(stream *portaudio.Stream, buf []int16, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := stream.Stop(); err != nil {
			m.log.Debug().Err(err).Msg("stop stream")
		}
		if err := stream.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close stream")
		}
		if err := portaudio.Terminate(); err != nil {
			m.log.Warn().Err(err).Msg("terminate portaudio")
		}
		m.log.Info().Msg("microphone stopped")
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			m.log.Error().Err(err).Msg("microphone read failed")
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		fn := m.fn
		m.mu.Unlock()
		if fn != nil {
			fn(Int16ToBytes(buf))
		}
	}
}
