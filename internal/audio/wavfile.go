package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ErrInvalidWAV is returned for files that are not PCM WAV.
var ErrInvalidWAV = errors.New("audio: not a valid wav file")

// WAVConfig configures a WAV file input.
type WAVConfig struct {
	// FileSys is the filesystem the file is read from (default: OS).
	FileSys afero.Fs

	// Path of the WAV file.
	Path string

	// FramesPerBuffer is the number of samples per delivered frame.
	FramesPerBuffer int

	// Realtime paces frames at the file's sample rate instead of
	// delivering them as fast as the consumer accepts them.
	Realtime bool

	// TrailingSilence appends this much silence so the recognizer can
	// finish the last utterance.
	TrailingSilence time.Duration
}

// WAVFile replays a WAV file as microphone input.
type WAVFile struct {
	config WAVConfig
	log    zerolog.Logger

	mu         sync.Mutex
	fn         func([]byte)
	samples    []int16
	sampleRate int
	stop       chan struct{}
	done       chan struct{}
}

// NewWAVFile creates a stopped file input. The file is read on Start.
func NewWAVFile(config WAVConfig) *WAVFile {
	if config.FileSys == nil {
		config.FileSys = afero.NewOsFs()
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return &WAVFile{
		config: config,
		log:    log.With().Str("component", "wav").Str("path", config.Path).Logger(),
	}
}

// Load decodes the file into memory and returns its sample rate.
// Multi-channel files are reduced to their first channel.
func (w *WAVFile) Load() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadLocked()
}

func (w *WAVFile) loadLocked() (int, error) {
	if w.samples != nil {
		return w.sampleRate, nil
	}

	f, err := w.config.FileSys.Open(w.config.Path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidWAV, w.config.Path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("decode wav: %w", err)
	}

	w.samples = toMono16(buf, int(dec.BitDepth))
	w.sampleRate = int(dec.SampleRate)
	if silence := w.config.TrailingSilence; silence > 0 {
		n := int(int64(w.sampleRate) * int64(silence) / int64(time.Second))
		w.samples = append(w.samples, make([]int16, n)...)
	}

	w.log.Debug().
		Int("sample_rate", w.sampleRate).
		Int("channels", int(dec.NumChans)).
		Int("bit_depth", int(dec.BitDepth)).
		Int("samples", len(w.samples)).
		Msg("wav loaded")
	return w.sampleRate, nil
}

// toMono16 keeps the first channel and rescales to 16 bits.
func toMono16(buf *audio.IntBuffer, bitDepth int) []int16 {
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		channels = buf.Format.NumChannels
	}

	out := make([]int16, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		s := buf.Data[i]
		switch {
		case bitDepth > 16:
			s >>= uint(bitDepth - 16)
		case bitDepth == 8:
			// 8-bit WAV is unsigned
			s = (s - 128) << 8
		}
		out = append(out, int16(s))
	}
	return out
}

// SampleRate returns the rate of the loaded file, or 0 before Load.
func (w *WAVFile) SampleRate() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sampleRate
}

func (w *WAVFile) OnFrame(fn func([]byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fn = fn
}

// Start loads the file if needed and begins delivering frames.
func (w *WAVFile) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		return errors.New("wav: already started")
	}
	if _, err := w.loadLocked(); err != nil {
		return err
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.play(w.fn, w.stop, w.done)
	return nil
}

// Stop halts delivery. It does not wait for the playback goroutine.
func (w *WAVFile) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop == nil {
		return nil
	}
	close(w.stop)
	w.stop = nil
	return nil
}

// Done is closed when playback reaches the end of the file or is stopped.
// It returns nil before the first Start.
func (w *WAVFile) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *WAVFile) play(fn func([]byte), stop, done chan struct{}) {
	defer close(done)

	n := w.config.FramesPerBuffer
	var tick <-chan time.Time
	if w.config.Realtime {
		ticker := time.NewTicker(FrameDuration(n, w.sampleRate))
		defer ticker.Stop()
		tick = ticker.C
	}

	frames := 0
	for off := 0; off < len(w.samples); off += n {
		select {
		case <-stop:
			w.log.Debug().Int("frames", frames).Msg("playback stopped")
			return
		default:
		}

		end := off + n
		if end > len(w.samples) {
			end = len(w.samples)
		}
		if fn != nil {
			fn(Int16ToBytes(w.samples[off:end]))
		}
		frames++

		if tick != nil {
			select {
			case <-tick:
			case <-stop:
				return
			}
		}
	}
	w.log.Info().Int("frames", frames).Msg("playback finished")
}
