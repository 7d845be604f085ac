package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, fs afero.Fs, path string, rate, bitDepth, channels int, data []int) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, bitDepth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())
}

type frameCollector struct {
	mu     sync.Mutex
	frames [][]int16
}

func (c *frameCollector) add(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, BytesToInt16(b))
}

func (c *frameCollector) samples() []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int16
	for _, f := range c.frames {
		out = append(out, f...)
	}
	return out
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestPCMRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	data := Int16ToBytes(samples)
	assert.Len(t, data, 12)
	assert.Equal(t, []byte{0xff, 0xff}, data[4:6], "little endian -1")
	assert.Equal(t, samples, BytesToInt16(data))
	assert.Len(t, BytesToInt16([]byte{1, 2, 3}), 1)
}

func TestFrameDuration(t *testing.T) {
	assert.Equal(t, 128*time.Millisecond, FrameDuration(2048, 16000))
	assert.Equal(t, time.Duration(0), FrameDuration(2048, 0))
}

func TestWAVFile_Replay(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := make([]int, 10)
	for i := range data {
		data[i] = i * 100
	}
	writeWAV(t, fs, "/clips/ok-pi.wav", 16000, 16, 1, data)

	in := NewWAVFile(WAVConfig{FileSys: fs, Path: "/clips/ok-pi.wav", FramesPerBuffer: 4})
	got := &frameCollector{}
	in.OnFrame(got.add)

	require.NoError(t, in.Start())
	select {
	case <-in.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish")
	}
	require.NoError(t, in.Stop())

	assert.Equal(t, 16000, in.SampleRate())
	assert.Equal(t, 3, got.count(), "4 + 4 + 2 samples")
	want := make([]int16, len(data))
	for i, v := range data {
		want[i] = int16(v)
	}
	assert.Equal(t, want, got.samples())
}

func TestWAVFile_StereoAndTrailingSilence(t *testing.T) {
	fs := afero.NewMemMapFs()
	// left channel carries the signal
	writeWAV(t, fs, "stereo.wav", 8000, 16, 2, []int{10, -1, 20, -1, 30, -1})

	in := NewWAVFile(WAVConfig{
		FileSys:         fs,
		Path:            "stereo.wav",
		FramesPerBuffer: 100,
		TrailingSilence: time.Millisecond,
	})
	rate, err := in.Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)

	got := &frameCollector{}
	in.OnFrame(got.add)
	require.NoError(t, in.Start())
	<-in.Done()

	samples := got.samples()
	require.Len(t, samples, 3+8)
	assert.Equal(t, []int16{10, 20, 30}, samples[:3])
	assert.Equal(t, make([]int16, 8), samples[3:])
}

func TestWAVFile_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()

	in := NewWAVFile(WAVConfig{FileSys: fs, Path: "missing.wav"})
	assert.Error(t, in.Start())
	assert.Nil(t, in.Done())

	require.NoError(t, afero.WriteFile(fs, "notes.txt", []byte("definitely not audio"), 0o644))
	in = NewWAVFile(WAVConfig{FileSys: fs, Path: "notes.txt"})
	_, err := in.Load()
	assert.ErrorIs(t, err, ErrInvalidWAV)
}

func TestWAVFile_StopEarly(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeWAV(t, fs, "long.wav", 16000, 16, 1, make([]int, 16000))

	in := NewWAVFile(WAVConfig{FileSys: fs, Path: "long.wav", FramesPerBuffer: 160, Realtime: true})
	got := &frameCollector{}
	in.OnFrame(got.add)

	require.NoError(t, in.Start())
	assert.Error(t, in.Start(), "already started")
	require.Eventually(t, func() bool { return got.count() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, in.Stop())
	require.NoError(t, in.Stop())

	select {
	case <-in.Done():
	case <-time.After(time.Second):
		t.Fatal("playback goroutine did not exit")
	}
	assert.Less(t, got.count(), 100)
}

func TestToMono16_BitDepths(t *testing.T) {
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1}, Data: []int{0, 255, 128}}
	assert.Equal(t, []int16{-32768, 32512, 0}, toMono16(buf, 8))

	buf = &audio.IntBuffer{Format: &audio.Format{NumChannels: 1}, Data: []int{1 << 20, -(1 << 20)}}
	assert.Equal(t, []int16{1 << 12, -(1 << 12)}, toMono16(buf, 24))
}
