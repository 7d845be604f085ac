// Package audio provides the audio inputs of the listener: the default
// microphone through PortAudio and WAV file replay. Both deliver 16-bit
// little-endian mono PCM frames.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// DefaultSampleRate is the rate most recognizers expect.
	DefaultSampleRate = 16000

	// DefaultFramesPerBuffer is the number of samples per delivered frame.
	DefaultFramesPerBuffer = 2048
)

// Int16ToBytes encodes samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian PCM. A trailing odd byte is ignored.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// FrameDuration returns how much audio a frame of n samples holds.
func FrameDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
