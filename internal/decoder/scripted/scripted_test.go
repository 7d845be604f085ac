package scripted

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTriggerDecoder(t *testing.T) *Decoder {
	t.Helper()
	d := New("")
	require.NoError(t, d.SetKeyphrase("trigger", "ok pi"))
	require.NoError(t, d.SetSearch("trigger"))
	require.NoError(t, d.StartSegment())
	return d
}

func TestNew_DefaultSearch(t *testing.T) {
	assert.Equal(t, DefaultSearch, New("").Search())
	assert.Equal(t, "grammar", New("grammar").Search())
}

func TestKeyphraseSearch(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"ok pi", "ok pi", true},
		{"OK  Pi", "ok pi", true},
		{"well ok pi there", "ok pi", true},
		{"what time is it", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d := newTriggerDecoder(t)
			require.NoError(t, d.ProcessFrame([]byte(tt.input)))
			got, ok := d.Hypothesis()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandSearch(t *testing.T) {
	d := New("")
	require.NoError(t, d.StartSegment())

	require.NoError(t, d.ProcessFrame([]byte("  what   time is it ")))
	require.NoError(t, d.ProcessFrame([]byte("   ")))
	require.NoError(t, d.ProcessFrame([]byte("say hello")))

	hyp, ok := d.Hypothesis()
	require.True(t, ok)
	assert.Equal(t, "what time is it", hyp)

	hyp, ok = d.Hypothesis()
	require.True(t, ok)
	assert.Equal(t, "say hello", hyp)

	_, ok = d.Hypothesis()
	assert.False(t, ok, "each hypothesis is delivered once")

	frames, segments := d.Stats()
	assert.Equal(t, 3, frames)
	assert.Equal(t, 1, segments)
}

func TestSegments(t *testing.T) {
	d := New("")

	assert.ErrorIs(t, d.ProcessFrame([]byte("hello")), ErrNoSegment)
	assert.ErrorIs(t, d.EndSegment(), ErrNoSegment)

	require.NoError(t, d.StartSegment())
	assert.ErrorIs(t, d.StartSegment(), ErrSegmentOpen)

	require.NoError(t, d.ProcessFrame([]byte("left over")))
	require.NoError(t, d.EndSegment())
	require.NoError(t, d.StartSegment())

	_, ok := d.Hypothesis()
	assert.False(t, ok, "a new segment discards old results")
}

func TestSetSearch(t *testing.T) {
	d := New("")

	assert.ErrorIs(t, d.SetSearch("missing"), ErrUnknownSearch)

	require.NoError(t, d.SetKeyphrase("trigger", "ok pi"))
	require.NoError(t, d.SetSearch("trigger"))
	assert.Equal(t, "trigger", d.Search())

	require.NoError(t, d.StartSegment())
	assert.ErrorIs(t, d.SetSearch(DefaultSearch), ErrSegmentOpen)
	require.NoError(t, d.EndSegment())
	require.NoError(t, d.SetSearch(DefaultSearch))
	assert.Equal(t, DefaultSearch, d.Search())
}

func TestSetKeyphrase_Validation(t *testing.T) {
	d := New("")
	assert.Error(t, d.SetKeyphrase("", "ok pi"))
	assert.Error(t, d.SetKeyphrase("trigger", "  "))
	assert.Error(t, d.SetKeyphrase(DefaultSearch, "ok pi"))
}

func TestSetKeyphrase_Replace(t *testing.T) {
	d := newTriggerDecoder(t)
	require.NoError(t, d.SetKeyphrase("trigger", "computer"))

	require.NoError(t, d.ProcessFrame([]byte("ok pi")))
	_, ok := d.Hypothesis()
	assert.False(t, ok)

	require.NoError(t, d.ProcessFrame([]byte("Computer")))
	hyp, ok := d.Hypothesis()
	assert.True(t, ok)
	assert.Equal(t, "computer", hyp)
}

func TestInput(t *testing.T) {
	in := NewInput()
	var got []string
	in.OnFrame(func(b []byte) { got = append(got, string(b)) })

	assert.ErrorIs(t, in.Say("too early"), ErrStopped)

	require.NoError(t, in.Start())
	require.NoError(t, in.Say("ok pi"))
	require.NoError(t, in.Stop())
	assert.ErrorIs(t, in.Say("too late"), ErrStopped)

	assert.Equal(t, []string{"ok pi"}, got)
}
