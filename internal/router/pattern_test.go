package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Match(t *testing.T) {
	tests := []struct {
		name     string
		template string
		input    string
		want     map[string]string
		ok       bool
	}{
		{
			name:     "single placeholder",
			template: "set a timer for {minutes} minutes",
			input:    "set a timer for 10 minutes",
			want:     map[string]string{"minutes": "10"},
			ok:       true,
		},
		{
			name:     "placeholder captures several words",
			template: "play {song}",
			input:    "play the long and winding road",
			want:     map[string]string{"song": "the long and winding road"},
			ok:       true,
		},
		{
			name:     "runs of whitespace",
			template: "what time is it",
			input:    "what   time \t is   it",
			want:     map[string]string{},
			ok:       true,
		},
		{
			name:     "surrounding whitespace in input",
			template: "what time is it",
			input:    "  what time is it \n",
			want:     map[string]string{},
			ok:       true,
		},
		{
			name:     "case insensitive literals",
			template: "what time is it",
			input:    "What Time Is It",
			want:     map[string]string{},
			ok:       true,
		},
		{
			name:     "captured text keeps its case",
			template: "say {text}",
			input:    "say Hello World",
			want:     map[string]string{"text": "Hello World"},
			ok:       true,
		},
		{
			name:     "whole utterance must match",
			template: "what time is it",
			input:    "tell me what time is it",
			ok:       false,
		},
		{
			name:     "trailing words rejected",
			template: "what time is it",
			input:    "what time is it now",
			ok:       false,
		},
		{
			name:     "placeholder needs at least one character",
			template: "set a timer for {minutes} minutes",
			input:    "set a timer for  minutes",
			ok:       false,
		},
		{
			name:     "literal words are not optional",
			template: "set a timer for {minutes} minutes",
			input:    "set a timer for 10",
			ok:       false,
		},
		{
			name:     "regex metacharacters are literal",
			template: "what is 2+2?",
			input:    "what is 2+2?",
			want:     map[string]string{},
			ok:       true,
		},
		{
			name:     "metacharacters do not act as operators",
			template: "what is 2+2?",
			input:    "what is 22",
			ok:       false,
		},
		{
			name:     "dots are literal",
			template: "open {site}.com",
			input:    "open example.com",
			want:     map[string]string{"site": "example"},
			ok:       true,
		},
		{
			name:     "adjacent placeholders",
			template: "{a}{b}",
			input:    "xyz",
			want:     map[string]string{"a": "x", "b": "yz"},
			ok:       true,
		},
		{
			name:     "repeated name keeps last capture",
			template: "{drink} or {drink}",
			input:    "tea or coffee",
			want:     map[string]string{"drink": "coffee"},
			ok:       true,
		},
		{
			name:     "template edge spaces ignored",
			template: "  good morning  ",
			input:    "good morning",
			want:     map[string]string{},
			ok:       true,
		},
		{
			name:     "empty template matches empty utterance",
			template: "",
			input:    "",
			want:     map[string]string{},
			ok:       true,
		},
		{
			name:     "empty template rejects words",
			template: "",
			input:    "hello",
			ok:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.template)
			require.NoError(t, err)

			got, ok := p.Match(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestCompile_Malformed(t *testing.T) {
	tests := []struct {
		template string
		offset   int
		reason   string
	}{
		{"set a timer for {minutes", 16, "never closed"},
		{"say {}", 4, "no name"},
		{"say {   }", 4, "no name"},
		{"say {a{b}", 4, "contains"},
		{"  {", 2, "never closed"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			p, err := Compile(tt.template)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, ErrMalformedTemplate))

			var mt *MalformedTemplateError
			require.True(t, errors.As(err, &mt))
			assert.Equal(t, tt.template, mt.Template)
			assert.Equal(t, tt.offset, mt.Offset)
			assert.Contains(t, mt.Reason, tt.reason)
			assert.Contains(t, err.Error(), tt.template)
		})
	}
}

func TestCompile_StrayClosingBraceIsLiteral(t *testing.T) {
	p, err := Compile("smile }")
	require.NoError(t, err)

	_, ok := p.Match("smile }")
	assert.True(t, ok)
}

func TestPattern_Names(t *testing.T) {
	p := MustCompile("move {piece} from { from } to {to}")
	assert.Equal(t, []string{"piece", "from", "to"}, p.Names())

	names := p.Names()
	names[0] = "changed"
	assert.Equal(t, "piece", p.Names()[0])

	assert.Equal(t, "move {piece} from { from } to {to}", p.Template())
	assert.Contains(t, p.String(), "(?i)")
}

func TestPattern_CapturedCount(t *testing.T) {
	p := MustCompile("{x} and {x}")
	slots, captured, ok := p.match("tea and coffee")
	require.True(t, ok)
	assert.Equal(t, "coffee", slots["x"])
	assert.Equal(t, 9, captured)

	_, captured, ok = MustCompile("play {song}").match("play héllo")
	require.True(t, ok)
	assert.Equal(t, 5, captured, "counts characters, not bytes")
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("say {") })
}
