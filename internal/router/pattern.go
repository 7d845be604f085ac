package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	placeholderOpen  = '{'
	placeholderClose = '}'

	captureAny = `(.+?)`
	whitespace = `\s+`
)

// ErrMalformedTemplate matches any *MalformedTemplateError with errors.Is.
var ErrMalformedTemplate = errors.New("malformed template")

// MalformedTemplateError reports a template that cannot be compiled.
type MalformedTemplateError struct {
	Template string
	Offset   int // byte offset where the problem was detected
	Reason   string
}

func (e *MalformedTemplateError) Error() string {
	return fmt.Sprintf("malformed template %q at offset %d: %s", e.Template, e.Offset, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedTemplate) work.
func (e *MalformedTemplateError) Is(target error) bool {
	return target == ErrMalformedTemplate
}

// Pattern is a compiled phrase template. Placeholder names are kept in
// declaration order, aligned with the capture groups of the expression.
type Pattern struct {
	template string
	regex    *regexp.Regexp
	names    []string
}

// Compile turns a phrase template such as
//
//	set a timer for {minutes} minutes
//
// into a Pattern. Literal text is matched verbatim (case-insensitively),
// each space matches one or more whitespace characters and every {name}
// captures a non-empty run of text. The whole utterance must match.
//
// Adjacent placeholders ("{a}{b}") compile but are ambiguous: the first
// one captures as little as possible.
func Compile(template string) (*Pattern, error) {
	var (
		expr    strings.Builder
		literal strings.Builder
		names   []string
	)

	flush := func() {
		if literal.Len() > 0 {
			expr.WriteString(regexp.QuoteMeta(literal.String()))
			literal.Reset()
		}
	}

	body := strings.Trim(template, " ")
	offset := strings.Index(template, body)
	lastWasSpace := false

	for i := 0; i < len(body); i++ {
		c := body[i]

		switch c {
		case placeholderOpen:
			flush()
			expr.WriteString(captureAny)

			end := strings.IndexByte(body[i+1:], placeholderClose)
			if end < 0 {
				return nil, &MalformedTemplateError{
					Template: template,
					Offset:   offset + i,
					Reason:   "placeholder is never closed",
				}
			}
			raw := body[i+1 : i+1+end]
			if strings.IndexByte(raw, placeholderOpen) >= 0 {
				return nil, &MalformedTemplateError{
					Template: template,
					Offset:   offset + i,
					Reason:   "placeholder contains '{'",
				}
			}
			name := strings.TrimSpace(raw)
			if name == "" {
				return nil, &MalformedTemplateError{
					Template: template,
					Offset:   offset + i,
					Reason:   "placeholder has no name",
				}
			}
			names = append(names, name)
			i += end + 1
			lastWasSpace = false

		case ' ':
			if !lastWasSpace {
				flush()
				expr.WriteString(whitespace)
			}
			lastWasSpace = true

		default:
			literal.WriteByte(c)
			lastWasSpace = false
		}
	}
	flush()

	re, err := regexp.Compile(`(?i)^\s*` + expr.String() + `\s*$`)
	if err != nil {
		return nil, &MalformedTemplateError{Template: template, Reason: err.Error()}
	}

	return &Pattern{
		template: template,
		regex:    re,
		names:    names,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(template string) *Pattern {
	p, err := Compile(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Template returns the source template.
func (p *Pattern) Template() string { return p.template }

// Names returns the placeholder names in declaration order.
func (p *Pattern) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// String returns the compiled regular expression.
func (p *Pattern) String() string { return p.regex.String() }

// Match matches the entire text and returns the captured placeholder values.
// When a name occurs more than once the last capture wins.
func (p *Pattern) Match(text string) (map[string]string, bool) {
	slots, _, ok := p.match(text)
	return slots, ok
}

// match also reports how many characters were captured in total, counting
// every group even when a name repeats.
func (p *Pattern) match(text string) (map[string]string, int, bool) {
	groups := p.regex.FindStringSubmatch(text)
	if groups == nil {
		return nil, 0, false
	}

	captured := 0
	slots := make(map[string]string, len(p.names))
	for i, name := range p.names {
		slots[name] = groups[i+1]
		captured += utf8.RuneCountInString(groups[i+1])
	}
	return slots, captured, true
}
