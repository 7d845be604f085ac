package skill

// Intent is the result of matching one utterance against one template.
// It is created per match and never modified afterwards.
type Intent struct {
	skill    Skill
	template string
	text     string
	slots    map[string]string
}

// NewIntent builds an intent. The slots map is copied.
func NewIntent(target Skill, template, text string, slots map[string]string) Intent {
	cp := make(map[string]string, len(slots))
	for k, v := range slots {
		cp[k] = v
	}
	return Intent{
		skill:    target,
		template: template,
		text:     text,
		slots:    cp,
	}
}

// Skill returns the skill this intent targets.
func (i Intent) Skill() Skill { return i.skill }

// Template returns the phrase template that matched.
func (i Intent) Template() string { return i.template }

// Text returns the utterance as it was heard.
func (i Intent) Text() string { return i.text }

// Slot returns the raw text captured for a placeholder.
func (i Intent) Slot(name string) (string, bool) {
	v, ok := i.slots[name]
	return v, ok
}

// Slots returns a copy of all captured placeholder values.
func (i Intent) Slots() map[string]string {
	cp := make(map[string]string, len(i.slots))
	for k, v := range i.slots {
		cp[k] = v
	}
	return cp
}

// Len returns the number of captured placeholders.
func (i Intent) Len() int { return len(i.slots) }
