package engine

import "strings"

// transcriptBuffer accumulates finalized fragments for the current capture
// plus the latest interim fragment for display. Owned by the event loop.
type transcriptBuffer struct {
	finals  []string
	interim string
}

func (b *transcriptBuffer) appendFinal(text string) {
	text = strings.TrimSpace(text)
	if text != "" {
		b.finals = append(b.finals, text)
	}
	b.interim = ""
}

func (b *transcriptBuffer) setInterim(text string) {
	b.interim = text
}

// text returns the finalized fragments joined with spaces. Interim text is
// display-only and never sent.
func (b *transcriptBuffer) text() string {
	return strings.Join(b.finals, " ")
}

// display returns the text the user should currently see, the finalized
// fragments followed by the live interim fragment.
func (b *transcriptBuffer) display() string {
	final := b.text()
	if b.interim == "" {
		return final
	}
	if final == "" {
		return b.interim
	}
	return final + " " + b.interim
}

func (b *transcriptBuffer) empty() bool {
	return len(b.finals) == 0
}

func (b *transcriptBuffer) clear() {
	b.finals = nil
	b.interim = ""
}
