package engine

import "testing"

func TestTranscriptBuffer(t *testing.T) {
	t.Parallel()

	var b transcriptBuffer
	if !b.empty() {
		t.Fatal("fresh buffer not empty")
	}

	b.setInterim("ninety")
	if b.display() != "ninety" {
		t.Errorf("display = %q", b.display())
	}
	if !b.empty() {
		t.Error("interim-only buffer should count as empty")
	}

	b.appendFinal("ninety percent")
	b.setInterim("pass")
	if got := b.display(); got != "ninety percent pass" {
		t.Errorf("display = %q", got)
	}
	if got := b.text(); got != "ninety percent" {
		t.Errorf("text = %q, interim must not be sent", got)
	}

	b.appendFinal("pass accuracy")
	if got := b.text(); got != "ninety percent pass accuracy" {
		t.Errorf("text = %q", got)
	}

	b.appendFinal("   ")
	if got := b.text(); got != "ninety percent pass accuracy" {
		t.Errorf("blank final mutated buffer: %q", got)
	}

	b.clear()
	if !b.empty() || b.display() != "" {
		t.Error("clear did not empty the buffer")
	}
}
