package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"br becomes newline", "first<br>second", "first\nsecond"},
		{"self-closing br", "first<br/>second", "first\nsecond"},
		{"paragraphs keep breaks", "<p>one</p><p>two</p>", "one\ntwo"},
		{"tags removed", "<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"entities decoded", "fish &amp; chips", "fish & chips"},
		{"list items dashed", "<ul><li>a</li><li>b</li></ul>", "- a\n- b"},
		{"empty input", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("short", 10))
	assert.Equal(t, "abc", Clip("abcdef", 3))
	// Runes, not bytes.
	assert.Equal(t, "при", Clip("привет", 3))
}

func TestEllipsize(t *testing.T) {
	assert.Equal(t, "fits", Ellipsize("fits", 10))

	out := Ellipsize("this text is definitely too long", 20)
	assert.LessOrEqual(t, len([]rune(out)), 20)
	assert.True(t, len(out) > 3)
	assert.Equal(t, "...", out[len(out)-3:])
}
