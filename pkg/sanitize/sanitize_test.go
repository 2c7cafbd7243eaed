package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripControlCharacters(t *testing.T) {
	assert.Equal(t, "take meds", StripControlCharacters("take\x00 meds\x07"))
	assert.Equal(t, "line one\nline two", StripControlCharacters("line one\nline two"))
	assert.Equal(t, "dose:\t5mg", StripControlCharacters("dose:\t5mg"))
	assert.Equal(t, "[31m", StripControlCharacters("\x1b[31m"))
}

func TestSanitizeHTML(t *testing.T) {
	assert.Equal(t, "hello", SanitizeHTML("<script>alert(1)</script>hello"))
	assert.Equal(t, "hello", SanitizeHTML("<style>p{}</style>hello"))
	assert.Equal(t, "bold text", SanitizeHTML("<b>bold</b> text"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "etcpasswd", SanitizeFilename("../../etc\x00passwd"))
	assert.Equal(t, "scan.pdf", SanitizeFilename("  scan.pdf "))
}

func TestValidateStringLength(t *testing.T) {
	assert.True(t, ValidateStringLength("abc", 1, 5))
	assert.False(t, ValidateStringLength("", 1, 5))
	assert.False(t, ValidateStringLength("abcdef", 1, 5))
}
