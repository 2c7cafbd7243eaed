// Package sanitize normalizes user-supplied text before it enters the
// message log.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

// StripControlCharacters removes control characters from a string.
// Newlines and tabs survive: message content is allowed to be
// multi-line.
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}

// SanitizeHTML removes all HTML tags
func SanitizeHTML(input string) string {
	// Remove script tags
	scriptRegex := regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`)
	input = scriptRegex.ReplaceAllString(input, "")

	// Remove style tags
	styleRegex := regexp.MustCompile(`(?i)<style[^>]*>.*?</style>`)
	input = styleRegex.ReplaceAllString(input, "")

	// Remove other HTML tags
	htmlRegex := regexp.MustCompile(`<[^>]*>`)
	input = htmlRegex.ReplaceAllString(input, "")

	return input
}

// SanitizeFilename strips path traversal attempts and control
// characters from a client-supplied file name.
func SanitizeFilename(filename string) string {
	filename = strings.TrimSpace(filename)
	filename = strings.ReplaceAll(filename, "../", "")
	filename = strings.ReplaceAll(filename, "./", "")
	filename = strings.ReplaceAll(filename, "..\\", "")
	filename = strings.ReplaceAll(filename, ".\\", "")
	reg := regexp.MustCompile(`[\x00-\x1f\x7f]`)
	return reg.ReplaceAllString(filename, "")
}

// ValidateStringLength checks if string length is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	return len(input) >= minLen && len(input) <= maxLen
}
