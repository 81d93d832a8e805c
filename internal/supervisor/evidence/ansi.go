package evidence

import (
	"regexp"
	"strings"
)

// Terminal control sequences that agent CLIs emit around their text.
// CSI covers cursor movement and SGR styling, OSC covers title and
// hyperlink sequences, and the charset/keypad escapes cover the rest of
// what interactive tools commonly write.
var (
	csiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	oscPattern     = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
	escapePattern  = regexp.MustCompile(`\x1b[()#][0-9A-Za-z]|\x1b[=>NOZ78]`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// StripControlSequences removes ANSI/VT control sequences and stray
// control bytes from terminal output, leaving plain text with newlines.
// Carriage returns are treated as line rewrites: only the text after the
// last \r on each line survives, matching what a terminal would display.
func StripControlSequences(s string) string {
	s = csiPattern.ReplaceAllString(s, "")
	s = oscPattern.ReplaceAllString(s, "")
	s = escapePattern.ReplaceAllString(s, "")

	if strings.ContainsRune(s, '\r') {
		lines := strings.Split(s, "\n")
		for i, line := range lines {
			if idx := strings.LastIndexByte(line, '\r'); idx >= 0 {
				lines[i] = line[idx+1:]
			}
		}
		s = strings.Join(lines, "\n")
	}

	return controlPattern.ReplaceAllString(s, "")
}
