package comm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// 7-bit C1 ANSI escape sequences.
var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes 7-bit C1 terminal escape sequences from text captured on
// an interactive line.
func StripANSI(text string) string {
	return ansiEscape.ReplaceAllString(text, "")
}

// DecodeText converts raw channel bytes to text, replacing undecodable bytes
// instead of failing. Terminal noise (partial escape sequences, binary junk)
// is common on serial lines and not fatal to the caller.
func DecodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}

// ShellQuote wraps s in single quotes so that a POSIX shell passes it through
// verbatim.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
