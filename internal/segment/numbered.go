package segment

import (
	"regexp"
	"strings"
)

// ReflowMode controls what happens to text fragments that sit between
// numbered items without a number of their own.
type ReflowMode int

const (
	// ReflowInline folds unnumbered fragments into the preceding item so
	// every numbered item occupies exactly one line.
	ReflowInline ReflowMode = iota
	// ReflowPreserve keeps unnumbered fragments on their own lines, in
	// source order, directly after the item they follow.
	ReflowPreserve
)

func (m ReflowMode) String() string {
	switch m {
	case ReflowPreserve:
		return "preserve"
	default:
		return "inline"
	}
}

// ParseReflowMode accepts "inline" or "preserve"; anything else is inline.
func ParseReflowMode(s string) ReflowMode {
	if strings.EqualFold(strings.TrimSpace(s), "preserve") {
		return ReflowPreserve
	}
	return ReflowInline
}

var markerPattern = regexp.MustCompile(`(\d+)\.\s+`)

type marker struct {
	start int
	end   int
	num   string
}

// markers finds "N. " item markers. A digit run glued to an ASCII letter,
// digit or dot ("v1. ", "1.2. ") is part of the text, not a marker.
func markers(text string) []marker {
	var out []marker
	for _, m := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > 0 {
			prev := text[m[0]-1]
			if prev == '.' || (prev >= '0' && prev <= '9') || (prev >= 'a' && prev <= 'z') || (prev >= 'A' && prev <= 'Z') {
				continue
			}
		}
		out = append(out, marker{start: m[0], end: m[1], num: text[m[2]:m[3]]})
	}
	return out
}

// NormalizeNumbered re-flows inline "1. ... 2. ..." text so every numbered
// item starts its own line. Items are trimmed and blank lines dropped.
// Text without any marker is returned unchanged. The result is a fixed
// point: normalizing it again yields the same string.
func NormalizeNumbered(text string, mode ReflowMode) string {
	found := markers(text)
	if len(found) == 0 {
		return text
	}

	lines := fragments(text[:found[0].start])
	for i, m := range found {
		end := len(text)
		if i+1 < len(found) {
			end = found[i+1].start
		}
		body := fragments(text[m.end:end])
		head := m.num + "."
		switch {
		case len(body) == 0:
			lines = append(lines, head)
		case mode == ReflowPreserve:
			lines = append(lines, head+" "+body[0])
			lines = append(lines, body[1:]...)
		default:
			lines = append(lines, head+" "+strings.Join(body, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// fragments splits s into trimmed, non-empty lines.
func fragments(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}
