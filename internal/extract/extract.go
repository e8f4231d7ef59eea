// Package extract locates a JSON object or array embedded in model output.
//
// Each strategy reports (value, true) on success and (nil, false) on a
// miss. A miss is an ordinary outcome; none of them return errors.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Strategy is one extraction tier.
type Strategy struct {
	Name string
	Func func(text string) (any, bool)
}

// Tier names, in the order Default tries them.
const (
	TierFenced   = "json-fenced"
	TierWhole    = "json-whole"
	TierLoose    = "json-loose"
	TierBalanced = "json-balanced"
	TierRepaired = "json-repaired"
)

// Default is the strict-to-lenient order used by the recovery pipeline.
var Default = []Strategy{
	{Name: TierFenced, Func: Fenced},
	{Name: TierWhole, Func: Whole},
	{Name: TierLoose, Func: Loose},
	{Name: TierBalanced, Func: Balanced},
	{Name: TierRepaired, Func: Repaired},
}

// First returns the value of the first strategy that succeeds and its name.
func First(text string, strategies ...Strategy) (any, string, bool) {
	if len(strategies) == 0 {
		strategies = Default
	}
	for _, s := range strategies {
		if v, ok := s.Func(text); ok {
			return v, s.Name, true
		}
	}
	return nil, "", false
}

// Parse decodes s as a single JSON object or array. Numbers are kept as
// json.Number. Scalars and trailing data are rejected.
func Parse(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if strings.TrimSpace(s[dec.InputOffset():]) != "" {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

var fenceOpener = regexp.MustCompile("(?i)```[ \t]*json[ \t]*\r?\n?")

// fencedBody returns the text after a ```json opener up to the next fence.
// closed is false when the closer is missing.
func fencedBody(text string) (body string, closed, found bool) {
	loc := fenceOpener.FindStringIndex(text)
	if loc == nil {
		return "", false, false
	}
	rest := text[loc[1]:]
	if end := strings.Index(rest, "```"); end >= 0 {
		return rest[:end], true, true
	}
	return rest, false, true
}

// Fenced parses the body of the first ```json fenced block. A block whose
// content does not parse is a miss; later tiers decide what to do with it.
func Fenced(text string) (any, bool) {
	body, closed, found := fencedBody(text)
	if !found || !closed {
		return nil, false
	}
	return Parse(strings.TrimSpace(body))
}

// Whole parses the trimmed text as a whole.
func Whole(text string) (any, bool) {
	return Parse(strings.TrimSpace(text))
}

// Loose parses the span from the first opening brace (or bracket) to the
// last matching closer, tolerating narration around the payload. The kind
// that opens first is tried first.
func Loose(text string) (any, bool) {
	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')
	spans := [][2]byte{{'{', '}'}, {'[', ']'}}
	if arr >= 0 && (obj < 0 || arr < obj) {
		spans[0], spans[1] = spans[1], spans[0]
	}
	for _, p := range spans {
		start := strings.IndexByte(text, p[0])
		end := strings.LastIndexByte(text, p[1])
		if start < 0 || end <= start {
			continue
		}
		if v, ok := Parse(text[start : end+1]); ok {
			return v, true
		}
	}
	return nil, false
}

// Balanced scans left to right for balanced {...} or [...] spans, honouring
// string literals, and returns the first one that parses.
func Balanced(text string) (any, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		span, ok := balancedFrom(text, i)
		if !ok {
			continue
		}
		if v, ok := Parse(span); ok {
			return v, true
		}
	}
	return nil, false
}

func balancedFrom(s string, start int) (string, bool) {
	stack := make([]byte, 0, 8)
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Repaired runs jsonrepair over the fenced body (closed or not) or else
// over everything from the first opening brace or bracket. It fixes the
// usual model slips: trailing commas, single quotes, unquoted keys, comments
// and truncated output.
func Repaired(text string) (any, bool) {
	candidate := ""
	if body, _, found := fencedBody(text); found {
		candidate = body
	} else if i := strings.IndexAny(text, "{["); i >= 0 {
		candidate = text[i:]
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, false
	}
	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, false
	}
	return Parse(fixed)
}
