// Package segment recovers records from heading-delimited markdown when a
// model response carries no usable JSON.
package segment

import (
	"regexp"
	"strings"
)

// DefaultHeading starts a new block.
const DefaultHeading = "## "

// Term is one labelled field of a block.
type Term struct {
	// Field is the key the extracted value is stored under.
	Field string
	// Labels are the label spellings that introduce the field.
	Labels []string
	// Sequence fields hold numbered items and are re-flowed.
	Sequence bool
	// Line fields are single-line values; stray '*' emphasis is removed.
	Line bool
}

// Vocabulary describes the block layout of one record family.
type Vocabulary struct {
	Heading  string
	ID       Term
	Terms    []Term
	IDPrefix string
}

type compiledTerm struct {
	Term
	bold []*regexp.Regexp
	bare []string
}

// Parser is safe for concurrent use once built.
type Parser struct {
	heading  string
	idPrefix string
	reflow   ReflowMode
	id       compiledTerm
	terms    []compiledTerm
}

// New compiles a parser for the vocabulary.
func New(v Vocabulary, mode ReflowMode) *Parser {
	heading := v.Heading
	if heading == "" {
		heading = DefaultHeading
	}
	p := &Parser{
		heading:  heading,
		idPrefix: v.IDPrefix,
		reflow:   mode,
		id:       compile(v.ID),
	}
	for _, t := range v.Terms {
		p.terms = append(p.terms, compile(t))
	}
	return p
}

func compile(t Term) compiledTerm {
	ct := compiledTerm{Term: t}
	for _, label := range t.Labels {
		q := regexp.QuoteMeta(label)
		ct.bold = append(ct.bold, regexp.MustCompile(`\*\*\s*`+q+`\s*(?:[:：]\s*)?\*\*`))
		ct.bare = append(ct.bare, label)
	}
	return ct
}

// label locates the label of t on line and returns its span, or -1, -1.
// Bare labels are only honoured when allowBare is set.
func (t compiledTerm) label(line string, allowBare bool) (int, int) {
	for _, re := range t.bold {
		if loc := re.FindStringIndex(line); loc != nil {
			return loc[0], loc[1]
		}
	}
	if allowBare {
		for _, label := range t.bare {
			if i := strings.Index(line, label); i >= 0 {
				return i, i + len(label)
			}
		}
	}
	return -1, -1
}

// Split partitions text into blocks. Each block starts with its heading
// text (marker removed). Text before the first heading is discarded and
// blank blocks are skipped.
func (p *Parser) Split(text string) []string {
	var (
		blocks  []string
		current []string
		open    bool
	)
	flush := func() {
		if open && strings.TrimSpace(strings.Join(current, "")) != "" {
			blocks = append(blocks, strings.Join(current, "\n"))
		}
		current = nil
	}
	marker := strings.TrimSpace(p.heading)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, p.heading) || trimmed == marker {
			flush()
			open = true
			current = []string{strings.TrimSpace(strings.TrimPrefix(trimmed, marker))}
			continue
		}
		if open {
			current = append(current, line)
		}
	}
	flush()
	return blocks
}

// Fields extracts the labelled values of one block. The second result is
// false when no identifier could be found.
func (p *Parser) Fields(block string) (map[string]string, bool) {
	lines := strings.Split(block, "\n")
	out := make(map[string]string)

	if v, ok := p.extract(lines, p.id, true); ok && v != "" {
		out[p.id.Field] = cleanLine(firstLine(v))
	}
	if out[p.id.Field] == "" {
		if id := p.prefixedToken(lines); id != "" {
			out[p.id.Field] = id
		} else {
			delete(out, p.id.Field)
		}
	}

	for _, t := range p.terms {
		v, ok := p.extract(lines, t, false)
		if !ok {
			continue
		}
		switch {
		case t.Sequence:
			v = NormalizeNumbered(v, p.reflow)
		case t.Line:
			v = cleanLine(v)
		}
		out[t.Field] = v
	}

	_, ok := out[p.id.Field]
	return out, ok
}

// Parse splits text and returns the fields of every block that has an
// identifier, in source order.
func (p *Parser) Parse(text string) []map[string]string {
	var out []map[string]string
	for _, block := range p.Split(text) {
		if fields, ok := p.Fields(block); ok {
			out = append(out, fields)
		}
	}
	return out
}

func (p *Parser) extract(lines []string, t compiledTerm, idTerm bool) (string, bool) {
	for i, line := range lines {
		start, end := t.label(line, idTerm && i == 0)
		if end < 0 {
			continue
		}
		var parts []string
		if first := afterColon(line, start, end); first != "" {
			parts = append(parts, first)
		}
		for _, next := range lines[i+1:] {
			if p.isLabelLine(next) {
				break
			}
			if s := strings.TrimSpace(next); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n"), true
	}
	return "", false
}

func (p *Parser) isLabelLine(line string) bool {
	if _, end := p.id.label(line, false); end >= 0 {
		return true
	}
	for _, t := range p.terms {
		if _, end := t.label(line, false); end >= 0 {
			return true
		}
	}
	return false
}

// afterColon returns the value following the label spanning
// line[start:end]: the text after the first ASCII or full-width colon,
// which may sit inside the bold marker itself.
func afterColon(line string, start, end int) string {
	rest := line[end:]
	if !strings.ContainsAny(line[start:end], ":：") {
		i := strings.IndexAny(rest, ":：")
		if i < 0 {
			return ""
		}
		rest = rest[i:]
		if strings.HasPrefix(rest, "：") {
			rest = rest[len("："):]
		} else {
			rest = rest[1:]
		}
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimPrefix(rest, "**")
	return strings.TrimSpace(rest)
}

func (p *Parser) prefixedToken(lines []string) string {
	if p.idPrefix == "" || len(lines) == 0 {
		return ""
	}
	search := func(line string) string {
		for _, word := range strings.Fields(line) {
			word = cleanLine(word)
			if strings.HasPrefix(word, p.idPrefix) {
				return word
			}
		}
		return ""
	}
	if id := search(lines[0]); id != "" {
		return id
	}
	for _, line := range lines[1:] {
		if id := search(line); id != "" {
			return id
		}
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// cleanLine drops bold markers and emphasis around the value; a lone "*"
// inside the text is kept.
func cleanLine(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.Trim(strings.TrimSpace(s), "*")
	return strings.Trim(strings.TrimSpace(s), ":：,，")
}
