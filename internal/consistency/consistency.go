// Package consistency checks batch-level invariants of a record
// collection. Findings are warnings; records are never dropped or changed.
package consistency

import (
	"fmt"
	"strings"

	"github.com/joelkehle/casegen/internal/schema"
)

// Warning codes.
const (
	CountMismatch   = "count_mismatch"
	DuplicateID     = "duplicate_id"
	SchemaViolation = "schema_violation"
	Reconstructed   = "reconstructed"
	Empty           = "empty"
	Uncovered       = "uncovered_requirement"
)

// Warning is one human-readable finding about a collection.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (w Warning) String() string { return w.Message }

// Check compares the record count against expected and looks for repeated
// identifiers. expected <= 0 disables the count check.
func Check(s *schema.Schema, records []schema.Record, expected int) []Warning {
	var out []Warning
	if expected > 0 && len(records) != expected {
		out = append(out, Warning{
			Code:    CountMismatch,
			Message: fmt.Sprintf("生成了 %d 条%s，但要求是 %d 条。", len(records), s.Title, expected),
		})
	}
	if dups := Duplicates(s, records); len(dups) > 0 {
		out = append(out, Warning{
			Code:    DuplicateID,
			Message: fmt.Sprintf("存在重复的%s：%s，请检查。", s.ID().Label, strings.Join(dups, "、")),
		})
	}
	return out
}

// Duplicates lists identifiers that occur more than once, in order of
// their first repeat.
func Duplicates(s *schema.Schema, records []schema.Record) []string {
	id := s.ID().Name
	seen := make(map[string]int, len(records))
	var dups []string
	for _, r := range records {
		v := r[id]
		seen[v]++
		if seen[v] == 2 {
			dups = append(dups, v)
		}
	}
	return dups
}

// Annotate appends warnings to rendered text as markdown quotes.
func Annotate(text string, warnings []Warning) string {
	if len(warnings) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))
	for _, w := range warnings {
		fmt.Fprintf(&b, "\n\n> ⚠️ **警告**: %s", w.Message)
	}
	b.WriteString("\n")
	return b.String()
}

// Messages returns the warning texts.
func Messages(warnings []Warning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Message)
	}
	return out
}
