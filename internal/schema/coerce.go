package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/joelkehle/casegen/internal/segment"
)

// ViolationError reports why one raw record was rejected.
type ViolationError struct {
	Index   int
	ID      string
	Reasons []string
	// Fields names the canonical fields at fault, when known.
	Fields []string
}

func (e *ViolationError) Error() string {
	who := fmt.Sprintf("record %d", e.Index+1)
	if e.ID != "" {
		who += fmt.Sprintf(" (%s)", e.ID)
	}
	return who + ": " + strings.Join(e.Reasons, "; ")
}

// Coercer turns raw mappings into canonical records of one schema.
type Coercer struct {
	schema   *Schema
	reflow   segment.ReflowMode
	defaults map[string]string
	shape    *gojsonschema.Schema
}

// CoercerOption configures a Coercer.
type CoercerOption func(*Coercer)

// WithReflow selects how numbered sequence fields are re-flowed.
func WithReflow(mode segment.ReflowMode) CoercerOption {
	return func(c *Coercer) { c.reflow = mode }
}

// WithDefaults supplies fallback values for required fields, used before
// the sentinel.
func WithDefaults(defaults map[string]string) CoercerOption {
	return func(c *Coercer) {
		for k, v := range defaults {
			if strings.TrimSpace(v) != "" {
				c.defaults[k] = v
			}
		}
	}
}

// NewCoercer compiles the shape constraints of s.
func NewCoercer(s *Schema, opts ...CoercerOption) (*Coercer, error) {
	shape, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(shapeOf(s)))
	if err != nil {
		return nil, fmt.Errorf("compile %s shape: %w", s.Name, err)
	}
	c := &Coercer{schema: s, defaults: map[string]string{}, shape: shape}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Schema returns the schema the coercer was built for.
func (c *Coercer) Schema() *Schema { return c.schema }

var scalar = []string{"string", "number", "integer", "boolean", "null"}

// shapeOf renders the JSON Schema every canonicalised mapping must satisfy.
func shapeOf(s *Schema) map[string]any {
	props := map[string]any{}
	for _, f := range s.Fields {
		switch {
		case f.Line || f.Kind == Integer:
			props[f.Name] = map[string]any{"type": scalar}
		default:
			props[f.Name] = map[string]any{
				"anyOf": []any{
					map[string]any{"type": scalar},
					map[string]any{"type": "array", "items": map[string]any{"type": scalar}},
				},
			}
		}
	}
	return map[string]any{
		"type":          "object",
		"properties":    props,
		"minProperties": 1,
	}
}

// canonical resolves aliased keys onto canonical field names. For every
// field the first matching key in Field.Keys order wins. Unknown keys are
// dropped.
func (c *Coercer) canonical(raw map[string]any) map[string]any {
	norm := make(map[string]any, len(raw))
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		nk := NormalizeKey(k)
		if _, taken := norm[nk]; !taken {
			norm[nk] = raw[k]
		}
	}

	out := make(map[string]any)
	for _, f := range c.schema.Fields {
		for _, key := range f.Keys() {
			if v, ok := norm[NormalizeKey(key)]; ok {
				out[f.Name] = v
				break
			}
		}
	}
	return out
}

// Validate checks the shape of raw without coercing it.
func (c *Coercer) Validate(raw map[string]any) error {
	canon := c.canonical(raw)
	v, err := c.violations(canon)
	if err != nil {
		return err
	}
	if v != nil {
		v.ID = scalarText(canon[c.schema.ID().Name])
		return v
	}
	return nil
}

func (c *Coercer) violations(canon map[string]any) (*ViolationError, error) {
	if len(canon) == 0 {
		return &ViolationError{Reasons: []string{"no recognised " + c.schema.Name + " fields"}}, nil
	}
	result, err := c.shape.Validate(gojsonschema.NewGoLoader(canon))
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", c.schema.Name, err)
	}
	if result.Valid() {
		return nil, nil
	}
	v := &ViolationError{}
	for _, e := range result.Errors() {
		v.Reasons = append(v.Reasons, e.String())
		field, _, _ := strings.Cut(e.Field(), ".")
		if _, ok := c.schema.Field(field); ok && !slices.Contains(v.Fields, field) {
			v.Fields = append(v.Fields, field)
		}
	}
	return v, nil
}

// Coerce converts one raw mapping into a canonical record. A mapping that
// fails the shape constraints is rejected with a *ViolationError.
func (c *Coercer) Coerce(raw map[string]any) (Record, error) {
	canon := c.canonical(raw)
	idText := strings.TrimSpace(scalarText(canon[c.schema.ID().Name]))

	v, err := c.violations(canon)
	if err != nil {
		return nil, err
	}
	if v != nil {
		v.ID = idText
		return nil, v
	}

	rec := make(Record, len(c.schema.Fields))
	for _, f := range c.schema.Fields {
		text, err := c.value(f, canon[f.Name])
		if err != nil {
			return nil, &ViolationError{ID: idText, Reasons: []string{err.Error()}, Fields: []string{f.Name}}
		}
		if text == "" {
			if !f.Required {
				continue
			}
			text = c.fallback(f)
		}
		rec[f.Name] = text
	}
	return rec, nil
}

// Records coerces a list of raw items. Items that are not mappings or that
// fail coercion are reported, in input order, and skipped.
func (c *Coercer) Records(items []any) ([]Record, []*ViolationError) {
	var (
		out        []Record
		violations []*ViolationError
	)
	for i, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			violations = append(violations, &ViolationError{Index: i, Reasons: []string{fmt.Sprintf("not an object (%T)", item)}})
			continue
		}
		rec, err := c.Coerce(raw)
		if err != nil {
			v, ok := err.(*ViolationError)
			if !ok {
				v = &ViolationError{Reasons: []string{err.Error()}}
			}
			v.Index = i
			violations = append(violations, v)
			continue
		}
		out = append(out, rec)
	}
	return out, violations
}

// FromFields lifts segmented block fields into a raw mapping.
func FromFields(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (c *Coercer) fallback(f Field) string {
	if v, ok := c.defaults[f.Name]; ok {
		return v
	}
	return Sentinel
}

var firstInt = regexp.MustCompile(`[+-]?\d+`)

func (c *Coercer) value(f Field, v any) (string, error) {
	switch f.Kind {
	case Integer:
		s := strings.TrimSpace(scalarText(v))
		if s == "" || s == Sentinel {
			return s, nil
		}
		if _, ok := v.(bool); ok {
			return "", fmt.Errorf("%s: boolean is not an integer", f.Name)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return strconv.FormatInt(n, 10), nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatInt(int64(n), 10), nil
		}
		if m := firstInt.FindString(s); m != "" {
			return strings.TrimPrefix(m, "+"), nil
		}
		return "", fmt.Errorf("%s: %q is not an integer", f.Name, s)
	case Sequence:
		text := listText(v, true)
		if text == "" {
			return "", nil
		}
		return segment.NormalizeNumbered(text, c.reflow), nil
	default:
		if f.Line {
			return strings.TrimSpace(scalarText(v)), nil
		}
		return listText(v, false), nil
	}
}

// listText flattens a scalar or a list of scalars into one line per item.
// numbered lists get "N. " markers on items that lack one.
func listText(v any, numbered bool) string {
	items, ok := v.([]any)
	if !ok {
		return strings.TrimSpace(scalarText(v))
	}
	var lines []string
	for _, item := range items {
		s := strings.TrimSpace(scalarText(item))
		if s == "" {
			continue
		}
		if numbered && !markerStart.MatchString(s) {
			s = fmt.Sprintf("%d. %s", len(lines)+1, s)
		}
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n")
}

var markerStart = regexp.MustCompile(`^\d+\.\s`)

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
