// Package recovery turns one complete model response into a validated,
// warning-annotated record collection. It tries the JSON extraction tiers
// in order, then the segmenting parser, then an optional caller supplied
// reconstruction, and finally runs the consistency checks.
package recovery

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/joelkehle/casegen/internal/consistency"
	"github.com/joelkehle/casegen/internal/extract"
	"github.com/joelkehle/casegen/internal/schema"
	"github.com/joelkehle/casegen/internal/segment"
)

// Source tiers beyond the JSON ones defined in package extract.
const (
	TierSegmented     = "segmented"
	TierReconstructed = "reconstructed"
	TierNone          = "none"
)

// Reconstructor builds minimal raw records when nothing else worked.
type Reconstructor func(text string) []map[string]any

// Options configures a Pipeline.
type Options struct {
	Reflow      segment.ReflowMode
	Defaults    map[string]string
	Strategies  []extract.Strategy
	Reconstruct Reconstructor
	Logger      *zap.Logger
}

// Collection is the outcome of one recovery.
type Collection struct {
	Schema   *schema.Schema        `json:"-"`
	Records  []schema.Record       `json:"records"`
	Expected int                   `json:"expected,omitempty"`
	Source   string                `json:"source"`
	Warnings []consistency.Warning `json:"warnings,omitempty"`
}

// Empty reports whether no record was recovered.
func (c Collection) Empty() bool { return len(c.Records) == 0 }

// IDs returns the record identifiers in order.
func (c Collection) IDs() []string {
	if c.Schema == nil {
		return nil
	}
	id := c.Schema.ID().Name
	out := make([]string, 0, len(c.Records))
	for _, r := range c.Records {
		out = append(out, r[id])
	}
	return out
}

// Pipeline holds the compiled parser and coercer for one schema. It keeps
// no per-call state and may be shared.
type Pipeline struct {
	schema      *schema.Schema
	coercer     *schema.Coercer
	parser      *segment.Parser
	strategies  []extract.Strategy
	reconstruct Reconstructor
	logger      *zap.Logger
}

// New builds a pipeline for s.
func New(s *schema.Schema, opts Options) (*Pipeline, error) {
	coercer, err := schema.NewCoercer(s, schema.WithReflow(opts.Reflow), schema.WithDefaults(opts.Defaults))
	if err != nil {
		return nil, err
	}
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = extract.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		schema:      s,
		coercer:     coercer,
		parser:      s.Parser(opts.Reflow),
		strategies:  strategies,
		reconstruct: opts.Reconstruct,
		logger:      logger.With(zap.String("schema", s.Name)),
	}, nil
}

// Schema returns the pipeline schema.
func (p *Pipeline) Schema() *schema.Schema { return p.schema }

// Recover extracts records from text. expected <= 0 skips the count check.
// A total miss yields an empty collection with source "none".
func (p *Pipeline) Recover(text string, expected int) Collection {
	var warnings []consistency.Warning

	for _, st := range p.strategies {
		v, ok := st.Func(text)
		if !ok {
			continue
		}
		items, ok := Locate(p.schema, v)
		if !ok {
			p.logger.Debug("json found without records", zap.String("tier", st.Name))
			continue
		}
		before := warnings
		recs, violations := p.coercer.Records(items)
		warnings = p.addViolations(warnings, violations)
		if len(recs) == 0 {
			continue
		}
		if fragment(st.Name) {
			// A span cut out of prose may be a snippet quoted inside a
			// labelled block; the blocks win unless the JSON has more.
			segWarnings := append([]consistency.Warning(nil), before...)
			if seg := p.segmented(text, &segWarnings); len(seg) >= len(recs) {
				p.logger.Debug("segmented blocks preferred over json fragment",
					zap.String("tier", st.Name), zap.Int("json_records", len(recs)), zap.Int("blocks", len(seg)))
				return p.finish(seg, expected, TierSegmented, segWarnings)
			}
		}
		return p.finish(recs, expected, st.Name, warnings)
	}

	if recs := p.segmented(text, &warnings); len(recs) > 0 {
		return p.finish(recs, expected, TierSegmented, warnings)
	}

	if p.reconstruct != nil {
		items := make([]any, 0)
		for _, raw := range p.reconstruct(text) {
			items = append(items, raw)
		}
		recs, violations := p.coercer.Records(items)
		warnings = p.addViolations(warnings, violations)
		if len(recs) > 0 {
			warnings = append(warnings, consistency.Warning{
				Code:    consistency.Reconstructed,
				Message: fmt.Sprintf("无法解析模型回复，已生成 %d 条基础%s。", len(recs), p.schema.Title),
			})
			return p.finish(recs, expected, TierReconstructed, warnings)
		}
	}

	warnings = append(warnings, consistency.Warning{
		Code:    consistency.Empty,
		Message: fmt.Sprintf("未能从回复中解析出任何%s。", p.schema.Title),
	})
	p.logger.Warn("nothing recovered", zap.Int("text_len", len(text)))
	return Collection{Schema: p.schema, Expected: expected, Source: TierNone, Warnings: warnings}
}

// fragment reports whether a tier reads a span out of surrounding text
// rather than the whole or fenced payload.
func fragment(tier string) bool {
	switch tier {
	case extract.TierLoose, extract.TierBalanced, extract.TierRepaired:
		return true
	}
	return false
}

func (p *Pipeline) segmented(text string, warnings *[]consistency.Warning) []schema.Record {
	blocks := p.parser.Parse(text)
	items := make([]any, 0, len(blocks))
	for _, fields := range blocks {
		items = append(items, schema.FromFields(fields))
	}
	recs, violations := p.coercer.Records(items)
	*warnings = p.addViolations(*warnings, violations)
	return recs
}

func (p *Pipeline) finish(recs []schema.Record, expected int, source string, warnings []consistency.Warning) Collection {
	warnings = append(warnings, consistency.Check(p.schema, recs, expected)...)
	p.logger.Debug("recovered records",
		zap.String("tier", source),
		zap.Int("records", len(recs)),
		zap.Int("expected", expected),
		zap.Int("warnings", len(warnings)),
	)
	return Collection{Schema: p.schema, Records: recs, Expected: expected, Source: source, Warnings: warnings}
}

// addViolations records rejected items once each; a later tier may see
// the same payload again.
func (p *Pipeline) addViolations(warnings []consistency.Warning, violations []*schema.ViolationError) []consistency.Warning {
	for _, v := range violations {
		msg := p.violationMessage(v)
		dup := false
		for _, w := range warnings {
			if w.Message == msg {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		p.logger.Warn("record rejected", zap.Int("index", v.Index), zap.String("id", v.ID), zap.Strings("reasons", v.Reasons))
		warnings = append(warnings, consistency.Warning{Code: consistency.SchemaViolation, Message: msg})
	}
	return warnings
}

// violationMessage describes a rejected item by position, identifier and
// the labels of the fields at fault.
func (p *Pipeline) violationMessage(v *schema.ViolationError) string {
	who := fmt.Sprintf("第 %d 条%s", v.Index+1, p.schema.Title)
	if v.ID != "" {
		who += "（" + v.ID + "）"
	}
	if len(v.Fields) == 0 {
		return "已丢弃" + who + "：不是有效的记录。"
	}
	labels := make([]string, 0, len(v.Fields))
	for _, name := range v.Fields {
		f, _ := p.schema.Field(name)
		if f.Label != "" {
			name = f.Label
		}
		labels = append(labels, name)
	}
	return "已丢弃" + who + "：字段 " + strings.Join(labels, "、") + " 格式不正确。"
}

// Locate finds the record list inside a decoded JSON value: a collection
// key of s, a top-level array, a single record carrying an identifier and
// another required field, or
// the first list of objects under any key (keys in sorted order).
func Locate(s *schema.Schema, v any) ([]any, bool) {
	return locate(s, v, 0)
}

func locate(s *schema.Schema, v any, depth int) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		if hasObject(t) {
			return t, true
		}
		return nil, false
	case map[string]any:
		for _, key := range s.CollectionKeys {
			inner, ok := lookup(t, key)
			if !ok {
				continue
			}
			if list, ok := inner.([]any); ok {
				return list, true
			}
			if depth == 0 {
				if list, ok := locate(s, inner, depth+1); ok {
					return list, true
				}
			}
		}
		if isRecord(s, t) {
			return []any{t}, true
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if list, ok := t[k].([]any); ok && hasObject(list) {
				return list, true
			}
		}
	}
	return nil, false
}

// isRecord reports whether m carries the identifier and at least one other
// required field, so a stray {"id": 7} is not taken for a record.
func isRecord(s *schema.Schema, m map[string]any) bool {
	id := s.ID()
	has := func(f schema.Field) bool {
		for _, key := range f.Keys() {
			if _, ok := lookup(m, key); ok {
				return true
			}
		}
		return false
	}
	if !has(id) {
		return false
	}
	for _, f := range s.Fields {
		if f.Required && f.Name != id.Name && has(f) {
			return true
		}
	}
	return false
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	want := schema.NormalizeKey(key)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if schema.NormalizeKey(k) == want {
			return m[k], true
		}
	}
	return nil, false
}

func hasObject(list []any) bool {
	for _, item := range list {
		if _, ok := item.(map[string]any); ok {
			return true
		}
	}
	return false
}
