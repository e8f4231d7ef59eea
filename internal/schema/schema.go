// Package schema maps loosely shaped model output onto canonical records.
package schema

import (
	"strings"

	"github.com/joelkehle/casegen/internal/segment"
)

// Sentinel fills required fields that could not be located.
const Sentinel = "未指定"

// Kind is how a field value is coerced.
type Kind int

const (
	// Text is free text. Lists are joined one item per line.
	Text Kind = iota
	// Sequence is numbered multi-line text ("1. ...\n2. ...").
	Sequence
	// Integer keeps the leading integer of the value.
	Integer
)

// Field describes one canonical field.
type Field struct {
	Name     string
	Label    string
	Aliases  []string
	Kind     Kind
	Required bool
	// Line fields must be scalars and are stripped of '*' emphasis.
	Line bool
}

// Keys lists every key that may carry the field, canonical name first.
func (f Field) Keys() []string {
	keys := []string{f.Name}
	if f.Label != "" {
		keys = append(keys, f.Label)
	}
	return append(keys, f.Aliases...)
}

// Schema is the field vocabulary of one record family.
type Schema struct {
	Name string
	// Title is the display name used in exports and warnings.
	Title string
	// CollectionKeys are the JSON envelope keys that hold the record list.
	// The first one is used on export.
	CollectionKeys []string
	// IDPrefix marks identifier tokens in unlabelled markdown blocks.
	IDPrefix string
	// Fields are in export order; the first field is the identifier.
	Fields []Field
}

// Record is one canonical record keyed by field name.
type Record map[string]string

// ID returns the identifier field.
func (s *Schema) ID() Field {
	return s.Fields[0]
}

// Field looks a field up by canonical name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// CollectionKey is the envelope key written on export.
func (s *Schema) CollectionKey() string {
	if len(s.CollectionKeys) == 0 {
		return "records"
	}
	return s.CollectionKeys[0]
}

// Columns returns the fields worth exporting for records: every required
// field plus optional fields present in at least one record.
func (s *Schema) Columns(records []Record) []Field {
	var cols []Field
	for _, f := range s.Fields {
		if f.Required {
			cols = append(cols, f)
			continue
		}
		for _, r := range records {
			if _, ok := r[f.Name]; ok {
				cols = append(cols, f)
				break
			}
		}
	}
	return cols
}

// Vocabulary is the markdown layout of the schema.
func (s *Schema) Vocabulary() segment.Vocabulary {
	id := s.ID()
	v := segment.Vocabulary{
		Heading:  segment.DefaultHeading,
		ID:       segment.Term{Field: id.Name, Labels: labels(id), Line: true},
		IDPrefix: s.IDPrefix,
	}
	for _, f := range s.Fields[1:] {
		v.Terms = append(v.Terms, segment.Term{
			Field:    f.Name,
			Labels:   labels(f),
			Sequence: f.Kind == Sequence,
			Line:     f.Line,
		})
	}
	return v
}

// Parser builds a segmenting parser for the schema.
func (s *Schema) Parser(mode segment.ReflowMode) *segment.Parser {
	return segment.New(s.Vocabulary(), mode)
}

// labels are the markdown spellings of a field: the display label and any
// non-ASCII alias. ASCII aliases are JSON keys only.
func labels(f Field) []string {
	var out []string
	if f.Label != "" {
		out = append(out, f.Label)
	}
	for _, a := range f.Aliases {
		if !isASCII(a) {
			out = append(out, a)
		}
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// NormalizeKey folds case and treats "-", " " and "_" alike.
func NormalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("-", "_", " ", "_").Replace(k)
}

// TestCase is the schema of generated test cases.
var TestCase = &Schema{
	Name:           "testcase",
	Title:          "测试用例",
	CollectionKeys: []string{"test_cases", "testcases", "cases", "records", "items", "data"},
	IDPrefix:       "TC",
	Fields: []Field{
		{Name: "id", Label: "用例ID", Aliases: []string{"case_id", "test_case_id", "testcase_id", "tc_id", "用例编号"}, Required: true, Line: true},
		{Name: "title", Label: "标题", Aliases: []string{"case_name", "test_case_name", "name", "用例标题"}, Required: true, Line: true},
		{Name: "level", Label: "测试级别", Aliases: []string{"test_level"}, Required: true, Line: true},
		{Name: "priority", Label: "优先级", Aliases: []string{"test_priority", "测试优先级"}, Required: true, Line: true},
		{Name: "precondition", Label: "前置条件", Aliases: []string{"preconditions", "pre_condition"}, Required: true},
		{Name: "steps", Label: "测试步骤", Aliases: []string{"test_steps", "step", "操作步骤"}, Kind: Sequence, Required: true},
		{Name: "expected_result", Label: "预期结果", Aliases: []string{"expected_results", "expected", "expected_outcome"}, Kind: Sequence, Required: true},
		{Name: "related_requirement", Label: "关联需求", Aliases: []string{"requirement_id", "requirement"}, Line: true},
		{Name: "test_type", Label: "测试类型", Aliases: []string{"type"}, Line: true},
	},
}

// Requirement is the schema of analysed business requirements.
var Requirement = &Schema{
	Name:           "requirement",
	Title:          "业务需求",
	CollectionKeys: []string{"requirements", "business_requirements", "records", "items", "data"},
	Fields: []Field{
		{Name: "requirement_id", Label: "需求编号", Aliases: []string{"id", "req_id", "需求ID"}, Required: true, Line: true},
		{Name: "requirement_name", Label: "需求名称", Aliases: []string{"name", "title"}, Required: true, Line: true},
		{Name: "requirement_type", Label: "需求类型", Aliases: []string{"type", "需求类别"}, Required: true, Line: true},
		{Name: "parent_requirement", Label: "父需求", Aliases: []string{"parent", "parent_id"}, Line: true},
		{Name: "module", Label: "所属模块", Aliases: []string{"module_name"}, Required: true, Line: true},
		{Name: "requirement_level", Label: "需求层级", Aliases: []string{"level"}, Required: true, Line: true},
		{Name: "reviewer", Label: "评审人", Required: true, Line: true},
		{Name: "estimated_hours", Label: "预计工时", Aliases: []string{"hours", "estimate", "预估工时"}, Kind: Integer, Required: true, Line: true},
		{Name: "description", Label: "需求描述", Aliases: []string{"desc"}, Required: true},
		{Name: "acceptance_criteria", Label: "验收标准", Aliases: []string{"acceptance", "criteria"}, Kind: Sequence, Required: true},
	},
}

// Lookup returns a built-in schema by name.
func Lookup(name string) (*Schema, bool) {
	switch NormalizeKey(name) {
	case "testcase", "testcases", "test_case", "test_cases", "case", "cases":
		return TestCase, true
	case "requirement", "requirements", "req":
		return Requirement, true
	}
	return nil, false
}
