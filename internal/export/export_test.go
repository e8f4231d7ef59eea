package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/joelkehle/casegen/internal/consistency"
	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
)

func sampleCollection() recovery.Collection {
	return recovery.Collection{
		Schema: schema.TestCase,
		Records: []schema.Record{
			{"id": "TC-LOG-001", "title": "登录成功", "level": "系统测试", "priority": "P0", "precondition": "用户已注册", "steps": "1. 打开登录页\n2. 输入账号密码\n3. 点击登录", "expected_result": "1. 跳转首页"},
			{"id": "TC-LOG-002", "title": "密码错误", "level": "系统测试", "priority": "P1", "precondition": "- 用户已注册\n- 密码错误", "steps": "1. 输入错误密码", "expected_result": "1. 提示错误\n2. 停留在登录页", "test_type": "异常测试"},
		},
		Expected: 3,
		Source:   "json-fenced",
		Warnings: []consistency.Warning{{Code: consistency.CountMismatch, Message: "生成了 2 条测试用例，但要求是 3 条。"}},
	}
}

func TestRows(t *testing.T) {
	rows := Rows(sampleCollection())
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	wantHeader := []string{"用例ID", "标题", "测试级别", "优先级", "前置条件", "测试步骤", "预期结果", "测试类型"}
	if diff := cmp.Diff(wantHeader, rows[0]); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	if rows[1][7] != "" || rows[2][7] != "异常测试" {
		t.Fatalf("optional column values: %q %q", rows[1][7], rows[2][7])
	}
}

func TestMarkdownParsesBackIntoSameRecords(t *testing.T) {
	c := sampleCollection()
	md := Markdown(c)
	if !strings.Contains(md, "## 用例ID：TC-LOG-001\n") || !strings.Contains(md, "**测试步骤**：\n1. 打开登录页\n") {
		t.Fatalf("unexpected markdown:\n%s", md)
	}
	if !strings.Contains(md, "> ⚠️ **警告**: 生成了 2 条测试用例，但要求是 3 条。") {
		t.Fatalf("warning missing:\n%s", md)
	}

	p, err := recovery.New(schema.TestCase, recovery.Options{})
	if err != nil {
		t.Fatal(err)
	}
	back := p.Recover(md, 2)
	if back.Source != recovery.TierSegmented {
		t.Fatalf("source = %q", back.Source)
	}
	if diff := cmp.Diff(c.Records, back.Records); diff != "" {
		t.Fatalf("markdown round trip (-want +got):\n%s", diff)
	}
}

func TestJSONIsOrderedAndParsesBack(t *testing.T) {
	c := sampleCollection()
	out, err := JSON(c)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "{\n  \"test_cases\": [") {
		t.Fatalf("unexpected envelope: %s", s)
	}
	if strings.Index(s, `"id"`) > strings.Index(s, `"title"`) || strings.Index(s, `"steps"`) > strings.Index(s, `"expected_result"`) {
		t.Fatalf("fields out of schema order: %s", s)
	}
	if strings.Contains(s, `\u003c`) {
		t.Fatalf("html must not be escaped: %s", s)
	}

	p, err := recovery.New(schema.TestCase, recovery.Options{})
	if err != nil {
		t.Fatal(err)
	}
	back := p.Recover(s, 2)
	if diff := cmp.Diff(c.Records, back.Records); diff != "" {
		t.Fatalf("json round trip (-want +got):\n%s", diff)
	}
}

func TestJSONIntegerFields(t *testing.T) {
	c := recovery.Collection{Schema: schema.Requirement, Records: []schema.Record{
		{"requirement_id": "REQ-1", "estimated_hours": "16"},
		{"requirement_id": "REQ-2", "estimated_hours": schema.Sentinel},
	}}
	out, err := JSON(c)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Requirements []map[string]any `json:"requirements"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("invalid json %s: %v", out, err)
	}
	if doc.Requirements[0]["estimated_hours"] != float64(16) {
		t.Fatalf("hours = %#v", doc.Requirements[0]["estimated_hours"])
	}
	if doc.Requirements[1]["estimated_hours"] != schema.Sentinel {
		t.Fatalf("sentinel hours = %#v", doc.Requirements[1]["estimated_hours"])
	}
}

func TestJSONEmpty(t *testing.T) {
	out, err := JSON(recovery.Collection{Schema: schema.TestCase})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "{\n  \"test_cases\": []\n}\n" {
		t.Fatalf("unexpected empty document %q", out)
	}
}

func TestXLSX(t *testing.T) {
	c := sampleCollection()
	out, err := XLSX(c)
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if v, _ := f.GetCellValue("测试用例", "A1"); v != "用例ID" {
		t.Fatalf("A1 = %q", v)
	}
	if v, _ := f.GetCellValue("测试用例", "F2"); v != "1. 打开登录页\n2. 输入账号密码\n3. 点击登录" {
		t.Fatalf("F2 = %q", v)
	}
	if h, _ := f.GetRowHeight("测试用例", 2); h != 45 {
		t.Fatalf("row 2 height = %v", h)
	}
	if h, _ := f.GetRowHeight("测试用例", 3); h != 30 {
		t.Fatalf("row 3 height = %v", h)
	}
	if v, _ := f.GetCellValue(warningSheet, "A1"); !strings.Contains(v, "要求是 3 条") {
		t.Fatalf("warning sheet A1 = %q", v)
	}
}

func TestColumnWidth(t *testing.T) {
	rows := [][]string{{"标题"}, {"abc\n a much longer second line that is ignored"}, {strings.Repeat("宽", 40)}}
	if got := columnWidth(rows[:2], 0); got != 6 {
		t.Fatalf("width = %v, want 6", got)
	}
	if got := columnWidth(rows, 0); got != maxColumnWidth {
		t.Fatalf("width = %v, want cap", got)
	}
}

func TestHTML(t *testing.T) {
	doc, err := HTML(sampleCollection())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<title>测试用例</title>", "<h2>用例ID：TC-LOG-001</h2>", "<blockquote>", "<strong>标题</strong>"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("html missing %q:\n%s", want, doc)
		}
	}
}

type fakeRenderer struct{ got string }

func (f *fakeRenderer) Render(_ context.Context, md string) ([]byte, error) {
	f.got = md
	return []byte("%PDF-1.4"), nil
}

func TestEncode(t *testing.T) {
	c := sampleCollection()
	r := &fakeRenderer{}
	out, err := Encode(context.Background(), FormatPDF, c, r)
	if err != nil || string(out) != "%PDF-1.4" || !strings.Contains(r.got, "## 用例ID") {
		t.Fatalf("pdf encode: %q %v", out, err)
	}
	if _, err := Encode(context.Background(), FormatPDF, c, nil); err == nil {
		t.Fatal("expected error without renderer")
	}
	if _, err := Encode(context.Background(), FormatJSON, recovery.Collection{}, nil); err == nil {
		t.Fatal("expected error without schema")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"Excel": FormatXLSX, "md": FormatMarkdown, "json": FormatJSON, " HTML ": FormatHTML, "pdf": FormatPDF} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("docx"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2025, 3, 19, 11, 12, 0, 0, time.UTC)
	if got := Filename(sampleCollection(), FormatMarkdown, now); got != "测试用例_202503191112.md" {
		t.Fatalf("Filename = %q", got)
	}
}
