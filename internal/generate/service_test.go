package generate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/joelkehle/casegen/internal/consistency"
	"github.com/joelkehle/casegen/internal/extract"
	"github.com/joelkehle/casegen/internal/llm"
	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
)

type scriptedGenerator struct {
	responses []string
	err       error
	prompts   []llm.Prompt
}

func (g *scriptedGenerator) Generate(_ context.Context, p llm.Prompt) (string, error) {
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return "", g.err
	}
	if len(g.prompts) > len(g.responses) {
		return "", errors.New("unexpected call")
	}
	return g.responses[len(g.prompts)-1], nil
}

type scriptedStreamer struct {
	scriptedGenerator
	fragments []string
}

func (s *scriptedStreamer) Stream(_ context.Context, p llm.Prompt, onFragment func(string)) (string, error) {
	s.prompts = append(s.prompts, p)
	for _, f := range s.fragments {
		onFragment(f)
	}
	return strings.Join(s.fragments, ""), nil
}

func newService(t *testing.T, gen llm.Generator, opts Options) *Service {
	t.Helper()
	svc, err := NewService(gen, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

const loginMarkdown = `## 用例ID：TC_LOGIN_001
**标题**：登录成功
**优先级**：高
**前置条件**：用户已注册
**测试步骤**：
1. 打开登录页
2. 输入账号密码
**预期结果**：
1. 页面打开
2. 跳转到首页

## 用例ID：TC_LOGIN_002
**标题**：密码错误
**优先级**：中
**前置条件**：用户已注册
**测试步骤**：
1. 输入错误密码
**预期结果**：
1. 提示密码错误`

func TestGenerateTestCasesMarkdown(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{loginMarkdown}}
	svc := newService(t, gen, Options{})

	res, err := svc.GenerateTestCases(context.Background(), TestCaseRequest{
		Description:      "用户登录功能",
		Level:            "集成测试",
		Count:            2,
		IncludeEdgeCases: true,
	})
	if err != nil {
		t.Fatalf("GenerateTestCases: %v", err)
	}
	if res.Collection.Source != recovery.TierSegmented || res.Attempts != 1 {
		t.Fatalf("source=%q attempts=%d", res.Collection.Source, res.Attempts)
	}
	if diff := cmp.Diff([]string{"TC_LOGIN_001", "TC_LOGIN_002"}, res.Collection.IDs()); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	for _, r := range res.Collection.Records {
		if r["level"] != "集成测试" {
			t.Fatalf("level not filled from request: %#v", r)
		}
	}
	if len(res.Collection.Warnings) != 0 {
		t.Fatalf("unexpected warnings %#v", res.Collection.Warnings)
	}
	user := gen.prompts[0].User
	for _, want := range []string{"请严格生成 2 条测试用例", "包含边界情况: 是", "包含负面测试: 否", "TC_XXX_NNN", "**测试级别**：集成测试"} {
		if !strings.Contains(user, want) {
			t.Fatalf("prompt missing %q:\n%s", want, user)
		}
	}
	if gen.prompts[0].System != testCaseSystemPrompt {
		t.Fatalf("unexpected system prompt")
	}
}

func TestGenerateTestCasesContentRetry(t *testing.T) {
	valid := `{"test_cases":[{"case_id":"TC-A-001","title":"t","priority":"P0","precondition":"p","steps":"1. a","expected_result":"1. b"}]}`
	gen := &scriptedGenerator{responses: []string{"抱歉，我无法完成。", valid}}
	svc := newService(t, gen, Options{})

	res, err := svc.GenerateTestCases(context.Background(), TestCaseRequest{Description: "d", Count: 1, Format: FormatJSON})
	if err != nil {
		t.Fatalf("GenerateTestCases: %v", err)
	}
	if res.Attempts != 2 || len(gen.prompts) != 2 {
		t.Fatalf("attempts=%d calls=%d", res.Attempts, len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[1].User, "上一次的回复中无法解析出任何测试用例") {
		t.Fatalf("retry prompt missing feedback:\n%s", gen.prompts[1].User)
	}
	if !strings.Contains(gen.prompts[0].User, "TC-XXX-NNN") {
		t.Fatalf("json prompt should use dashed ids")
	}
	if res.Collection.Source != extract.TierWhole {
		t.Fatalf("source = %q", res.Collection.Source)
	}
	if got := res.Collection.Records[0]["level"]; got != DefaultLevel {
		t.Fatalf("level = %q", got)
	}
}

func TestGenerateTestCasesRetryDisabled(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"nothing useful"}}
	svc := newService(t, gen, Options{ContentRetries: -1})

	res, err := svc.GenerateTestCases(context.Background(), TestCaseRequest{Description: "d", Count: 3})
	if err != nil {
		t.Fatalf("GenerateTestCases: %v", err)
	}
	if res.Attempts != 1 || res.Collection.Source != recovery.TierNone || !res.Collection.Empty() {
		t.Fatalf("unexpected result %#v", res)
	}
	if !strings.Contains(res.Annotated(), "⚠️") {
		t.Fatalf("annotated output should carry the empty warning: %q", res.Annotated())
	}
}

func TestGenerateTestCasesUpstreamError(t *testing.T) {
	cause := &llm.StatusError{StatusCode: 503}
	gen := &scriptedGenerator{err: cause}
	svc := newService(t, gen, Options{})

	_, err := svc.GenerateTestCases(context.Background(), TestCaseRequest{Description: "d"})
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Stage != "generate_test_cases" {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	var se *llm.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("cause should unwrap, got %v", err)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("upstream failures must not trigger content retries, calls=%d", len(gen.prompts))
	}
}

func TestGenerateTestCasesInvalidRequest(t *testing.T) {
	gen := &scriptedGenerator{}
	svc := newService(t, gen, Options{})
	for _, req := range []TestCaseRequest{
		{Description: "  "},
		{Description: "d", Count: MaxCount + 1},
		{Description: "d", Count: -1},
		{Description: "d", Format: "xml"},
	} {
		if _, err := svc.GenerateTestCases(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("request %+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator should not be called")
	}
}

func TestGenerateTestCasesStreamsProgress(t *testing.T) {
	gen := &scriptedStreamer{fragments: []string{loginMarkdown[:40], loginMarkdown[40:]}}
	svc := newService(t, gen, Options{})

	var got []string
	res, err := svc.GenerateTestCases(context.Background(), TestCaseRequest{
		Description: "d",
		Count:       2,
		Progress:    func(f string) { got = append(got, f) },
	})
	if err != nil {
		t.Fatalf("GenerateTestCases: %v", err)
	}
	if len(got) != 2 || res.Raw != loginMarkdown || len(res.Collection.Records) != 2 {
		t.Fatalf("fragments=%d records=%d", len(got), len(res.Collection.Records))
	}
}

func TestAnalyzeRequirements(t *testing.T) {
	reqs := `{"requirements":[{"requirement_id":"LOGIN-F-101","requirement_name":"用户登录","requirement_type":"功能需求","module":"账户","requirement_level":"BR","reviewer":"张三","estimated_hours":"16小时","description":"作为用户，我希望登录","acceptance_criteria":"能够登录"}]}`
	gen := &scriptedGenerator{responses: []string{"# 分析报告\n登录需求", reqs}}
	svc := newService(t, gen, Options{})

	doc := strings.Repeat("需", MaxDocumentRunes+100)
	out, err := svc.AnalyzeRequirements(context.Background(), doc)
	if err != nil {
		t.Fatalf("AnalyzeRequirements: %v", err)
	}
	if !out.Truncated {
		t.Fatal("expected truncation")
	}
	if n := utf8.RuneCountInString(gen.prompts[0].User); n != MaxDocumentRunes {
		t.Fatalf("document runes sent = %d", n)
	}
	if !strings.Contains(gen.prompts[1].User, "登录需求") {
		t.Fatalf("second call should carry the report")
	}
	recs := out.Requirements.Collection.Records
	if len(recs) != 1 || recs[0]["estimated_hours"] != "16" || recs[0]["requirement_id"] != "LOGIN-F-101" {
		t.Fatalf("unexpected requirements %#v", recs)
	}
	if _, ok := recs[0]["parent_requirement"]; ok {
		t.Fatalf("absent optional field should be omitted")
	}
}

func TestAnalyzeRequirementsEmptyDocument(t *testing.T) {
	svc := newService(t, &scriptedGenerator{}, Options{})
	if _, err := svc.AnalyzeRequirements(context.Background(), "\n "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

var sampleRequirements = []schema.Record{
	{"requirement_id": "REQ-1", "requirement_name": "登录"},
	{"requirement_id": "REQ-2", "requirement_name": "注销"},
}

func TestGenerateFromRequirementsReconstructs(t *testing.T) {
	n := 0
	prev := newCaseID
	newCaseID = func() string {
		n++
		return []string{"TC-AAA", "TC-BBB"}[n-1]
	}
	defer func() { newCaseID = prev }()

	gen := &scriptedGenerator{responses: []string{"无法生成"}}
	svc := newService(t, gen, Options{})
	res, err := svc.GenerateFromRequirements(context.Background(), sampleRequirements)
	if err != nil {
		t.Fatalf("GenerateFromRequirements: %v", err)
	}
	if res.Collection.Source != recovery.TierReconstructed || res.Attempts != 1 {
		t.Fatalf("source=%q attempts=%d", res.Collection.Source, res.Attempts)
	}
	want := []schema.Record{
		{"id": "TC-AAA", "title": "测试 登录", "level": DefaultLevel, "priority": "中", "precondition": "系统环境已准备好",
			"steps": "1. 准备测试数据\n2. 执行测试流程\n3. 验证结果", "expected_result": "结果符合需求验收标准",
			"related_requirement": "REQ-1", "test_type": "功能测试"},
		{"id": "TC-BBB", "title": "测试 注销", "level": DefaultLevel, "priority": "中", "precondition": "系统环境已准备好",
			"steps": "1. 准备测试数据\n2. 执行测试流程\n3. 验证结果", "expected_result": "结果符合需求验收标准",
			"related_requirement": "REQ-2", "test_type": "功能测试"},
	}
	if diff := cmp.Diff(want, res.Collection.Records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(gen.prompts[0].User, `"requirement_id": "REQ-2"`) {
		t.Fatalf("prompt should carry the requirements:\n%s", gen.prompts[0].User)
	}
}

func TestGenerateFromRequirementsCoverageWarning(t *testing.T) {
	resp := "```json\n" + `{"test_cases":[{"case_id":"TC-001","case_name":"登录成功","related_requirement":"REQ-1","priority":"高","preconditions":"已注册","steps":["打开页面","登录"],"expected_results":["登录成功"],"test_type":"功能测试"}]}` + "\n```"
	gen := &scriptedGenerator{responses: []string{resp}}
	svc := newService(t, gen, Options{})
	res, err := svc.GenerateFromRequirements(context.Background(), sampleRequirements)
	if err != nil {
		t.Fatalf("GenerateFromRequirements: %v", err)
	}
	if res.Collection.Source != extract.TierFenced {
		t.Fatalf("source = %q", res.Collection.Source)
	}
	if got := res.Collection.Records[0]["steps"]; got != "1. 打开页面\n2. 登录" {
		t.Fatalf("steps = %q", got)
	}
	ws := res.Collection.Warnings
	if len(ws) != 1 || ws[0].Code != consistency.Uncovered || !strings.Contains(ws[0].Message, "REQ-2") {
		t.Fatalf("unexpected warnings %#v", ws)
	}
}

func TestGenerateFromRequirementsEmpty(t *testing.T) {
	svc := newService(t, &scriptedGenerator{}, Options{})
	if _, err := svc.GenerateFromRequirements(context.Background(), nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatMarkdown, "MD": FormatMarkdown, "json": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
