// Package generate drives the model for the three generation flows and
// hands every complete response to the recovery pipeline.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joelkehle/casegen/internal/consistency"
	"github.com/joelkehle/casegen/internal/export"
	"github.com/joelkehle/casegen/internal/llm"
	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
	"github.com/joelkehle/casegen/internal/segment"
)

const (
	MinCount     = 1
	MaxCount     = 30
	DefaultCount = 5

	DefaultLevel    = "系统测试"
	DefaultPriority = "高"

	// MaxDocumentRunes caps the requirement document sent for analysis.
	MaxDocumentRunes = 8000
)

// ErrInvalidRequest marks caller mistakes; wrap it with the detail.
var ErrInvalidRequest = errors.New("invalid request")

// UpstreamError is a failure of the text generator. Recovery never runs on
// the partial text of a failed call.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream generation failed: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Format is the response layout requested from the model.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts "json" and "markdown"/"md"; empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown output format %q", ErrInvalidRequest, s)
}

// ProgressFn receives response fragments as they stream in.
type ProgressFn func(fragment string)

type TestCaseRequest struct {
	Description      string
	Level            string
	Priority         string
	Count            int
	IncludeEdgeCases bool
	IncludeNegative  bool
	Format           Format
	Progress         ProgressFn
}

func (r *TestCaseRequest) normalize() error {
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}
	if r.Count == 0 {
		r.Count = DefaultCount
	}
	if r.Count < MinCount || r.Count > MaxCount {
		return fmt.Errorf("%w: count must be between %d and %d, got %d", ErrInvalidRequest, MinCount, MaxCount, r.Count)
	}
	if strings.TrimSpace(r.Level) == "" {
		r.Level = DefaultLevel
	}
	if strings.TrimSpace(r.Priority) == "" {
		r.Priority = DefaultPriority
	}
	if r.Format == "" {
		r.Format = FormatMarkdown
	}
	if r.Format != FormatMarkdown && r.Format != FormatJSON {
		return fmt.Errorf("%w: unknown output format %q", ErrInvalidRequest, r.Format)
	}
	return nil
}

// Result is one recovered generation.
type Result struct {
	Collection recovery.Collection
	// Raw is the complete model response of the last attempt.
	Raw      string
	Attempts int
}

// Annotated is the raw response followed by the warnings.
func (r Result) Annotated() string {
	return consistency.Annotate(r.Raw, r.Collection.Warnings)
}

// Analysis is the outcome of AnalyzeRequirements.
type Analysis struct {
	Report       string
	Requirements Result
	Truncated    bool
}

type Options struct {
	Logger *zap.Logger
	Reflow segment.ReflowMode
	// ContentRetries re-prompts when a response yields no records. Zero
	// means one retry; negative disables it.
	ContentRetries int
	MaxTokens      int64
	Temperature    float64
	Tracer         trace.Tracer
}

type Service struct {
	gen            llm.Generator
	logger         *zap.Logger
	tracer         trace.Tracer
	reflow         segment.ReflowMode
	contentRetries int
	maxTokens      int64
	temperature    float64
	requirements   *recovery.Pipeline
}

func NewService(gen llm.Generator, opts Options) (*Service, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/joelkehle/casegen/internal/generate")
	}
	retries := opts.ContentRetries
	switch {
	case retries == 0:
		retries = 1
	case retries < 0:
		retries = 0
	}
	reqs, err := recovery.New(schema.Requirement, recovery.Options{Reflow: opts.Reflow, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Service{
		gen:            gen,
		logger:         logger,
		tracer:         tracer,
		reflow:         opts.Reflow,
		contentRetries: retries,
		maxTokens:      opts.MaxTokens,
		temperature:    opts.Temperature,
		requirements:   reqs,
	}, nil
}

// GenerateTestCases asks for req.Count test cases and recovers them. The
// requested level and priority fill fields the model left out.
func (s *Service) GenerateTestCases(ctx context.Context, req TestCaseRequest) (Result, error) {
	if err := req.normalize(); err != nil {
		return Result{}, err
	}
	ctx, span := s.tracer.Start(ctx, "generate.test_cases", trace.WithAttributes(
		attribute.Int("casegen.count", req.Count),
		attribute.String("casegen.format", string(req.Format)),
	))
	defer span.End()

	p, err := recovery.New(schema.TestCase, recovery.Options{
		Reflow:   s.reflow,
		Defaults: map[string]string{"level": req.Level, "priority": req.Priority},
		Logger:   s.logger,
	})
	if err != nil {
		return Result{}, err
	}
	res, err := s.run(ctx, "generate_test_cases", p, s.prompt(testCaseSystemPrompt, testCasePrompt(req)), req.Count, req.Progress)
	endSpan(span, res, err)
	return res, err
}

// AnalyzeRequirements turns a requirement document into an analysis report
// and a structured requirement list.
func (s *Service) AnalyzeRequirements(ctx context.Context, document string) (Analysis, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return Analysis{}, fmt.Errorf("%w: document text is required", ErrInvalidRequest)
	}
	ctx, span := s.tracer.Start(ctx, "generate.analyze_requirements")
	defer span.End()

	var out Analysis
	if utf8.RuneCountInString(document) > MaxDocumentRunes {
		document = string([]rune(document)[:MaxDocumentRunes])
		out.Truncated = true
		s.logger.Info("requirement document truncated", zap.Int("max_runes", MaxDocumentRunes))
	}
	span.SetAttributes(attribute.Bool("casegen.truncated", out.Truncated))

	report, err := s.gen.Generate(ctx, s.prompt(analysisSystemPrompt, document))
	if err != nil {
		uerr := &UpstreamError{Stage: "analyze_requirements", Err: err}
		endSpan(span, Result{}, uerr)
		return out, uerr
	}
	out.Report = strings.TrimSpace(report)

	res, err := s.run(ctx, "structure_requirements", s.requirements, s.prompt("", requirementsOutputPrompt(out.Report)), 0, nil)
	out.Requirements = res
	endSpan(span, res, err)
	return out, err
}

// GenerateFromRequirements designs test cases for analysed requirements.
// When the response cannot be parsed at all, one basic case per
// requirement is reconstructed.
func (s *Service) GenerateFromRequirements(ctx context.Context, requirements []schema.Record) (Result, error) {
	if len(requirements) == 0 {
		return Result{}, fmt.Errorf("%w: at least one requirement is required", ErrInvalidRequest)
	}
	ctx, span := s.tracer.Start(ctx, "generate.from_requirements", trace.WithAttributes(
		attribute.Int("casegen.requirements", len(requirements)),
	))
	defer span.End()

	payload, err := export.JSON(recovery.Collection{Schema: schema.Requirement, Records: requirements})
	if err != nil {
		return Result{}, err
	}
	p, err := recovery.New(schema.TestCase, recovery.Options{
		Reflow:      s.reflow,
		Defaults:    map[string]string{"priority": "中", "level": DefaultLevel},
		Reconstruct: basicCases(requirements),
		Logger:      s.logger,
	})
	if err != nil {
		return Result{}, err
	}
	res, err := s.run(ctx, "generate_from_requirements", p,
		s.prompt(fromRequirementsSystemPrompt, "请根据以下需求生成测试用例：\n\n"+string(payload)), 0, nil)
	if err == nil {
		if w, ok := coverage(requirements, res.Collection.Records); ok {
			res.Collection.Warnings = append(res.Collection.Warnings, w)
		}
	}
	endSpan(span, res, err)
	return res, err
}

func (s *Service) prompt(system, user string) llm.Prompt {
	return llm.Prompt{System: system, User: user, MaxTokens: s.maxTokens, Temperature: s.temperature}
}

// run calls the generator and recovers the response, re-prompting with
// feedback while nothing could be recovered.
func (s *Service) run(ctx context.Context, stage string, p *recovery.Pipeline, prompt llm.Prompt, expected int, progress ProgressFn) (Result, error) {
	var res Result
	user := prompt.User
	for attempt := 0; attempt <= s.contentRetries; attempt++ {
		if attempt > 0 {
			prompt.User = retryFeedback(user, p.Schema().Title)
			s.logger.Info("content retry", zap.String("stage", stage), zap.Int("attempt", attempt+1))
		}
		res.Attempts++
		text, err := llm.Complete(ctx, s.gen, prompt, progress)
		if err != nil {
			return res, &UpstreamError{Stage: stage, Err: err}
		}
		res.Raw = text
		res.Collection = s.recover(ctx, p, text, expected)
		if !res.Collection.Empty() {
			break
		}
	}
	s.logger.Info("generation complete",
		zap.String("stage", stage),
		zap.String("source", res.Collection.Source),
		zap.Int("records", len(res.Collection.Records)),
		zap.Int("attempts", res.Attempts),
		zap.Strings("warnings", consistency.Messages(res.Collection.Warnings)),
	)
	return res, nil
}

func (s *Service) recover(ctx context.Context, p *recovery.Pipeline, text string, expected int) recovery.Collection {
	_, span := s.tracer.Start(ctx, "recovery.recover")
	defer span.End()
	c := p.Recover(text, expected)
	span.SetAttributes(
		attribute.String("casegen.source", c.Source),
		attribute.Int("casegen.records", len(c.Records)),
		attribute.Int("casegen.warnings", len(c.Warnings)),
	)
	return c
}

func endSpan(span trace.Span, res Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("casegen.attempts", res.Attempts))
}

var newCaseID = func() string {
	return "TC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func basicCases(requirements []schema.Record) recovery.Reconstructor {
	return func(string) []map[string]any {
		out := make([]map[string]any, 0, len(requirements))
		for _, r := range requirements {
			out = append(out, map[string]any{
				"id":                  newCaseID(),
				"title":               "测试 " + r["requirement_name"],
				"related_requirement": r["requirement_id"],
				"priority":            "中",
				"precondition":        "系统环境已准备好",
				"steps":               "1. 准备测试数据\n2. 执行测试流程\n3. 验证结果",
				"expected_result":     "结果符合需求验收标准",
				"test_type":           "功能测试",
			})
		}
		return out
	}
}

// coverage reports requirements no test case refers to.
func coverage(requirements, cases []schema.Record) (consistency.Warning, bool) {
	if len(cases) == 0 {
		return consistency.Warning{}, false
	}
	covered := make(map[string]bool, len(cases))
	for _, c := range cases {
		covered[strings.TrimSpace(c["related_requirement"])] = true
	}
	var missing []string
	for _, r := range requirements {
		id := strings.TrimSpace(r["requirement_id"])
		if id != "" && id != schema.Sentinel && !covered[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return consistency.Warning{}, false
	}
	return consistency.Warning{
		Code:    consistency.Uncovered,
		Message: "以下需求没有对应的测试用例：" + strings.Join(missing, "、") + "。",
	}, true
}
