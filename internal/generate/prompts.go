package generate

import (
	"fmt"
	"strings"
)

const testCaseSystemPrompt = `你是一位资深的软件测试工程师，负责根据需求描述编写结构清晰、可执行的测试用例。
每个测试用例必须包含：用例ID、标题、测试级别、优先级、前置条件、测试步骤、预期结果。
测试步骤和预期结果逐条编号，一一对应。只输出测试用例本身，不要输出额外的解释。`

const analysisSystemPrompt = `你是一位资深的需求分析师。请阅读用户提供的需求文档，输出一份 Markdown 格式的需求分析报告，
包括：业务背景、用户角色、功能需求、性能需求、安全需求、其它需求，以及每项需求的验收要点。`

const fromRequirementsSystemPrompt = `你是一位专业的测试用例设计师，负责根据业务需求创建高质量的测试用例。请为每个需求设计至少一个测试用例。

测试用例应包含以下字段：
1. case_id: 测试用例ID，格式为TC-XXX (XXX为三位数字)
2. case_name: 测试用例名称
3. related_requirement: 关联的需求ID
4. priority: 优先级 (高/中/低)
5. preconditions: 前置条件
6. steps: 测试步骤 (详细描述每个步骤)
7. expected_results: 预期结果 (与测试步骤相对应)
8. test_type: 测试类型 (功能测试/性能测试/安全测试/接口测试/UI测试等)

请确保测试用例覆盖需求的核心功能点，包含正向和异常场景，并以JSON格式输出：{"test_cases": [...]}`

const jsonExample = "```json\n" + `{
  "test_cases": [
    {
      "case_id": "TC-XXX-001",
      "priority": "P0",
      "title": "测试用例标题",
      "precondition": "前置条件",
      "steps": "1. 第一步操作\n2. 第二步操作",
      "expected_result": "1. 第一步预期结果\n2. 第二步预期结果"
    }
  ]
}` + "\n```"

func markdownExample(level, priority string) string {
	return fmt.Sprintf(`## 用例ID：TC_XXX_001
**标题**：测试用例标题
**测试级别**：%s
**优先级**：%s
**前置条件**：
- 前置条件1
- 前置条件2

**测试步骤**：
1. 第一步操作
2. 第二步操作
3. 第三步操作

**预期结果**：
1. 第一步预期结果
2. 第二步预期结果
3. 第三步预期结果`, level, priority)
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

func testCasePrompt(req TestCaseRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "需求描述: %s\n\n", strings.TrimSpace(req.Description))
	fmt.Fprintf(&b, "测试级别: %s\n", req.Level)
	fmt.Fprintf(&b, "测试优先级: %s\n", req.Priority)
	fmt.Fprintf(&b, "包含边界情况: %s\n", yesNo(req.IncludeEdgeCases))
	fmt.Fprintf(&b, "包含负面测试: %s\n\n", yesNo(req.IncludeNegative))
	fmt.Fprintf(&b, "【重要】请严格生成 %d 条测试用例，不多不少。每个用例ID必须唯一。\n\n", req.Count)
	b.WriteString("请根据以上需求生成结构化的测试用例，使用以下格式：\n\n")
	idFormat := "TC_XXX_NNN"
	if req.Format == FormatJSON {
		b.WriteString("请以JSON格式输出：\n\n")
		b.WriteString(jsonExample)
		idFormat = "TC-XXX-NNN"
	} else {
		b.WriteString("请使用以下Markdown格式：\n\n")
		b.WriteString(markdownExample(req.Level, req.Priority))
	}
	fmt.Fprintf(&b, "\n\n每个测试用例ID必须唯一，格式为 %s，其中XXX是功能模块代码，NNN是数字编号。\n\n", idFormat)
	b.WriteString("【重要】对于测试步骤和预期结果，请确保每个步骤单独成行，使用数字编号（如\"1. \"，\"2. \"等）开头。\n")
	return b.String()
}

func requirementsOutputPrompt(report string) string {
	return `请根据需求分析报告进行详细的需求整理，尽量覆盖到报告中呈现的所有需求内容，每条需求信息都参考如下格式，生成合适条数的需求项。最终以 JSON 形式输出：
{"requirements": [{
  "requirement_id": "需求编号(业务缩写+需求类型+随机3位数字)",
  "requirement_name": "需求名称",
  "requirement_type": "功能需求/性能需求/安全需求/其它需求",
  "parent_requirement": "该需求的上级需求",
  "module": "所属的业务模块",
  "requirement_level": "BR",
  "reviewer": "需求助理",
  "estimated_hours": 8,
  "description": "作为一名<某类型的用户>，我希望<达成某些目的>，这样可以<开发的价值>。",
  "acceptance_criteria": "明确的验收标准"
}]}

需求分析报告：
` + report
}

// retryFeedback is appended when a response yielded no records.
func retryFeedback(prompt, title string) string {
	return prompt + fmt.Sprintf("\n\n上一次的回复中无法解析出任何%s。请严格按照上面的格式重新输出，不要省略字段标签。", title)
}
