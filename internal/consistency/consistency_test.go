package consistency

import (
	"strings"
	"testing"

	"github.com/joelkehle/casegen/internal/schema"
)

func records(ids ...string) []schema.Record {
	out := make([]schema.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, schema.Record{"id": id, "title": "t-" + id})
	}
	return out
}

func TestCheckCountMismatch(t *testing.T) {
	warnings := Check(schema.TestCase, records("a", "b", "c"), 5)
	if len(warnings) != 1 || warnings[0].Code != CountMismatch {
		t.Fatalf("unexpected warnings: %#v", warnings)
	}
	if msg := warnings[0].Message; msg != "生成了 3 条测试用例，但要求是 5 条。" {
		t.Fatalf("message = %q", msg)
	}
}

func TestCheckCountDisabled(t *testing.T) {
	if w := Check(schema.TestCase, records("a"), 0); len(w) != 0 {
		t.Fatalf("expected no warnings, got %#v", w)
	}
}

func TestCheckDuplicatesKeepsRecords(t *testing.T) {
	recs := records("TC-1", "TC-2", "TC-1", "TC-1")
	warnings := Check(schema.TestCase, recs, 4)
	if len(warnings) != 1 || warnings[0].Code != DuplicateID {
		t.Fatalf("unexpected warnings: %#v", warnings)
	}
	if msg := warnings[0].Message; msg != "存在重复的用例ID：TC-1，请检查。" {
		t.Fatalf("message = %q", msg)
	}
	if len(recs) != 4 || recs[2]["id"] != "TC-1" {
		t.Fatal("records must not be modified")
	}
}

func TestDuplicatesOrder(t *testing.T) {
	got := Duplicates(schema.TestCase, records("b", "a", "a", "b", "c"))
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("Duplicates = %v", got)
	}
}

func TestAnnotate(t *testing.T) {
	if got := Annotate("body", nil); got != "body" {
		t.Fatalf("no warnings must leave text untouched: %q", got)
	}
	got := Annotate("body\n\n", []Warning{{Code: CountMismatch, Message: "m1"}, {Code: DuplicateID, Message: "m2"}})
	want := "body\n\n> ⚠️ **警告**: m1\n\n> ⚠️ **警告**: m2\n"
	if got != want {
		t.Fatalf("Annotate = %q, want %q", got, want)
	}
}
