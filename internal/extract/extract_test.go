package extract

import (
	"encoding/json"
	"testing"
)

func TestFenced(t *testing.T) {
	v, ok := Fenced("Here you go:\n```json\n{\"records\":[{\"id\":\"TC-1\"}]}\n```\nthanks")
	if !ok {
		t.Fatal("expected fenced payload")
	}
	if _, isMap := v.(map[string]any); !isMap {
		t.Fatalf("expected object, got %T", v)
	}

	if _, ok := Fenced("```json\n{\"a\": 1,}\n```"); ok {
		t.Fatal("invalid fenced content must be a miss")
	}
	if _, ok := Fenced("```json\n{\"a\": 1}"); ok {
		t.Fatal("unterminated fence must be a miss")
	}
	if _, ok := Fenced("{\"a\": 1}"); ok {
		t.Fatal("no fence must be a miss")
	}
}

func TestWholeRejectsScalarsAndTrailingData(t *testing.T) {
	if _, ok := Whole("  [1, 2]  "); !ok {
		t.Fatal("expected array")
	}
	for _, in := range []string{`"text"`, `42`, `{"a":1}}`, `{"a":1} tail`, ``} {
		if _, ok := Whole(in); ok {
			t.Fatalf("Whole(%q) should miss", in)
		}
	}
}

func TestParseKeepsNumbers(t *testing.T) {
	v, ok := Parse(`{"n": 12345678901234567}`)
	if !ok {
		t.Fatal("expected object")
	}
	if n := v.(map[string]any)["n"]; n != json.Number("12345678901234567") {
		t.Fatalf("n = %#v", n)
	}
}

func TestLoose(t *testing.T) {
	v, ok := Loose("Sure! {\"test_cases\": []} Let me know.")
	if !ok {
		t.Fatal("expected object span")
	}
	if _, isMap := v.(map[string]any); !isMap {
		t.Fatalf("expected object, got %T", v)
	}

	v, ok = Loose("Result: [{\"id\": \"a\"}, {\"id\": \"b\"}] done")
	if !ok {
		t.Fatal("expected array span")
	}
	if arr, _ := v.([]any); len(arr) != 2 {
		t.Fatalf("expected two items, got %#v", v)
	}

	if _, ok := Loose("} reversed {"); ok {
		t.Fatal("closer before opener must miss")
	}
}

func TestBalancedReturnsFirstParsingCandidate(t *testing.T) {
	in := `noise {not json} then {"a": "x } y"} and {"b": 2}`
	v, ok := Balanced(in)
	if !ok {
		t.Fatal("expected a candidate")
	}
	m := v.(map[string]any)
	if m["a"] != "x } y" {
		t.Fatalf("unexpected candidate %#v", m)
	}
	if _, ok := Loose(in); ok {
		t.Fatal("loose span over both objects should not parse")
	}
}

func TestRepaired(t *testing.T) {
	for _, in := range []string{
		"```json\n{\"records\": [{\"id\": \"TC-1\",},]}\n```",
		"```json\n{\"records\": [{\"id\": \"TC-1\"}",
		"prefix {'records': [{'id': 'TC-1'}]}",
	} {
		v, ok := Repaired(in)
		if !ok {
			t.Fatalf("Repaired(%q) missed", in)
		}
		m, isMap := v.(map[string]any)
		if !isMap {
			t.Fatalf("Repaired(%q) = %T", in, v)
		}
		recs, _ := m["records"].([]any)
		if len(recs) != 1 {
			t.Fatalf("Repaired(%q) records = %#v", in, m["records"])
		}
	}
	if _, ok := Repaired("no brackets here"); ok {
		t.Fatal("plain text must miss")
	}
}

func TestFirstReportsTier(t *testing.T) {
	for _, tc := range []struct {
		in   string
		tier string
	}{
		{in: "```json\n{\"a\":1}\n```", tier: TierFenced},
		{in: "{\"a\":1}", tier: TierWhole},
		{in: "x {\"a\":1} y", tier: TierLoose},
		{in: "x {\"a\":1} y {\"b\":2}", tier: TierBalanced},
		{in: "x {\"a\":1,}", tier: TierRepaired},
	} {
		_, tier, ok := First(tc.in)
		if !ok || tier != tc.tier {
			t.Fatalf("First(%q) tier = %q ok=%v, want %q", tc.in, tier, ok, tc.tier)
		}
	}
	if _, _, ok := First("nothing to see"); ok {
		t.Fatal("expected a miss")
	}
}
