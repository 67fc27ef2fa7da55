package fieldmap

import (
	"errors"
	"testing"
)

func TestDefaultKeys(t *testing.T) {
	m := New()
	item := Item{"start_time": 12, "duration": 4, "text": "hi"}

	v := m.Map(item)
	if v.Time != 12 {
		t.Errorf("Time = %v; want 12 via start_time", v.Time)
	}
	if v.Duration != 4 {
		t.Errorf("Duration = %v; want 4", v.Duration)
	}
	if v.Speaker != UnknownSpeaker {
		t.Errorf("Speaker = %q; want %q", v.Speaker, UnknownSpeaker)
	}
	if v.Text != "hi" {
		t.Errorf("Text = %q; want hi", v.Text)
	}
	if len(v.Missing) != 1 || v.Missing[0] != Speaker {
		t.Errorf("Missing = %v; want [speaker]", v.Missing)
	}
}

func TestCandidateKeyOrder(t *testing.T) {
	m := New()

	got, err := m.Lookup(Item{"time": 3, "start_time": 9}, Time)
	if err != nil || got != 3 {
		t.Errorf("Lookup = %v, %v; want 3 from first key", got, err)
	}

	got, err = m.Lookup(Item{"time": nil, "start_time": 9}, Time)
	if err != nil || got != 9 {
		t.Errorf("Lookup = %v, %v; undefined value must fall through to start_time", got, err)
	}
}

func TestLookupMissing(t *testing.T) {
	m := New()
	for _, f := range Fields {
		v, err := m.Lookup(Item{}, f)
		if !errors.Is(err, ErrFieldMissing) {
			t.Errorf("%s: error = %v; want ErrFieldMissing", f, err)
		}
		if v != f.Default() {
			t.Errorf("%s: value = %v; want default %v", f, v, f.Default())
		}
	}
}

func TestExpressionOverride(t *testing.T) {
	m, err := FromExpressions(Expressions{
		Time:    ".mapping.offset_ms / 1000",
		Speaker: `if $mapping.role == "A" then "agent" else "customer" end`,
		Text:    ".mapping.words | join(\" \")",
	})
	if err != nil {
		t.Fatalf("FromExpressions error: %v", err)
	}

	item := Item{
		"time":      99,
		"offset_ms": 1500,
		"role":      "A",
		"words":     []any{"hello", "there"},
		"speaker":   "ignored",
	}
	v := m.Map(item)
	if v.Time != 1.5 {
		t.Errorf("Time = %v; want 1.5 (override replaces key search)", v.Time)
	}
	if v.Speaker != "agent" {
		t.Errorf("Speaker = %q; want agent", v.Speaker)
	}
	if v.Text != "hello there" {
		t.Errorf("Text = %q", v.Text)
	}
}

func TestExpressionFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"null result", ".mapping.nope"},
		{"no output", "empty"},
		{"runtime error", ".mapping.text | tonumber"},
		{"error builtin", `error("bad")`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := FromExpressions(Expressions{Duration: tc.expr})
			if err != nil {
				t.Fatalf("FromExpressions error: %v", err)
			}
			n, err := m.Float(Item{"duration": 7, "text": "abc"}, Duration)
			if n != 0 {
				t.Errorf("Duration = %v; want default 0", n)
			}
			if !errors.Is(err, ErrFieldMissing) {
				t.Errorf("error = %v; want ErrFieldMissing", err)
			}
		})
	}
}

func TestExpressionCannotReadEnvironment(t *testing.T) {
	t.Setenv("CALLPLAY_SECRET", "s3cret")
	m, err := FromExpressions(Expressions{Text: "$ENV.CALLPLAY_SECRET"})
	if err != nil {
		t.Fatalf("FromExpressions error: %v", err)
	}
	s, _ := m.String(Item{}, Text)
	if s == "s3cret" {
		t.Error("expression read the process environment")
	}
}

func TestInvalidExpression(t *testing.T) {
	if _, err := FromExpressions(Expressions{Time: ".mapping["}); err == nil {
		t.Error("expected parse error")
	}
	m := New()
	if err := m.SetExpr(Field(9), ".x"); err == nil {
		t.Error("expected error for unknown field")
	}
	if err := m.SetExpr(Time, ""); err != nil {
		t.Errorf("clearing an expression failed: %v", err)
	}
}

func TestCoercion(t *testing.T) {
	m := New()

	n, err := m.Float(Item{"time": "2.5"}, Time)
	if err != nil || n != 2.5 {
		t.Errorf("Float(\"2.5\") = %v, %v", n, err)
	}

	n, err = m.Float(Item{"time": "soon"}, Time)
	if n != 0 || !errors.Is(err, ErrFieldMissing) {
		t.Errorf("Float(\"soon\") = %v, %v", n, err)
	}

	s, err := m.String(Item{"speaker": map[string]any{"id": 1}}, Speaker)
	if s != UnknownSpeaker || !errors.Is(err, ErrFieldMissing) {
		t.Errorf("String(map) = %q, %v", s, err)
	}
}

func TestExpressionOnNonPlainItem(t *testing.T) {
	m, err := FromExpressions(Expressions{Duration: ".mapping.duration"})
	if err != nil {
		t.Fatalf("FromExpressions error: %v", err)
	}
	n, err := m.Float(Item{"duration": int64(5), "tags": map[string]string{"a": "b"}}, Duration)
	if err != nil || n != 5 {
		t.Errorf("Float = %v, %v; want 5", n, err)
	}
}
