// Package fieldmap reads the logical transcript fields (time, duration,
// speaker, text) out of transcript items of arbitrary shape.
//
// Each field is resolved either by trying an ordered list of candidate keys
// or, when configured, by a jq expression evaluated against
// {"mapping": item}. A configured expression replaces the key search for
// its field. When neither yields a value the field falls back to its
// declared default.
package fieldmap

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/spf13/cast"
)

// Item is one raw transcript entry.
type Item = map[string]any

// Field is a logical transcript field.
type Field int

const (
	Time Field = iota
	Duration
	Speaker
	Text
)

// Fields lists every logical field in resolution order.
var Fields = []Field{Time, Duration, Speaker, Text}

func (f Field) String() string {
	switch f {
	case Time:
		return "time"
	case Duration:
		return "duration"
	case Speaker:
		return "speaker"
	case Text:
		return "text"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

const UnknownSpeaker = "unknown"

// ErrFieldMissing is returned alongside the default value when a field is
// absent under every candidate key and no expression produced a value. It
// is never fatal.
var ErrFieldMissing = errors.New("transcript field missing")

// Default returns the declared default for f.
func (f Field) Default() any {
	switch f {
	case Time, Duration:
		return 0.0
	case Speaker:
		return UnknownSpeaker
	}
	return ""
}

// DefaultKeys returns the candidate keys tried for f when no expression is
// set.
func (f Field) DefaultKeys() []string {
	switch f {
	case Time:
		return []string{"time", "start_time"}
	case Duration:
		return []string{"duration"}
	case Speaker:
		return []string{"speaker"}
	case Text:
		return []string{"text"}
	}
	return nil
}

// Rule resolves a single field.
type Rule struct {
	Keys []string
	Expr *Expr
}

// Mapping holds one rule per logical field. The zero value is not usable;
// build one with New.
type Mapping struct {
	rules [4]Rule
}

// New returns a mapping using the default candidate keys for every field.
func New() *Mapping {
	m := &Mapping{}
	for _, f := range Fields {
		m.rules[f] = Rule{Keys: f.DefaultKeys()}
	}
	return m
}

// Expressions maps a field to a jq expression override.
type Expressions map[Field]string

// FromExpressions builds a mapping with the given overrides. Empty
// expressions keep the candidate key search.
func FromExpressions(exprs Expressions) (*Mapping, error) {
	m := New()
	for f, src := range exprs {
		if err := m.SetExpr(f, src); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetExpr installs an override for f. An empty src clears it.
func (m *Mapping) SetExpr(f Field, src string) error {
	if f < Time || f > Text {
		return fmt.Errorf("unknown field %d", int(f))
	}
	if src == "" {
		m.rules[f].Expr = nil
		return nil
	}
	expr, err := Compile(src)
	if err != nil {
		return fmt.Errorf("invalid %s expression: %w", f, err)
	}
	m.rules[f].Expr = expr
	return nil
}

// Lookup resolves f on item. It returns the field default together with
// ErrFieldMissing when no value was found.
func (m *Mapping) Lookup(item Item, f Field) (any, error) {
	rule := m.rules[f]

	if rule.Expr != nil {
		v, err := rule.Expr.Eval(item)
		if err != nil {
			slog.Debug("Field expression failed, using default",
				"field", f,
				"expr", rule.Expr.Source(),
				"error", err)
			return f.Default(), fmt.Errorf("%w: %s: %v", ErrFieldMissing, f, err)
		}
		if v == nil {
			return f.Default(), fmt.Errorf("%w: %s: expression produced no value", ErrFieldMissing, f)
		}
		return v, nil
	}

	for _, key := range rule.Keys {
		if v, ok := item[key]; ok && v != nil {
			return v, nil
		}
	}
	return f.Default(), fmt.Errorf("%w: %s", ErrFieldMissing, f)
}

// Float resolves a numeric field. Values that cannot be read as a finite
// number yield the default.
func (m *Mapping) Float(item Item, f Field) (float64, error) {
	v, err := m.Lookup(item, f)
	n, cerr := cast.ToFloat64E(v)
	if cerr != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return cast.ToFloat64(f.Default()), fmt.Errorf("%w: %s is not a number: %v", ErrFieldMissing, f, v)
	}
	return n, err
}

// String resolves a text field.
func (m *Mapping) String(item Item, f Field) (string, error) {
	v, err := m.Lookup(item, f)
	s, cerr := cast.ToStringE(v)
	if cerr != nil {
		return cast.ToString(f.Default()), fmt.Errorf("%w: %s is not text: %v", ErrFieldMissing, f, v)
	}
	return s, err
}

// Values is one item with every field resolved.
type Values struct {
	Time     float64
	Duration float64
	Speaker  string
	Text     string

	// Missing lists the fields that fell back to their default.
	Missing []Field
}

// Map resolves every field of item.
func (m *Mapping) Map(item Item) Values {
	var v Values
	var err error
	missing := func(f Field, err error) {
		if err != nil {
			v.Missing = append(v.Missing, f)
		}
	}

	v.Time, err = m.Float(item, Time)
	missing(Time, err)
	v.Duration, err = m.Float(item, Duration)
	missing(Duration, err)
	v.Speaker, err = m.String(item, Speaker)
	missing(Speaker, err)
	v.Text, err = m.String(item, Text)
	missing(Text, err)
	return v
}
